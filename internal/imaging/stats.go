package imaging

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/imcf/image-tools/internal/results"
)

// MeanAndStdDev returns the mean and the population standard deviation of
// values.
//
// NaN entries are treated as missing and skipped. An empty slice, or one in
// which every entry is NaN, yields (0, 0).
func MeanAndStdDev(values []float64) (mean, stdDev float64) {
	clean := values
	for _, v := range values {
		if math.IsNaN(v) {
			clean = dropNaN(values)
			break
		}
	}
	if len(clean) == 0 {
		return 0, 0
	}

	mean, variance := stat.PopMeanVariance(clean, nil)
	return mean, math.Sqrt(variance)
}

func dropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Percentage returns 100 * part / whole without rounding.
func Percentage(part, whole float64) float64 {
	return 100 * part / whole
}

// PlaneStats summarises the pixel values of one plane.
type PlaneStats struct {
	Channel int     `json:"channel"`
	Slice   int     `json:"slice"`
	Frame   int     `json:"frame"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Row returns p as a results row for the named image, with the columns
// image, c, z, t, mean, std_dev, min and max.
func (p PlaneStats) Row(image string) results.Row {
	return results.NewRow(
		"image", image,
		"c", strconv.Itoa(p.Channel),
		"z", strconv.Itoa(p.Slice),
		"t", strconv.Itoa(p.Frame),
		"mean", formatFloat(p.Mean),
		"std_dev", formatFloat(p.StdDev),
		"min", formatFloat(p.Min),
		"max", formatFloat(p.Max),
	)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// StackStatistics computes per-plane statistics for every plane in the stack.
func StackStatistics(s *Stack) ([]PlaneStats, error) {
	out := make([]PlaneStats, 0, s.Size())
	for t := 1; t <= s.Frames; t++ {
		for z := 1; z <= s.Slices; z++ {
			for c := 1; c <= s.Channels; c++ {
				px, err := s.Pixels(c, z, t)
				if err != nil {
					return nil, err
				}
				mean, sd := MeanAndStdDev(px)
				min, max := minMax(px)
				out = append(out, PlaneStats{
					Channel: c,
					Slice:   z,
					Frame:   t,
					Mean:    mean,
					StdDev:  sd,
					Min:     min,
					Max:     max,
				})
			}
		}
	}
	return out, nil
}

func minMax(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
