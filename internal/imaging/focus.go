package imaging

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// FocusMethod selects how the sharpness of a slice is scored.
type FocusMethod string

const (
	// FocusVariance scores a slice by its pixel variance normalised by the
	// mean intensity. Higher variance indicates more contrast.
	FocusVariance FocusMethod = "variance"

	// FocusTenengrad scores a slice by the mean squared Sobel gradient
	// magnitude.
	FocusTenengrad FocusMethod = "tenengrad"
)

// ErrUnknownMethod is returned when a named method is not supported.
var ErrUnknownMethod = errors.New("unknown method")

// ParseFocusMethod maps a case-insensitive name onto a FocusMethod. An
// empty name selects FocusVariance.
func ParseFocusMethod(name string) (FocusMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(FocusVariance):
		return FocusVariance, nil
	case string(FocusTenengrad):
		return FocusTenengrad, nil
	}
	return "", fmt.Errorf("focus method %q: %w", name, ErrUnknownMethod)
}

// FindFocus returns the 1-based index of the best focused slice of a
// single-channel stack using the variance score.
//
// Every frame is scanned and the best slice of the last frame is returned.
// Use FindFocusPerFrame to get the result of each frame. The result is 0 if
// no slice scores above zero.
func FindFocus(s *Stack) (int, error) {
	best, err := FindFocusPerFrame(s, FocusVariance)
	if err != nil {
		return 0, err
	}
	return best[len(best)-1], nil
}

// FindFocusPerFrame returns the best focused slice (1-based) for each frame.
func FindFocusPerFrame(s *Stack, method FocusMethod) ([]int, error) {
	if s.Channels != 1 {
		return nil, ErrMultiChannel
	}
	if s.Frames < 1 || s.Slices < 1 {
		return nil, fmt.Errorf("stack %q has no planes", s.Title)
	}

	out := make([]int, s.Frames)
	for t := 1; t <= s.Frames; t++ {
		scores, err := FocusScores(s, t, method)
		if err != nil {
			return nil, err
		}
		focused := 0
		best := 0.0
		for i, score := range scores {
			if score > best {
				best = score
				focused = i + 1
			}
		}
		out[t-1] = focused
	}
	return out, nil
}

// FocusScores returns the sharpness score of every slice of frame t
// (1-based) of a single-channel stack.
func FocusScores(s *Stack, t int, method FocusMethod) ([]float64, error) {
	if s.Channels != 1 {
		return nil, ErrMultiChannel
	}
	if t < 1 || t > s.Frames {
		return nil, fmt.Errorf("frame %d outside 1..%d", t, s.Frames)
	}

	scores := make([]float64, s.Slices)
	for z := 1; z <= s.Slices; z++ {
		px, err := s.Pixels(1, z, t)
		if err != nil {
			return nil, err
		}
		switch method {
		case FocusVariance, "":
			scores[z-1] = normalizedVariance(px)
		case FocusTenengrad:
			scores[z-1] = tenengrad(px, s.Width, s.Height)
		default:
			return nil, fmt.Errorf("focus method %q: %w", method, ErrUnknownMethod)
		}
	}
	return scores, nil
}

// normalizedVariance is sum((x-mean)^2) / (n*mean). A zero mean scores 0.
func normalizedVariance(px []float64) float64 {
	if len(px) == 0 {
		return 0
	}
	mean, variance := stat.PopMeanVariance(px, nil)
	if mean == 0 {
		return 0
	}
	return variance / mean
}

var (
	sobelX = [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	sobelY = [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}
)

// tenengrad computes the mean of Gx² + Gy² over the plane. Border pixels use
// clamped (replicated) edge values.
func tenengrad(px []float64, width, height int) float64 {
	if width == 0 || height == 0 {
		return 0
	}
	var sum float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var gx, gy float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					py := clamp(y+ky, 0, height-1)
					pxi := clamp(x+kx, 0, width-1)
					v := px[py*width+pxi]
					gx += v * sobelX[ky+1][kx+1]
					gy += v * sobelY[ky+1][kx+1]
				}
			}
			sum += gx*gx + gy*gy
		}
	}
	return sum / float64(width*height)
}

// clamp constrains an integer value to the range [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
