package imaging

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// HistogramBins is the number of bins used by the auto-threshold methods.
const HistogramBins = 256

const epsilon = 2.220446049250313e-16

// Histogram is a 256-bin intensity histogram of a stack.
//
// 8-bit stacks map values directly onto bins. 16-bit stacks are binned
// linearly over their [Min, Max] value range.
type Histogram struct {
	Counts   [HistogramBins]float64
	Min      float64
	Max      float64
	BinWidth float64
}

// StackHistogram builds the histogram over every plane of the stack.
func StackHistogram(s *Stack) *Histogram {
	h := &Histogram{BinWidth: 1}
	if s.BitDepth == 8 {
		h.Max = 255
		for _, p := range s.planes {
			for i := 0; i < len(p.Pix); i += 2 {
				h.Counts[p.Pix[i+1]]++
			}
		}
		return h
	}

	first := true
	for _, p := range s.planes {
		for _, v := range planePixels(p) {
			if first || v < h.Min {
				h.Min = v
			}
			if first || v > h.Max {
				h.Max = v
			}
			first = false
		}
	}
	h.BinWidth = (h.Max - h.Min + 1) / HistogramBins
	for _, p := range s.planes {
		for _, v := range planePixels(p) {
			bin := int((v - h.Min) / h.BinWidth)
			if bin >= HistogramBins {
				bin = HistogramBins - 1
			}
			h.Counts[bin]++
		}
	}
	return h
}

// Value converts a bin index into a pixel value.
func (h *Histogram) Value(bin int) int {
	return int(math.Round(h.Min + float64(bin)*h.BinWidth))
}

type thresholdFunc func(data []float64) (int, error)

var thresholdMethods = map[string]thresholdFunc{
	"huang":        huang,
	"ij1":          ij1,
	"intermodes":   intermodes,
	"isodata":      isoData,
	"li":           li,
	"maxentropy":   maxEntropy,
	"mean":         meanThreshold,
	"minerror":     minError,
	"minimum":      minimum,
	"moments":      moments,
	"otsu":         otsu,
	"percentile":   percentile,
	"renyientropy": renyiEntropy,
	"shanbhag":     shanbhag,
	"triangle":     triangle,
	"yen":          yen,
}

// ThresholdMethods lists the supported auto-threshold method names.
func ThresholdMethods() []string {
	names := make([]string, 0, len(thresholdMethods))
	for n := range thresholdMethods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ThresholdValue computes the auto-threshold of the stack histogram using
// the named method (case-insensitive, e.g. "otsu", "isoData", "triangle").
//
// The returned value is in pixel units. Pixels above it are foreground.
func ThresholdValue(s *Stack, method string) (int, error) {
	fn, ok := thresholdMethods[strings.ToLower(method)]
	if !ok {
		return 0, fmt.Errorf("threshold method %q: %w", method, ErrUnknownMethod)
	}
	h := StackHistogram(s)
	data := make([]float64, HistogramBins)
	copy(data, h.Counts[:])

	bin, err := fn(data)
	if err != nil {
		return 0, fmt.Errorf("threshold %s: %w", method, err)
	}
	return h.Value(bin), nil
}

// ApplyThreshold returns an 8-bit single-valued mask stack in which pixels
// above level are 255 and all others 0.
func ApplyThreshold(s *Stack, level int) (*Stack, error) {
	out, err := NewStack(s.Title+"-mask", s.Width, s.Height, s.Channels, s.Slices, s.Frames, 8)
	if err != nil {
		return nil, err
	}
	out.Calibration = s.Calibration

	for i, p := range s.planes {
		px := planePixels(p)
		for j, v := range px {
			if v > float64(level) {
				px[j] = 255
			} else {
				px[j] = 0
			}
		}
		setPlanePixels(out.planes[i], px, 255)
	}
	return out, nil
}

func sum(data []float64) float64 {
	var total float64
	for _, v := range data {
		total += v
	}
	return total
}

func normalized(data []float64) []float64 {
	total := sum(data)
	out := make([]float64, len(data))
	if total == 0 {
		return out
	}
	for i, v := range data {
		out[i] = v / total
	}
	return out
}

// cumulative returns P1 (cumulative normalised histogram) and P2 = 1 - P1.
func cumulative(norm []float64) (p1, p2 []float64) {
	p1 = make([]float64, len(norm))
	p2 = make([]float64, len(norm))
	p1[0] = norm[0]
	p2[0] = 1 - p1[0]
	for i := 1; i < len(norm); i++ {
		p1[i] = p1[i-1] + norm[i]
		p2[i] = 1 - p1[i]
	}
	return p1, p2
}

func binRange(p1, p2 []float64) (first, last int) {
	for i := range p1 {
		if math.Abs(p1[i]) >= epsilon {
			first = i
			break
		}
	}
	last = len(p2) - 1
	for i := len(p2) - 1; i >= first; i-- {
		if math.Abs(p2[i]) >= epsilon {
			last = i
			break
		}
	}
	return first, last
}

func ij1(hist []float64) (int, error) {
	data := append([]float64(nil), hist...)
	maxValue := len(data) - 1
	data[0] = 0
	data[maxValue] = 0

	min := 0
	for data[min] == 0 && min < maxValue {
		min++
	}
	max := maxValue
	for data[max] == 0 && max > 0 {
		max--
	}
	if min >= max {
		return len(data) / 2, nil
	}

	moving := min
	var result float64
	for {
		var sum1, sum2, sum3, sum4 float64
		for i := min; i <= moving; i++ {
			sum1 += float64(i) * data[i]
			sum2 += data[i]
		}
		for i := moving + 1; i <= max; i++ {
			sum3 += float64(i) * data[i]
			sum4 += data[i]
		}
		result = (sum1/sum2 + sum3/sum4) / 2.0
		moving++
		if !(float64(moving+1) <= result && moving < max-1) {
			break
		}
	}
	return int(math.Round(result)), nil
}

func isoData(data []float64) (int, error) {
	g := 0
	for i := 1; i < len(data); i++ {
		if data[i] > 0 {
			g = i + 1
			break
		}
	}
	for {
		var l, totl float64
		for i := 0; i < g+1 && i < len(data); i++ {
			totl += data[i]
			l += data[i] * float64(i)
		}
		var h, toth float64
		for i := g + 1; i < len(data); i++ {
			toth += data[i]
			h += data[i] * float64(i)
		}
		if totl > 0 && toth > 0 {
			l /= totl
			h /= toth
			if g == int(math.Round((l+h)/2.0)) {
				return g, nil
			}
		}
		g++
		if g > len(data)-2 {
			return 0, fmt.Errorf("isodata did not converge")
		}
	}
}

func meanThreshold(data []float64) (int, error) {
	var tot, s float64
	for i, v := range data {
		tot += v
		s += float64(i) * v
	}
	if tot == 0 {
		return 0, nil
	}
	return int(math.Floor(s / tot)), nil
}

func otsu(data []float64) (int, error) {
	n := sum(data)
	var s float64
	for i, v := range data {
		s += float64(i) * v
	}

	var sk, n1, bcvMax float64
	kStar := 0
	for k := 0; k < len(data)-1; k++ {
		sk += float64(k) * data[k]
		n1 += data[k]
		denom := n1 * (n - n1)
		bcv := 0.0
		if denom != 0 {
			num := (n1/n)*s - sk
			bcv = num * num / denom
		}
		if bcv >= bcvMax {
			bcvMax = bcv
			kStar = k
		}
	}
	return kStar, nil
}

func triangle(hist []float64) (int, error) {
	data := append([]float64(nil), hist...)
	n := len(data)

	min := 0
	for i := 0; i < n; i++ {
		if data[i] > 0 {
			min = i
			break
		}
	}
	if min > 0 {
		min--
	}
	min2 := 0
	for i := n - 1; i > 0; i-- {
		if data[i] > 0 {
			min2 = i
			break
		}
	}
	if min2 < n-1 {
		min2++
	}
	max := 0
	dmax := 0.0
	for i := 0; i < n; i++ {
		if data[i] > dmax {
			max = i
			dmax = data[i]
		}
	}

	inverted := false
	if max-min < min2-max {
		inverted = true
		reverse(data)
		min = n - 1 - min2
		max = n - 1 - max
	}
	if min == max {
		return min, nil
	}

	nx := data[max]
	ny := float64(min - max)
	d := math.Sqrt(nx*nx + ny*ny)
	nx /= d
	ny /= d
	d = nx*float64(min) + ny*data[min]

	split := min
	splitDistance := 0.0
	for i := min + 1; i <= max; i++ {
		nd := nx*float64(i) + ny*data[i] - d
		if nd > splitDistance {
			split = i
			splitDistance = nd
		}
	}
	split--

	if inverted {
		return n - 1 - split, nil
	}
	return split, nil
}

func reverse(data []float64) {
	for l, r := 0, len(data)-1; l < r; l, r = l+1, r-1 {
		data[l], data[r] = data[r], data[l]
	}
}

func li(data []float64) (int, error) {
	total := sum(data)
	if total == 0 {
		return 0, nil
	}
	var mean float64
	for i, v := range data {
		mean += float64(i) * v
	}
	mean /= total

	const tolerance = 0.5
	newThresh := mean
	threshold := 0
	for iter := 0; iter < 1000; iter++ {
		oldThresh := newThresh
		threshold = int(oldThresh + 0.5)

		var sumBack, numBack float64
		for i := 0; i <= threshold && i < len(data); i++ {
			numBack += data[i]
			sumBack += float64(i) * data[i]
		}
		meanBack := 0.0
		if numBack != 0 {
			meanBack = sumBack / numBack
		}
		var sumObj, numObj float64
		for i := threshold + 1; i < len(data); i++ {
			numObj += data[i]
			sumObj += float64(i) * data[i]
		}
		meanObj := 0.0
		if numObj != 0 {
			meanObj = sumObj / numObj
		}
		if meanBack <= 0 || meanObj <= 0 || meanBack == meanObj {
			break
		}

		temp := (meanBack - meanObj) / (math.Log(meanBack) - math.Log(meanObj))
		if temp < -epsilon {
			newThresh = float64(int(temp - 0.5))
		} else {
			newThresh = float64(int(temp + 0.5))
		}
		if math.Abs(newThresh-oldThresh) <= tolerance {
			break
		}
	}
	return threshold, nil
}

func huang(data []float64) (int, error) {
	n := len(data)
	first := 0
	for first < n && data[first] == 0 {
		first++
	}
	last := n - 1
	for last > first && data[last] == 0 {
		last--
	}
	if first == last || first == n {
		return 0, nil
	}

	s := make([]float64, last+1)
	w := make([]float64, last+1)
	s[0] = data[0]
	for i := max(1, first); i <= last; i++ {
		s[i] = s[i-1] + data[i]
		w[i] = w[i-1] + float64(i)*data[i]
	}

	c := float64(last - first)
	smu := make([]float64, last+1-first)
	for i := 1; i < len(smu); i++ {
		mu := 1 / (1 + float64(i)/c)
		smu[i] = -mu*math.Log(mu) - (1-mu)*math.Log(1-mu)
	}

	best := 0
	bestEntropy := math.MaxFloat64
	for t := first; t <= last; t++ {
		entropy := 0.0
		mu := int(math.Round(w[t] / s[t]))
		for i := first; i <= t; i++ {
			entropy += smu[absInt(i-mu)] * data[i]
		}
		if den := s[last] - s[t]; den > 0 {
			mu = int(math.Round((w[last] - w[t]) / den))
			for i := t + 1; i <= last; i++ {
				entropy += smu[absInt(i-mu)] * data[i]
			}
		}
		if bestEntropy > entropy {
			bestEntropy = entropy
			best = t
		}
	}
	return best, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func smooth(h []float64) {
	var previous, current float64
	next := h[0]
	for i := 0; i < len(h)-1; i++ {
		previous = current
		current = next
		next = h[i+1]
		h[i] = (previous + current + next) / 3
	}
	h[len(h)-1] = (current + next) / 3
}

func bimodal(y []float64) bool {
	modes := 0
	for k := 1; k < len(y)-1; k++ {
		if y[k-1] < y[k] && y[k+1] < y[k] {
			modes++
			if modes > 2 {
				return false
			}
		}
	}
	return modes == 2
}

func smoothUntilBimodal(data []float64) ([]float64, error) {
	h := append([]float64(nil), data...)
	for iter := 0; !bimodal(h); iter++ {
		if iter > 10000 {
			return nil, fmt.Errorf("histogram did not become bimodal")
		}
		smooth(h)
	}
	return h, nil
}

func intermodes(data []float64) (int, error) {
	h, err := smoothUntilBimodal(data)
	if err != nil {
		return 0, err
	}
	tt := 0
	for i := 1; i < len(h)-1; i++ {
		if h[i-1] < h[i] && h[i+1] < h[i] {
			tt += i
		}
	}
	return tt / 2, nil
}

func minimum(data []float64) (int, error) {
	h, err := smoothUntilBimodal(data)
	if err != nil {
		return 0, err
	}
	for i := 1; i < len(h)-1; i++ {
		if h[i-1] > h[i] && h[i+1] >= h[i] {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no minimum between modes")
}

func moments(data []float64) (int, error) {
	norm := normalized(data)
	var m1, m2, m3 float64
	m0 := 1.0
	for i, h := range norm {
		fi := float64(i)
		m1 += fi * h
		m2 += fi * fi * h
		m3 += fi * fi * fi * h
	}
	cd := m0*m2 - m1*m1
	if cd == 0 {
		return 0, nil
	}
	c0 := (-m2*m2 + m1*m3) / cd
	c1 := (m0*-m3 + m2*m1) / cd
	disc := math.Sqrt(c1*c1 - 4*c0)
	z0 := 0.5 * (-c1 - disc)
	z1 := 0.5 * (-c1 + disc)
	p0 := (z1 - m1) / (z1 - z0)

	var acc float64
	for i, h := range norm {
		acc += h
		if acc > p0 {
			return i, nil
		}
	}
	return len(norm) - 1, nil
}

func percentile(data []float64) (int, error) {
	const ptile = 0.5
	total := sum(data)
	if total == 0 {
		return 0, nil
	}
	threshold := 0
	temp := 1.0
	var partial float64
	for i, v := range data {
		partial += v
		d := math.Abs(partial/total - ptile)
		if d < temp {
			temp = d
			threshold = i
		}
	}
	return threshold, nil
}

// entropyThreshold returns the bin maximising the Renyi entropy of order
// alpha; alpha == 1 is the Shannon (maximum entropy) case.
func entropyThreshold(data []float64, alpha float64) int {
	norm := normalized(data)
	p1, p2 := cumulative(norm)
	first, last := binRange(p1, p2)

	threshold := first
	maxEnt := -math.MaxFloat64
	for it := first; it <= last; it++ {
		var back, obj, tot float64
		if alpha == 1 {
			for i := 0; i <= it; i++ {
				if data[i] != 0 && p1[it] > 0 {
					back -= (norm[i] / p1[it]) * math.Log(norm[i]/p1[it])
				}
			}
			for i := it + 1; i < len(data); i++ {
				if data[i] != 0 && p2[it] > 0 {
					obj -= (norm[i] / p2[it]) * math.Log(norm[i]/p2[it])
				}
			}
			tot = back + obj
		} else {
			for i := 0; i <= it; i++ {
				if p1[it] > 0 {
					back += math.Pow(norm[i]/p1[it], alpha)
				}
			}
			for i := it + 1; i < len(data); i++ {
				if p2[it] > 0 {
					obj += math.Pow(norm[i]/p2[it], alpha)
				}
			}
			if back*obj > 0 {
				tot = math.Log(back*obj) / (1 - alpha)
			}
		}
		if tot > maxEnt {
			maxEnt = tot
			threshold = it
		}
	}
	return threshold
}

func maxEntropy(data []float64) (int, error) {
	return entropyThreshold(data, 1), nil
}

func renyiEntropy(data []float64) (int, error) {
	norm := normalized(data)
	p1, p2 := cumulative(norm)

	t := []int{
		entropyThreshold(data, 0.5),
		entropyThreshold(data, 1),
		entropyThreshold(data, 2),
	}
	sort.Ints(t)
	t1, t2, t3 := t[0], t[1], t[2]

	var beta1, beta2, beta3 float64
	if absInt(t1-t2) <= 5 {
		if absInt(t2-t3) <= 5 {
			beta1, beta2, beta3 = 1, 2, 1
		} else {
			beta1, beta2, beta3 = 0, 1, 3
		}
	} else {
		if absInt(t2-t3) <= 5 {
			beta1, beta2, beta3 = 3, 1, 0
		} else {
			beta1, beta2, beta3 = 1, 2, 1
		}
	}
	omega := p1[t3] - p1[t1]
	opt := float64(t1)*(p1[t1]+0.25*omega*beta1) + 0.25*float64(t2)*omega*beta2 + float64(t3)*(p2[t3]+0.25*omega*beta3)
	return int(opt), nil
}

func shanbhag(data []float64) (int, error) {
	norm := normalized(data)
	p1, p2 := cumulative(norm)
	first, last := binRange(p1, p2)

	threshold := first
	minEnt := math.MaxFloat64
	for it := first; it <= last; it++ {
		var back, obj float64
		if p1[it] > 0 {
			term := 0.5 / p1[it]
			for i := 1; i <= it; i++ {
				back -= norm[i] * math.Log(1-term*p1[i-1])
			}
			back *= term
		}
		if p2[it] > 0 {
			term := 0.5 / p2[it]
			for i := it + 1; i < len(data); i++ {
				obj -= norm[i] * math.Log(1-term*p2[i])
			}
			obj *= term
		}
		tot := math.Abs(back - obj)
		if tot < minEnt {
			minEnt = tot
			threshold = it
		}
	}
	return threshold, nil
}

func yen(data []float64) (int, error) {
	norm := normalized(data)
	n := len(norm)
	p1, _ := cumulative(norm)
	p1sq := make([]float64, n)
	p2sq := make([]float64, n)
	p1sq[0] = norm[0] * norm[0]
	for i := 1; i < n; i++ {
		p1sq[i] = p1sq[i-1] + norm[i]*norm[i]
	}
	for i := n - 2; i >= 0; i-- {
		p2sq[i] = p2sq[i+1] + norm[i+1]*norm[i+1]
	}

	threshold := 0
	maxCrit := -math.MaxFloat64
	for it := 0; it < n; it++ {
		crit := 0.0
		if p := p1sq[it] * p2sq[it]; p > 0 {
			crit -= math.Log(p)
		}
		if p := p1[it] * (1 - p1[it]); p > 0 {
			crit += 2 * math.Log(p)
		}
		if crit > maxCrit {
			maxCrit = crit
			threshold = it
		}
	}
	return threshold, nil
}

func minError(data []float64) (int, error) {
	mean, _ := meanThreshold(data)
	threshold := mean
	last := len(data) - 1

	partial := func(j, power int) float64 {
		var x float64
		for i := 0; i <= j; i++ {
			x += math.Pow(float64(i), float64(power)) * data[i]
		}
		return x
	}

	prev := -2
	for iter := 0; threshold != prev && iter < 10000; iter++ {
		aj, al := partial(threshold, 0), partial(last, 0)
		bj, bl := partial(threshold, 1), partial(last, 1)
		cj, cl := partial(threshold, 2), partial(last, 2)
		if aj == 0 || al == aj {
			break
		}

		mu := bj / aj
		nu := (bl - bj) / (al - aj)
		p := aj / al
		q := (al - aj) / al
		sigma2 := cj/aj - mu*mu
		tau2 := (cl-cj)/(al-aj) - nu*nu
		if sigma2 <= 0 || tau2 <= 0 {
			break
		}

		w0 := 1/sigma2 - 1/tau2
		w1 := mu/sigma2 - nu/tau2
		w2 := mu*mu/sigma2 - nu*nu/tau2 + math.Log10((sigma2*q*q)/(tau2*p*p))
		sq := w1*w1 - w0*w2
		if sq < 0 || w0 == 0 {
			break
		}

		prev = threshold
		temp := (w1 + math.Sqrt(sq)) / w0
		if math.IsNaN(temp) || math.IsInf(temp, 0) {
			threshold = prev
		} else {
			threshold = int(math.Floor(temp))
		}
		if threshold < 0 || threshold > last {
			threshold = prev
			break
		}
	}
	return threshold, nil
}
