package imaging

import "fmt"

// Subtract returns a new stack holding a - b, plane by plane. Results are
// clamped at 0. Both stacks must share dimensions and bit depth.
func Subtract(a, b *Stack) (*Stack, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("subtract %q - %q: %w", a.Title, b.Title, ErrDimensionMismatch)
	}

	out := a.Clone()
	out.Title = "Result of " + a.Title

	for i := range a.planes {
		pa := planePixels(a.planes[i])
		pb := planePixels(b.planes[i])
		for j := range pa {
			pa[j] -= pb[j]
		}
		setPlanePixels(out.planes[i], pa, float64(a.MaxValue()))
	}
	return out, nil
}

// MaxProjection collapses the Z dimension, keeping the brightest value of
// each pixel along the slices.
func MaxProjection(s *Stack) (*Stack, error) {
	out, err := NewStack("MAX_"+s.Title, s.Width, s.Height, s.Channels, 1, s.Frames, s.BitDepth)
	if err != nil {
		return nil, err
	}
	out.Calibration = s.Calibration

	for t := 1; t <= s.Frames; t++ {
		for c := 1; c <= s.Channels; c++ {
			var acc []float64
			for z := 1; z <= s.Slices; z++ {
				px, err := s.Pixels(c, z, t)
				if err != nil {
					return nil, err
				}
				if acc == nil {
					acc = px
					continue
				}
				for i, v := range px {
					if v > acc[i] {
						acc[i] = v
					}
				}
			}
			dst, err := out.Plane(c, 1, t)
			if err != nil {
				return nil, err
			}
			setPlanePixels(dst, acc, float64(s.MaxValue()))
		}
	}
	return out, nil
}
