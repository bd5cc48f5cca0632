package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

var (
	// ErrMultiChannel is returned by operations that only accept single-channel stacks.
	ErrMultiChannel = errors.New("image has more than one channel, please reduce dimensionality")

	// ErrDimensionMismatch is returned when two stacks must share dimensions but do not.
	ErrDimensionMismatch = errors.New("stack dimensions do not match")
)

// Calibration holds the physical size of a voxel.
type Calibration struct {
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
	VoxelDepth  float64 `json:"voxel_depth"`
	Unit        string  `json:"unit"`
}

// Stack is a multi-dimensional image made of 2D planes along channel (C),
// depth (Z) and time (T).
//
// Planes are kept in XYCZT order, so the plane for (c, z, t) lives at index
// (t*Slices+z)*Channels+c when the indices are 0-based. The exported
// accessors take 1-based indices, matching how microscopy software numbers
// channels, slices and frames.
//
// Pixel values are stored unscaled in *image.Gray16 planes. An 8-bit stack
// therefore holds values 0-255 in the 16-bit containers.
type Stack struct {
	Title       string      `json:"title"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Channels    int         `json:"channels"`
	Slices      int         `json:"slices"`
	Frames      int         `json:"frames"`
	BitDepth    int         `json:"bit_depth"`
	Calibration Calibration `json:"calibration"`

	planes []*image.Gray16
}

// NewStack allocates an empty (all zero) stack.
func NewStack(title string, width, height, channels, slices, frames, bitDepth int) (*Stack, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid plane size %dx%d", width, height)
	}
	if channels <= 0 || slices <= 0 || frames <= 0 {
		return nil, fmt.Errorf("invalid stack dimensions c=%d z=%d t=%d", channels, slices, frames)
	}
	if bitDepth != 8 && bitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	n := channels * slices * frames
	planes := make([]*image.Gray16, n)
	for i := range planes {
		planes[i] = image.NewGray16(image.Rect(0, 0, width, height))
	}

	return &Stack{
		Title:    title,
		Width:    width,
		Height:   height,
		Channels: channels,
		Slices:   slices,
		Frames:   frames,
		BitDepth: bitDepth,
		planes:   planes,
	}, nil
}

// Dimensions returns width, height, channels, slices and frames.
func (s *Stack) Dimensions() [5]int {
	return [5]int{s.Width, s.Height, s.Channels, s.Slices, s.Frames}
}

// Size returns the number of planes in the stack.
func (s *Stack) Size() int {
	return len(s.planes)
}

// SameShape reports whether o has the same dimensions and bit depth as s.
func (s *Stack) SameShape(o *Stack) bool {
	return s.Dimensions() == o.Dimensions() && s.BitDepth == o.BitDepth
}

// MaxValue is the largest pixel value the stack's bit depth can hold.
func (s *Stack) MaxValue() int {
	return 1<<s.BitDepth - 1
}

func (s *Stack) index(c, z, t int) (int, error) {
	if c < 1 || c > s.Channels || z < 1 || z > s.Slices || t < 1 || t > s.Frames {
		return 0, fmt.Errorf("position c=%d z=%d t=%d outside stack (%d,%d,%d)",
			c, z, t, s.Channels, s.Slices, s.Frames)
	}
	return ((t-1)*s.Slices+(z-1))*s.Channels + (c - 1), nil
}

// Plane returns the plane at the 1-based position (c, z, t). The returned
// image is shared with the stack.
func (s *Stack) Plane(c, z, t int) (*image.Gray16, error) {
	i, err := s.index(c, z, t)
	if err != nil {
		return nil, err
	}
	return s.planes[i], nil
}

// SetPlane replaces the plane at the 1-based position (c, z, t). Values are
// read from the grey level of img and clamped to the stack's bit depth.
func (s *Stack) SetPlane(c, z, t int, img image.Image) error {
	i, err := s.index(c, z, t)
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() != s.Width || b.Dy() != s.Height {
		return fmt.Errorf("plane size %dx%d does not match stack %dx%d: %w",
			b.Dx(), b.Dy(), s.Width, s.Height, ErrDimensionMismatch)
	}
	s.planes[i] = toGray16(img, s.BitDepth)
	return nil
}

// Pixels returns a copy of the plane at (c, z, t) as float64 values in row-major order.
func (s *Stack) Pixels(c, z, t int) ([]float64, error) {
	p, err := s.Plane(c, z, t)
	if err != nil {
		return nil, err
	}
	return planePixels(p), nil
}

// Image converts the plane at (c, z, t) into an image suitable for encoding:
// *image.Gray for 8-bit stacks and *image.Gray16 for 16-bit stacks.
func (s *Stack) Image(c, z, t int) (image.Image, error) {
	p, err := s.Plane(c, z, t)
	if err != nil {
		return nil, err
	}
	if s.BitDepth == 16 {
		out := image.NewGray16(p.Bounds())
		copy(out.Pix, p.Pix)
		return out, nil
	}
	out := image.NewGray(p.Bounds())
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			out.SetGray(x, y, color.Gray{Y: uint8(p.Gray16At(x, y).Y)})
		}
	}
	return out, nil
}

// Clone returns a deep copy of the stack.
func (s *Stack) Clone() *Stack {
	out := *s
	out.planes = make([]*image.Gray16, len(s.planes))
	for i, p := range s.planes {
		cp := image.NewGray16(p.Bounds())
		copy(cp.Pix, p.Pix)
		out.planes[i] = cp
	}
	return &out
}

// FromImages builds a stack from planes given in XYCZT order. Colour images
// are reduced to their luminance. The bit depth is 16 if any input plane
// is a 16-bit image, 8 otherwise.
func FromImages(title string, imgs []image.Image, channels, slices, frames int) (*Stack, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("no planes given")
	}
	if len(imgs) != channels*slices*frames {
		return nil, fmt.Errorf("got %d planes for c=%d z=%d t=%d: %w",
			len(imgs), channels, slices, frames, ErrDimensionMismatch)
	}

	bitDepth := 8
	for _, img := range imgs {
		if is16Bit(img) {
			bitDepth = 16
			break
		}
	}

	b := imgs[0].Bounds()
	s, err := NewStack(title, b.Dx(), b.Dy(), channels, slices, frames, bitDepth)
	if err != nil {
		return nil, err
	}
	for i, img := range imgs {
		ib := img.Bounds()
		if ib.Dx() != s.Width || ib.Dy() != s.Height {
			return nil, fmt.Errorf("plane %d is %dx%d, expected %dx%d: %w",
				i, ib.Dx(), ib.Dy(), s.Width, s.Height, ErrDimensionMismatch)
		}
		s.planes[i] = toGray16(img, bitDepth)
	}
	return s, nil
}

func is16Bit(img image.Image) bool {
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		return true
	}
	return false
}

// toGray16 copies img into a zero-origin Gray16 plane holding unscaled values
// for the given bit depth.
func toGray16(img image.Image, bitDepth int) *image.Gray16 {
	b := img.Bounds()
	out := image.NewGray16(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.Gray16:
		if bitDepth == 16 {
			for y := 0; y < b.Dy(); y++ {
				for x := 0; x < b.Dx(); x++ {
					out.SetGray16(x, y, src.Gray16At(b.Min.X+x, b.Min.Y+y))
				}
			}
			return out
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				out.SetGray16(x, y, color.Gray16{Y: uint16(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)})
			}
		}
		return out
	}

	// Generic path: luminance via the colour model, then rescale.
	tmp := image.NewGray16(out.Bounds())
	draw.Draw(tmp, tmp.Bounds(), img, b.Min, draw.Src)
	for i := 0; i < len(tmp.Pix); i += 2 {
		v := uint16(tmp.Pix[i])<<8 | uint16(tmp.Pix[i+1])
		if bitDepth == 8 {
			v >>= 8
		}
		out.Pix[i] = uint8(v >> 8)
		out.Pix[i+1] = uint8(v)
	}
	return out
}

func planePixels(p *image.Gray16) []float64 {
	out := make([]float64, len(p.Pix)/2)
	for i := range out {
		out[i] = float64(uint16(p.Pix[2*i])<<8 | uint16(p.Pix[2*i+1]))
	}
	return out
}

func setPlanePixels(p *image.Gray16, values []float64, max float64) {
	for i, v := range values {
		if v < 0 {
			v = 0
		}
		if v > max {
			v = max
		}
		u := uint16(v)
		p.Pix[2*i] = uint8(u >> 8)
		p.Pix[2*i+1] = uint8(u)
	}
}
