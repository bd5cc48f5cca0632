package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
)

// CropStack returns a new stack restricted to rect on every plane.
func CropStack(s *Stack, rect image.Rectangle) (*Stack, error) {
	bounds := image.Rect(0, 0, s.Width, s.Height)
	if !rect.In(bounds) {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if rect.Empty() {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	out, err := NewStack(s.Title, rect.Dx(), rect.Dy(), s.Channels, s.Slices, s.Frames, s.BitDepth)
	if err != nil {
		return nil, err
	}
	out.Calibration = s.Calibration
	for i, p := range s.planes {
		out.planes[i] = toGray16(p.SubImage(rect), 16)
	}
	return out, nil
}

// PreviewResult contains a display rendering of one plane.
type PreviewResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Preview renders the plane at (c, z, t) as an 8-bit PNG, autoscaled so the
// darkest pixel maps to black and the brightest to white. A non-nil region
// crops the plane first and a scale other than 1 resizes the result.
func Preview(s *Stack, c, z, t int, region *image.Rectangle, scale float64) (*PreviewResult, error) {
	img, err := DisplayImage(s, c, z, t)
	if err != nil {
		return nil, err
	}

	var out image.Image = img
	if region != nil {
		if !region.In(img.Bounds()) || region.Empty() {
			return nil, fmt.Errorf("preview region (%d,%d)-(%d,%d) outside image bounds",
				region.Min.X, region.Min.Y, region.Max.X, region.Max.Y)
		}
		out = imaging.Crop(out, *region)
	}
	if scale != 1.0 && scale > 0 {
		newWidth := int(float64(out.Bounds().Dx()) * scale)
		newHeight := int(float64(out.Bounds().Dy()) * scale)
		out = imaging.Resize(out, newWidth, newHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	return &PreviewResult{
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// DisplayImage returns the plane at (c, z, t) as an 8-bit greyscale image
// stretched over the plane's own min..max range.
func DisplayImage(s *Stack, c, z, t int) (*image.Gray, error) {
	px, err := s.Pixels(c, z, t)
	if err != nil {
		return nil, err
	}
	lo, hi := minMax(px)
	span := hi - lo

	out := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	for i, v := range px {
		var g uint8
		if span > 0 {
			g = uint8((v - lo) / span * 255)
		}
		out.SetGray(i%s.Width, i/s.Width, color.Gray{Y: g})
	}
	return out, nil
}
