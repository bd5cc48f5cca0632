package imaging

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/blend"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// DefaultChannelColors is the lookup-table order used for channels when no
// colours are given.
var DefaultChannelColors = []string{"#FF0000", "#00FF00", "#0000FF", "#808080", "#00FFFF", "#FF00FF", "#FFFF00"}

// Composite merges all channels of slice z, frame t into one RGB image.
//
// Each channel is autoscaled to its own min..max range, tinted with its
// colour (hex "#RRGGBB") and added to the result. Missing colours fall back
// to DefaultChannelColors.
func Composite(s *Stack, z, t int, colors []string) (*image.RGBA, error) {
	luts := make([]colorful.Color, s.Channels)
	for c := 0; c < s.Channels; c++ {
		hex := DefaultChannelColors[c%len(DefaultChannelColors)]
		if c < len(colors) && colors[c] != "" {
			hex = colors[c]
		}
		lut, err := colorful.Hex(hex)
		if err != nil {
			return nil, fmt.Errorf("channel %d colour %q: %w", c+1, hex, err)
		}
		luts[c] = lut
	}

	out := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	for c := 1; c <= s.Channels; c++ {
		display, err := DisplayImage(s, c, z, t)
		if err != nil {
			return nil, err
		}
		out = blend.Add(out, tint(display, luts[c-1]))
	}
	return out, nil
}

// tint colours a greyscale display image with lut, scaling the colour by
// each pixel's intensity.
func tint(g *image.Gray, lut colorful.Color) *image.RGBA {
	out := image.NewRGBA(g.Bounds())
	for i, v := range g.Pix {
		f := float64(v) / 255
		r, gr, b := colorful.Color{R: f * lut.R, G: f * lut.G, B: f * lut.B}.Clamped().RGB255()
		out.Pix[4*i] = r
		out.Pix[4*i+1] = gr
		out.Pix[4*i+2] = b
		out.Pix[4*i+3] = 255
	}
	return out
}
