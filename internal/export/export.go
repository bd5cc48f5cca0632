// Package export writes stacks to disk in common image formats.
package export

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	stack "github.com/imcf/image-tools/internal/imaging"
)

// ErrUnsupportedFormat is returned for output formats Save cannot write.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Formats lists the accepted format names.
var Formats = []string{"tif", "tiff", "png", "jpg", "jpeg", "gif", "bmp"}

// Options control how Save names and splits its output.
type Options struct {
	// SplitChannels writes each channel into its own C<n> subdirectory.
	// Otherwise channels are kept as _C<n> files.
	SplitChannels bool

	// Composite merges the channels of each Z/T position into one 8-bit RGB
	// image instead. It is ignored when SplitChannels is set.
	Composite bool

	// Series, when not negative, adds _series_<n> to every file name,
	// padded to Pad digits.
	Series int
	Pad    int

	// Colors are the channel colours of composites. See imaging.Composite.
	Colors []string

	// JPEGQuality defaults to 95.
	JPEGQuality int
}

// DefaultOptions returns options without series numbering.
func DefaultOptions() Options {
	return Options{Series: -1, JPEGQuality: 95}
}

// PadNumber formats n with leading zeros up to width digits.
func PadNumber(n, width int) string {
	s := strconv.Itoa(n)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// Save writes s into dir in the given format and returns the paths written.
//
// One file is written per plane, named
// <title>[_series_<n>][_C<c>][_Z<z>][_T<t>].<ext>. Suffixes are only added
// for dimensions larger than one and are padded to the width of the largest
// index. 16-bit stacks stay 16-bit in TIFF and PNG; JPEG, GIF and BMP
// receive the autoscaled 8-bit rendering. With opts.Composite the _C<c>
// suffix is dropped and each file holds the RGB merge of all channels.
func Save(s *stack.Stack, dir, format string, opts Options) ([]string, error) {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if !supported(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	base := s.Title
	if base == "" {
		base = "image"
	}
	if opts.Series >= 0 {
		base += "_series_" + PadNumber(opts.Series, opts.Pad)
	}

	var written []string
	save := func(img image.Image, dir, name string) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		path := filepath.Join(dir, name+"."+ext)
		if err := encode(img, path, ext, opts); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	composite := opts.Composite && s.Channels > 1 && !opts.SplitChannels
	for t := 1; t <= s.Frames; t++ {
		for z := 1; z <= s.Slices; z++ {
			suffix := indexSuffix("_Z", z, s.Slices) + indexSuffix("_T", t, s.Frames)

			if composite {
				img, err := stack.Composite(s, z, t, opts.Colors)
				if err != nil {
					return written, err
				}
				if err := save(img, dir, base+suffix); err != nil {
					return written, err
				}
				continue
			}

			for c := 1; c <= s.Channels; c++ {
				img, err := planeImage(s, c, z, t, ext)
				if err != nil {
					return written, err
				}
				outDir, name := dir, base+suffix
				if opts.SplitChannels {
					outDir = filepath.Join(dir, "C"+strconv.Itoa(c))
				} else {
					name = base + indexSuffix("_C", c, s.Channels) + suffix
				}
				if err := save(img, outDir, name); err != nil {
					return written, err
				}
			}
		}
	}
	return written, nil
}

func supported(ext string) bool {
	for _, f := range Formats {
		if f == ext {
			return true
		}
	}
	return false
}

func indexSuffix(prefix string, i, total int) string {
	if total <= 1 {
		return ""
	}
	return prefix + PadNumber(i, len(strconv.Itoa(total)))
}

// planeImage returns the plane at full depth for formats that can hold it
// and the autoscaled display rendering otherwise.
func planeImage(s *stack.Stack, c, z, t int, ext string) (image.Image, error) {
	switch {
	case s.BitDepth == 8, ext == "tif", ext == "tiff", ext == "png":
		return s.Image(c, z, t)
	default:
		return stack.DisplayImage(s, c, z, t)
	}
}

func encode(img image.Image, path, ext string, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	switch ext {
	case "tif", "tiff":
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		var format imaging.Format
		format, err = imaging.FormatFromExtension(ext)
		if err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
		}
		quality := opts.JPEGQuality
		if quality <= 0 {
			quality = 95
		}
		err = imaging.Encode(f, img, format, imaging.JPEGQuality(quality))
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
