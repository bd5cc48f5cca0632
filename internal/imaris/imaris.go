// Package imaris drives the external ImarisConvert file converter.
package imaris

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/imcf/image-tools/internal/export"
	"github.com/imcf/image-tools/internal/imaging"
)

// ErrNotFound is returned when no converter matches the search paths.
var ErrNotFound = errors.New("ImarisConvert not found")

var versionRe = regexp.MustCompile(`\d+(?:\.\d+)*`)

// Locate expands the glob patterns and returns the converter with the highest
// version number in its path.
func Locate(patterns []string) (string, error) {
	var best string
	var bestVersion []int
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return "", fmt.Errorf("invalid search path %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			v := pathVersion(m)
			if best == "" || compareVersions(v, bestVersion) > 0 {
				best, bestVersion = m, v
			}
		}
	}
	if best == "" {
		return "", ErrNotFound
	}
	return best, nil
}

// pathVersion returns the last dotted number in the executable's directory
// name, e.g. [9 9 1] for "ImarisFileConverter 9.9.1".
func pathVersion(path string) []int {
	found := versionRe.FindAllString(filepath.Base(filepath.Dir(path)), -1)
	if len(found) == 0 {
		return nil
	}
	var v []int
	for _, part := range strings.Split(found[len(found)-1], ".") {
		n, _ := strconv.Atoi(part)
		v = append(v, n)
	}
	return v
}

func compareVersions(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x > y {
				return 1
			}
			return -1
		}
	}
	return 0
}

// Converter runs one ImarisConvert executable.
type Converter struct {
	Exe string
	log zerolog.Logger
}

// New returns a Converter for exe.
func New(exe string, log zerolog.Logger) *Converter {
	return &Converter{Exe: exe, log: log}
}

// ConvertFile converts input to an .ims file next to it and returns the
// output path. The converter's stderr is included in the error on failure.
func (c *Converter) ConvertFile(ctx context.Context, input string) (string, error) {
	output := outputPath(input)
	args := []string{"-i", input, "-of", "Imaris5", "-o", output}

	cmd := exec.CommandContext(ctx, c.Exe, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	c.log.Info().Str("input", input).Str("output", output).Msg("converting to Imaris")
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		c.log.Error().Err(err).Str("stderr", msg).Msg("ImarisConvert failed")
		if msg != "" {
			return "", fmt.Errorf("ImarisConvert %s: %w: %s", input, err, msg)
		}
		return "", fmt.Errorf("ImarisConvert %s: %w", input, err)
	}
	return output, nil
}

// ConvertStack writes s as TIFF planes into dir and converts the first plane
// file. The converter picks up the remaining numbered planes as a series.
func (c *Converter) ConvertStack(ctx context.Context, s *imaging.Stack, dir string) (string, error) {
	paths, err := export.Save(s, dir, "tif", export.DefaultOptions())
	if err != nil {
		return "", fmt.Errorf("failed to write TIFF planes: %w", err)
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("stack %q has no planes", s.Title)
	}
	out, err := c.ConvertFile(ctx, paths[0])
	if err != nil {
		return "", err
	}

	// Name the result after the stack rather than its first plane.
	final := filepath.Join(dir, s.Title+".ims")
	if out != final {
		if err := os.Rename(out, final); err != nil {
			return "", fmt.Errorf("failed to rename %s: %w", out, err)
		}
	}
	return final, nil
}

// outputPath swaps the extension of input for .ims. Double extensions such
// as .ome.tif are removed as a whole.
func outputPath(input string) string {
	root := input
	lower := strings.ToLower(root)
	for _, ext := range []string{".ome.tiff", ".ome.tif"} {
		if strings.HasSuffix(lower, ext) {
			return root[:len(root)-len(ext)] + ".ims"
		}
	}
	return strings.TrimSuffix(root, filepath.Ext(root)) + ".ims"
}
