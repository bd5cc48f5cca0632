package workspace

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/imcf/image-tools/internal/imaging"
	"github.com/imcf/image-tools/internal/results"
	"github.com/imcf/image-tools/internal/roi"
)

func newStack(t *testing.T, title string) *imaging.Stack {
	t.Helper()
	s, err := imaging.NewStack(title, 4, 4, 1, 1, 1, 8)
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}
	return s
}

func writePlane(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	return path
}

func TestWorkspace_OpenClose(t *testing.T) {
	ws := New(zerolog.Nop())
	a, b, c := newStack(t, "a"), newStack(t, "b"), newStack(t, "c")

	ws.Open(a)
	ws.Open(b)
	ws.Open(c)
	ws.Open(a)
	if n := len(ws.Stacks()); n != 3 {
		t.Fatalf("open stacks: got %d, want 3", n)
	}

	ws.Close(a, c, newStack(t, "never opened"))
	open := ws.Stacks()
	if len(open) != 1 || open[0] != b {
		t.Errorf("after Close: got %v", open)
	}
	if _, ok := ws.Get("a"); ok {
		t.Error("closed stack still found")
	}
	if s, ok := ws.Get("b"); !ok || s != b {
		t.Error("open stack not found")
	}
}

func TestWorkspace_OpenReplacesTitle(t *testing.T) {
	ws := New(zerolog.Nop())
	first, other, second := newStack(t, "s"), newStack(t, "t"), newStack(t, "s")

	ws.Open(first)
	ws.Open(other)
	ws.Open(second)

	open := ws.Stacks()
	if len(open) != 2 {
		t.Fatalf("open stacks: got %d, want 2", len(open))
	}
	if open[0] != second || open[1] != other {
		t.Errorf("replacement should keep the position: got %v", open)
	}
	if got, _ := ws.Get("s"); got != second {
		t.Error("Get returned the replaced stack")
	}
}

func TestWorkspace_LoadTwice(t *testing.T) {
	ws := New(zerolog.Nop())
	dir := t.TempDir()
	a := writePlane(t, dir, "a.png")
	b := writePlane(t, dir, "b.png")

	if _, err := ws.Load("s", []string{a}, 1, 1, 1); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	again, err := ws.Load("s", []string{b, b}, 1, 2, 1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n := len(ws.Stacks()); n != 1 {
		t.Errorf("open stacks: got %d, want 1", n)
	}
	if got, _ := ws.Get("s"); got != again || got.Slices != 2 {
		t.Error("second load did not replace the first")
	}
}

func TestWorkspace_Load(t *testing.T) {
	ws := New(zerolog.Nop())
	path := writePlane(t, t.TempDir(), "plane.png")

	s, err := ws.Load("", []string{path}, 1, 1, 1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got, ok := ws.Get("plane"); !ok || got != s {
		t.Error("loaded stack is not open")
	}
	if ws.Cache().Len() != 1 {
		t.Errorf("cache: got %d entries, want 1", ws.Cache().Len())
	}

	if _, err := ws.Load("x", nil, 1, 1, 1); err == nil {
		t.Error("Load without paths should fail")
	}
}

func TestWorkspace_Reset(t *testing.T) {
	ws := New(zerolog.Nop())
	path := writePlane(t, t.TempDir(), "plane.png")
	if _, err := ws.Load("", []string{path}, 1, 1, 1); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ws.Results().AddRow(results.NewRow("file", "plane.png"))
	ws.AddROI(roi.ROI{Name: "r", Shapes: []roi.Shape{roi.NewPoint(1, 1)}})
	ws.Log("measured")
	ws.SetOptions(Options{ThresholdMethod: "li", ExportFormat: "png"})

	ws.Reset()

	if len(ws.Stacks()) != 0 {
		t.Error("stacks not closed")
	}
	if ws.Results().Len() != 0 {
		t.Error("results not cleared")
	}
	if len(ws.ROIs()) != 0 {
		t.Error("ROIs not cleared")
	}
	if len(ws.LogLines()) != 0 {
		t.Error("log not cleared")
	}
	if ws.Cache().Len() != 0 {
		t.Error("cache not cleared")
	}
	if ws.Options() != DefaultOptions() {
		t.Errorf("options: got %+v", ws.Options())
	}
}

func TestWorkspace_Log(t *testing.T) {
	ws := New(zerolog.Nop())
	ws.Log("one")
	ws.Log("two")
	lines := ws.LogLines()
	if len(lines) != 2 || lines[1] != "two" {
		t.Errorf("got %v", lines)
	}
}
