// Package workspace holds the state an analysis session accumulates: open
// stacks, the results table, regions of interest, a log buffer and the
// plane cache. Reset returns all of it to a fresh start.
package workspace

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/imcf/image-tools/internal/imaging"
	"github.com/imcf/image-tools/internal/results"
	"github.com/imcf/image-tools/internal/roi"
)

// Options are the session defaults restored by Reset.
type Options struct {
	FocusMethod     imaging.FocusMethod `json:"focus_method"`
	ThresholdMethod string              `json:"threshold_method"`
	ExportFormat    string              `json:"export_format"`
}

// DefaultOptions returns the options of a fresh session.
func DefaultOptions() Options {
	return Options{
		FocusMethod:     imaging.FocusVariance,
		ThresholdMethod: "otsu",
		ExportFormat:    "tif",
	}
}

// Workspace is safe for concurrent use.
type Workspace struct {
	log   zerolog.Logger
	cache *imaging.PlaneCache

	mu      sync.RWMutex
	stacks  []*imaging.Stack
	results *results.Table
	rois    []roi.ROI
	lines   []string
	options Options
}

// New returns an empty workspace.
func New(log zerolog.Logger) *Workspace {
	return &Workspace{
		log:     log,
		cache:   imaging.NewPlaneCache(),
		results: results.NewTable(),
		options: DefaultOptions(),
	}
}

// Cache returns the plane cache shared by all loads.
func (w *Workspace) Cache() *imaging.PlaneCache {
	return w.cache
}

// Load reads plane files into a stack and opens it.
func (w *Workspace) Load(title string, paths []string, channels, slices, frames int) (*imaging.Stack, error) {
	s, err := imaging.LoadStack(w.cache, title, paths, channels, slices, frames)
	if err != nil {
		return nil, err
	}
	w.Open(s)
	return s, nil
}

// Open registers s as an open stack. Titles are unique: an open stack with
// the same title is closed and s takes its place. Opening a stack twice has
// no effect.
func (w *Workspace) Open(s *imaging.Stack) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, o := range w.stacks {
		if o == s {
			return
		}
		if o.Title == s.Title {
			w.stacks[i] = s
			w.log.Debug().Str("title", s.Title).Msg("stack replaced")
			return
		}
	}
	w.stacks = append(w.stacks, s)
	w.log.Debug().Str("title", s.Title).Msg("stack opened")
}

// Get returns the open stack with the given title.
func (w *Workspace) Get(title string) (*imaging.Stack, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, s := range w.stacks {
		if s.Title == title {
			return s, true
		}
	}
	return nil, false
}

// Stacks returns the open stacks in the order they were opened.
func (w *Workspace) Stacks() []*imaging.Stack {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*imaging.Stack(nil), w.stacks...)
}

// Close discards the given stacks without saving them. Stacks that are not
// open are ignored.
func (w *Workspace) Close(stacks ...*imaging.Stack) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range stacks {
		for i, o := range w.stacks {
			if o == s {
				w.stacks = append(w.stacks[:i], w.stacks[i+1:]...)
				w.log.Debug().Str("title", s.Title).Msg("stack closed")
				break
			}
		}
	}
}

// Results returns the session's results table.
func (w *Workspace) Results() *results.Table {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.results
}

// AddROI appends r to the session's ROI list.
func (w *Workspace) AddROI(r roi.ROI) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rois = append(w.rois, r)
}

// ROIs returns the session's ROIs.
func (w *Workspace) ROIs() []roi.ROI {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]roi.ROI(nil), w.rois...)
}

// Log appends a line to the session log and mirrors it to the logger.
func (w *Workspace) Log(msg string) {
	w.mu.Lock()
	w.lines = append(w.lines, msg)
	w.mu.Unlock()
	w.log.Info().Msg(msg)
}

// LogLines returns the session log.
func (w *Workspace) LogLines() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.lines...)
}

// Options returns the current session options.
func (w *Workspace) Options() Options {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.options
}

// SetOptions replaces the session options.
func (w *Workspace) SetOptions(o Options) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.options = o
}

// Reset closes every stack without saving and clears the results table,
// the ROI list, the log and the plane cache. Options go back to
// DefaultOptions.
func (w *Workspace) Reset() {
	w.mu.Lock()
	n := len(w.stacks)
	w.stacks = nil
	w.results.Reset()
	w.rois = nil
	w.lines = nil
	w.options = DefaultOptions()
	w.mu.Unlock()

	w.cache.Clear()
	w.log.Info().Int("closed", n).Msg("workspace reset")
}
