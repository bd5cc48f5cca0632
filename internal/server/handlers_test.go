package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/imcf/image-tools/internal/config"
	"github.com/imcf/image-tools/internal/imaging"
	"github.com/imcf/image-tools/internal/roi"
)

// createTestPlanes writes one greyscale PNG per fill function into a temp
// directory and returns the paths in order.
func createTestPlanes(t *testing.T, width, height int, fills ...func(x, y int) uint8) []string {
	t.Helper()
	dir := t.TempDir()

	paths := make([]string, 0, len(fills))
	for i, fill := range fills {
		img := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray(x, y, color.Gray{Y: fill(x, y)})
			}
		}

		path := filepath.Join(dir, fmt.Sprintf("cells_%d.png", i+1))
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			t.Fatalf("failed to encode image: %v", err)
		}
		f.Close()
		paths = append(paths, path)
	}
	return paths
}

func flat(v uint8) func(x, y int) uint8 {
	return func(x, y int) uint8 { return v }
}

func checker(x, y int) uint8 {
	if (x+y)%2 == 0 {
		return 200
	}
	return 20
}

func halves(x, y int) uint8 {
	if x < 10 {
		return 10
	}
	return 200
}

// callTool runs a tools/call request through handleRequest and decodes the
// text content into out. It fails the test on a JSON-RPC error.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}, out interface{}) {
	t.Helper()
	resp := toolResponse(t, s, name, args)
	if resp.Error != nil {
		t.Fatalf("%s: unexpected error: %v (%v)", name, resp.Error.Message, resp.Error.Data)
	}

	result := resp.Result.(map[string]interface{})
	content := result["content"].([]map[string]interface{})
	if len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("%s: unexpected content %v", name, content)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), out); err != nil {
		t.Fatalf("%s: failed to decode result: %v", name, err)
	}
}

func toolResponse(t *testing.T, s *Server, name string, args map[string]interface{}) *MCPResponse {
	t.Helper()
	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
	paramsJSON, _ := json.Marshal(params)

	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	}

	resp := s.handleRequest(context.Background(), req)
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

type stackInfo struct {
	Title    string `json:"title"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
	Slices   int    `json:"slices"`
	Frames   int    `json:"frames"`
	BitDepth int    `json:"bit_depth"`
}

// loadStack loads the planes as a single-channel Z stack titled "cells".
func loadStack(t *testing.T, s *Server, paths []string) stackInfo {
	t.Helper()
	var info stackInfo
	callTool(t, s, "stack_load", map[string]interface{}{"paths": paths, "title": "cells"}, &info)
	return info
}

func TestHandleToolsCall_StackLoad(t *testing.T) {
	s := newTestServer(t)
	paths := createTestPlanes(t, 20, 10, flat(1), flat(2), flat(3), flat(4))

	info := loadStack(t, s, paths)
	if info.Title != "cells" || info.Width != 20 || info.Height != 10 {
		t.Errorf("info: got %+v", info)
	}
	if info.Slices != 4 || info.Channels != 1 || info.Frames != 1 {
		t.Errorf("dimensions: got c=%d z=%d t=%d, want 1/4/1", info.Channels, info.Slices, info.Frames)
	}

	var twoChannels stackInfo
	callTool(t, s, "stack_load", map[string]interface{}{"paths": paths, "channels": 2}, &twoChannels)
	if twoChannels.Title != "cells_1" || twoChannels.Channels != 2 || twoChannels.Slices != 2 {
		t.Errorf("two channels: got %+v", twoChannels)
	}

	var list struct {
		Stacks []stackInfo `json:"stacks"`
	}
	callTool(t, s, "stack_list", map[string]interface{}{}, &list)
	if len(list.Stacks) != 2 {
		t.Errorf("stack_list: got %d stacks, want 2", len(list.Stacks))
	}
}

func TestHandleToolsCall_StackLoad_WrongCount(t *testing.T) {
	s := newTestServer(t)
	paths := createTestPlanes(t, 4, 4, flat(1), flat(2), flat(3))

	resp := toolResponse(t, s, "stack_load", map[string]interface{}{"paths": paths, "slices": 2})
	if resp.Error == nil {
		t.Fatal("expected error for mismatched plane count")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
	}
}

func TestHandleToolsCall_StackFocus(t *testing.T) {
	s := newTestServer(t)
	loadStack(t, s, createTestPlanes(t, 8, 8, flat(50), checker, flat(50)))

	for _, method := range []string{"", "variance", "tenengrad"} {
		t.Run("method="+method, func(t *testing.T) {
			var res focusResult
			callTool(t, s, "stack_focus", map[string]interface{}{"title": "cells", "method": method}, &res)
			if res.Slice != 2 {
				t.Errorf("Slice: got %d, want 2", res.Slice)
			}
			if len(res.PerFrame) != 1 || len(res.Scores) != 3 {
				t.Errorf("PerFrame %v Scores %v", res.PerFrame, res.Scores)
			}
		})
	}

	resp := toolResponse(t, s, "stack_focus", map[string]interface{}{"title": "cells", "method": "laplace"})
	if resp.Error == nil {
		t.Error("expected error for unknown focus method")
	}
}

func TestHandleToolsCall_StackStats(t *testing.T) {
	s := newTestServer(t)
	loadStack(t, s, createTestPlanes(t, 4, 4, flat(10), flat(30)))

	var res struct {
		Planes []struct {
			Slice  int     `json:"slice"`
			Mean   float64 `json:"mean"`
			StdDev float64 `json:"std_dev"`
		} `json:"planes"`
	}
	callTool(t, s, "stack_stats", map[string]interface{}{"title": "cells"}, &res)
	if len(res.Planes) != 2 {
		t.Fatalf("planes: got %d, want 2", len(res.Planes))
	}
	if res.Planes[1].Slice != 2 || res.Planes[1].Mean != 30 || res.Planes[1].StdDev != 0 {
		t.Errorf("plane 2: got %+v", res.Planes[1])
	}

	table := s.Workspace().Results()
	if table.Len() != 2 {
		t.Fatalf("results rows: got %d, want 2", table.Len())
	}
	if mean, _ := table.Rows()[1].Get("mean"); mean != "30" {
		t.Errorf("results mean: got %q, want 30", mean)
	}
}

func TestHandleToolsCall_StackLoadReplacesTitle(t *testing.T) {
	s := newTestServer(t)
	loadStack(t, s, createTestPlanes(t, 4, 4, flat(10)))
	loadStack(t, s, createTestPlanes(t, 4, 4, flat(200)))

	if n := len(s.Workspace().Stacks()); n != 1 {
		t.Errorf("open stacks: got %d, want 1", n)
	}
	var res struct {
		Planes []struct {
			Mean float64 `json:"mean"`
		} `json:"planes"`
	}
	callTool(t, s, "stack_stats", map[string]interface{}{"title": "cells"}, &res)
	if len(res.Planes) != 1 || res.Planes[0].Mean != 200 {
		t.Errorf("stats served the old stack: %+v", res.Planes)
	}
}

func TestHandleToolsCall_ResultsSave(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(t.TempDir(), "results.csv")

	resp := toolResponse(t, s, "results_save", map[string]interface{}{"path": path})
	if resp.Error == nil {
		t.Error("saving an empty results table should fail")
	}

	loadStack(t, s, createTestPlanes(t, 4, 4, flat(10), flat(30)))
	callTool(t, s, "stack_stats", map[string]interface{}{"title": "cells"}, nil)

	var res struct {
		Rows int `json:"rows"`
	}
	callTool(t, s, "results_save", map[string]interface{}{"path": path}, &res)
	callTool(t, s, "results_save", map[string]interface{}{"path": path}, nil)
	if res.Rows != 2 {
		t.Errorf("rows: got %d, want 2", res.Rows)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read CSV: %v", err)
	}
	want := "image,c,z,t,mean,std_dev,min,max\n" +
		"cells,1,1,1,10,0,10,10\n" +
		"cells,1,2,1,30,0,30,30\n" +
		"cells,1,1,1,10,0,10,10\n" +
		"cells,1,2,1,30,0,30,30\n"
	if string(data) != want {
		t.Errorf("CSV:\n%s\nwant:\n%s", data, want)
	}
}

func TestHandleToolsCall_WorkspaceOptions(t *testing.T) {
	s := newTestServer(t)

	var opts struct {
		FocusMethod     string `json:"focus_method"`
		ThresholdMethod string `json:"threshold_method"`
		ExportFormat    string `json:"export_format"`
	}
	callTool(t, s, "workspace_options", map[string]interface{}{
		"focus_method":     "Tenengrad",
		"threshold_method": "Li",
		"export_format":    ".png",
	}, &opts)
	if opts.FocusMethod != "tenengrad" || opts.ThresholdMethod != "li" || opts.ExportFormat != "png" {
		t.Errorf("options: got %+v", opts)
	}

	// Defaults now follow the options.
	loadStack(t, s, createTestPlanes(t, 4, 4, flat(10)))
	var saved struct {
		Files []string `json:"files"`
	}
	callTool(t, s, "stack_save", map[string]interface{}{"title": "cells", "directory": t.TempDir()}, &saved)
	if len(saved.Files) != 1 || filepath.Ext(saved.Files[0]) != ".png" {
		t.Errorf("files: got %v, want one .png", saved.Files)
	}
	var focus struct {
		Method string `json:"method"`
	}
	callTool(t, s, "stack_focus", map[string]interface{}{"title": "cells"}, &focus)
	if focus.Method != "tenengrad" {
		t.Errorf("focus method: got %q", focus.Method)
	}

	for _, args := range []map[string]interface{}{
		{"focus_method": "laplace"},
		{"threshold_method": "nope"},
		{"export_format": "webp"},
	} {
		if resp := toolResponse(t, s, "workspace_options", args); resp.Error == nil {
			t.Errorf("%v should be rejected", args)
		}
	}
	if got := s.Workspace().Options().ExportFormat; got != "png" {
		t.Errorf("rejected options changed the workspace: %q", got)
	}
}

func TestHandleToolsCall_StackThreshold(t *testing.T) {
	s := newTestServer(t)
	loadStack(t, s, createTestPlanes(t, 20, 4, halves))

	var res struct {
		Method    string     `json:"method"`
		Threshold int        `json:"threshold"`
		Mask      *stackInfo `json:"mask"`
	}
	callTool(t, s, "stack_threshold", map[string]interface{}{"title": "cells", "apply": true}, &res)
	if res.Method != "otsu" {
		t.Errorf("Method: got %s, want otsu", res.Method)
	}
	if res.Threshold < 10 || res.Threshold >= 200 {
		t.Errorf("Threshold: got %d, want in [10, 200)", res.Threshold)
	}
	if res.Mask == nil || res.Mask.BitDepth != 8 {
		t.Fatalf("Mask: got %+v", res.Mask)
	}
	if _, ok := s.Workspace().Get(res.Mask.Title); !ok {
		t.Errorf("mask %q was not opened", res.Mask.Title)
	}

	resp := toolResponse(t, s, "stack_threshold", map[string]interface{}{"title": "cells", "method": "magic"})
	if resp.Error == nil {
		t.Error("expected error for unknown threshold method")
	}
}

func TestHandleToolsCall_StackSubtractAndProject(t *testing.T) {
	s := newTestServer(t)
	loadStack(t, s, createTestPlanes(t, 4, 4, flat(10), flat(30)))

	var diff stackInfo
	callTool(t, s, "stack_subtract", map[string]interface{}{"title": "cells", "subtract": "cells"}, &diff)
	if diff.Title != "Result of cells" {
		t.Errorf("subtract title: got %q", diff.Title)
	}

	var proj stackInfo
	callTool(t, s, "stack_project", map[string]interface{}{"title": "cells"}, &proj)
	if proj.Title != "MAX_cells" || proj.Slices != 1 {
		t.Errorf("projection: got %+v", proj)
	}

	st, ok := s.Workspace().Get("MAX_cells")
	if !ok {
		t.Fatal("projection was not opened")
	}
	px, err := st.Pixels(1, 1, 1)
	if err != nil {
		t.Fatalf("Pixels failed: %v", err)
	}
	if px[0] != 30 {
		t.Errorf("projected value: got %v, want 30", px[0])
	}
}

func TestHandleToolsCall_StackCropAndPreview(t *testing.T) {
	s := newTestServer(t)
	loadStack(t, s, createTestPlanes(t, 20, 10, halves))

	var crop stackInfo
	callTool(t, s, "stack_crop", map[string]interface{}{"title": "cells", "x1": 5, "y1": 2, "x2": 15, "y2": 8}, &crop)
	if crop.Title != "cells-crop" || crop.Width != 10 || crop.Height != 6 {
		t.Errorf("crop: got %+v", crop)
	}

	var preview struct {
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		MimeType    string `json:"mime_type"`
		ImageBase64 string `json:"image_base64"`
	}
	callTool(t, s, "stack_preview", map[string]interface{}{"title": "cells-crop", "scale": 2.0}, &preview)
	if preview.Width != 20 || preview.Height != 12 || preview.MimeType != "image/png" {
		t.Errorf("preview: got %dx%d %s", preview.Width, preview.Height, preview.MimeType)
	}
	if preview.ImageBase64 == "" {
		t.Error("preview image is empty")
	}

	resp := toolResponse(t, s, "stack_preview", map[string]interface{}{"title": "cells", "x1": 0, "y1": 0})
	if resp.Error == nil {
		t.Error("expected error for incomplete region")
	}
	resp = toolResponse(t, s, "stack_crop", map[string]interface{}{"title": "cells", "x1": 0, "y1": 0, "x2": 50, "y2": 5})
	if resp.Error == nil {
		t.Error("expected error for crop outside the image")
	}
}

func TestHandleToolsCall_StackSave(t *testing.T) {
	s := newTestServer(t)
	loadStack(t, s, createTestPlanes(t, 4, 4, flat(1), flat(2), flat(3)))
	dir := t.TempDir()

	var res struct {
		Files []string `json:"files"`
	}
	callTool(t, s, "stack_save", map[string]interface{}{"title": "cells", "directory": dir, "format": "png"}, &res)
	if len(res.Files) != 3 {
		t.Fatalf("files: got %v, want 3", res.Files)
	}
	if want := filepath.Join(dir, "cells_Z2.png"); res.Files[1] != want {
		t.Errorf("file 2: got %s, want %s", res.Files[1], want)
	}
	for _, f := range res.Files {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("missing output: %v", err)
		}
	}

	// The format defaults to TIFF.
	callTool(t, s, "stack_save", map[string]interface{}{"title": "cells", "directory": dir, "series": 3, "pad": 2}, &res)
	if want := filepath.Join(dir, "cells_series_03_Z1.tif"); res.Files[0] != want {
		t.Errorf("tiff file: got %s, want %s", res.Files[0], want)
	}

	resp := toolResponse(t, s, "stack_save", map[string]interface{}{"title": "cells", "directory": dir, "format": "webp"})
	if resp.Error == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestHandleToolsCall_StackClose(t *testing.T) {
	s := newTestServer(t)
	loadStack(t, s, createTestPlanes(t, 4, 4, flat(1)))

	var res struct {
		Closed int `json:"closed"`
	}
	callTool(t, s, "stack_close", map[string]interface{}{"titles": []string{"cells", "unknown"}}, &res)
	if res.Closed != 1 {
		t.Errorf("closed: got %d, want 1", res.Closed)
	}

	resp := toolResponse(t, s, "stack_stats", map[string]interface{}{"title": "cells"})
	if resp.Error == nil {
		t.Error("closed stack should no longer be found")
	}
}

type workspaceState struct {
	Stacks  []string          `json:"stacks"`
	Rows    int               `json:"result_rows"`
	ROIs    []json.RawMessage `json:"rois"`
	Log     []string          `json:"log"`
	Options struct {
		ThresholdMethod string `json:"threshold_method"`
	} `json:"options"`
}

func TestHandleToolsCall_WorkspaceReset(t *testing.T) {
	s := newFetchServer(t, &fakeSession{
		stack: fetchedStack(t),
		rois:  []roi.ROI{{ID: 1, Shapes: []roi.Shape{roi.NewRectangle(0, 0, 2, 2)}}},
	})
	loadStack(t, s, createTestPlanes(t, 4, 4, flat(1)))
	callTool(t, s, "stack_stats", map[string]interface{}{"title": "cells"}, nil)
	callTool(t, s, "omero_fetch", map[string]interface{}{"image_id": 7}, nil)
	callTool(t, s, "workspace_options", map[string]interface{}{"threshold_method": "li"}, nil)

	var before workspaceState
	callTool(t, s, "workspace_info", map[string]interface{}{}, &before)
	if len(before.Stacks) != 2 || before.Rows != 1 || len(before.ROIs) != 1 || before.Options.ThresholdMethod != "li" {
		t.Fatalf("workspace before reset: %+v", before)
	}
	// stack_load, stack_stats, omero_fetch, workspace_options, workspace_info
	if len(before.Log) != 5 || before.Log[0] != "tools/call stack_load" {
		t.Errorf("log before reset: %v", before.Log)
	}

	callTool(t, s, "workspace_reset", map[string]interface{}{}, nil)
	if n := s.Workspace().Cache().Len(); n != 0 {
		t.Errorf("cached planes after reset: got %d, want 0", n)
	}

	var after workspaceState
	callTool(t, s, "workspace_info", map[string]interface{}{}, &after)
	if len(after.Stacks) != 0 || after.Rows != 0 || len(after.ROIs) != 0 {
		t.Errorf("workspace after reset: %+v", after)
	}
	if len(after.Log) != 1 || after.Log[0] != "tools/call workspace_info" {
		t.Errorf("log after reset: %v", after.Log)
	}
	if after.Options.ThresholdMethod != "otsu" {
		t.Errorf("options after reset: %+v", after.Options)
	}
}

func TestHandleToolsCall_Helpers(t *testing.T) {
	s := newTestServer(t)

	var title map[string]string
	callTool(t, s, "title_sanitize", map[string]interface{}{"title": "/data/my image.czi #2"}, &title)
	if title["title"] != "my_image_Series2" {
		t.Errorf("title_sanitize: got %q", title["title"])
	}

	var elapsed map[string]string
	callTool(t, s, "time_elapsed", map[string]interface{}{"start": 1000.0, "end": 4725.5}, &elapsed)
	if elapsed["elapsed"] != "01:02:05.50" {
		t.Errorf("time_elapsed: got %q, want 01:02:05.50", elapsed["elapsed"])
	}

	var pct map[string]float64
	callTool(t, s, "value_percentage", map[string]interface{}{"part": 1, "whole": 3}, &pct)
	if math.Abs(pct["percentage"]-100.0/3) > 1e-12 {
		t.Errorf("value_percentage: got %v", pct["percentage"])
	}

	var stats map[string]float64
	callTool(t, s, "values_mean_std", map[string]interface{}{"values": []interface{}{1, nil, 3}}, &stats)
	if stats["mean"] != 2 || stats["std_dev"] != 1 {
		t.Errorf("values_mean_std: got %v", stats)
	}

	callTool(t, s, "values_mean_std", map[string]interface{}{"values": []interface{}{nil, nil}}, &stats)
	if stats["mean"] != 0 || stats["std_dev"] != 0 {
		t.Errorf("values_mean_std of nulls: got %v", stats)
	}
}

func TestHandleToolsCall_PercentageOfZero(t *testing.T) {
	s := newTestServer(t)
	resp := toolResponse(t, s, "value_percentage", map[string]interface{}{"part": 1, "whole": 0})
	if resp.Error == nil {
		t.Error("expected error for zero whole")
	}
}

func TestHandleToolsCall_OmeroParseIDs(t *testing.T) {
	s := newTestServer(t)

	var link parseIDsResult
	callTool(t, s, "omero_parse_ids", map[string]interface{}{
		"input": "https://omero.example.org/webclient/?show=image-4|image-5%7Cdataset-9",
	}, &link)
	if len(link.ImageIDs) != 2 || link.ImageIDs[0] != "4" || link.ImageIDs[1] != "5" {
		t.Errorf("ImageIDs: got %v, want [4 5]", link.ImageIDs)
	}
	if len(link.DatasetIDs) != 1 || link.DatasetIDs[0] != 9 {
		t.Errorf("DatasetIDs: got %v, want [9]", link.DatasetIDs)
	}

	var list parseIDsResult
	callTool(t, s, "omero_parse_ids", map[string]interface{}{"input": "4, 5"}, &list)
	if len(list.ImageIDs) != 2 || list.ImageIDs[0] != link.ImageIDs[0] || list.ImageIDs[1] != link.ImageIDs[1] {
		t.Errorf("list ImageIDs %v differ from link %v", list.ImageIDs, link.ImageIDs)
	}

	var bad parseIDsResult
	callTool(t, s, "omero_parse_ids", map[string]interface{}{"input": "4,x"}, &bad)
	if bad.LinkError == "" {
		t.Error("expected link_error for a non-numeric id")
	}
}

func TestHandleToolsCall_OmeroFetch(t *testing.T) {
	s := newTestServer(t)

	resp := toolResponse(t, s, "omero_fetch", map[string]interface{}{"image_id": 3})
	if resp.Error == nil {
		t.Fatal("expected error without a configured host")
	}

	cfg := config.Default()
	cfg.Omero.Host = "omero.example.org"
	s = New(cfg, zerolog.Nop())
	errRefused := errors.New("connection refused")
	var gotHost string
	s.connect = func(ctx context.Context, c config.Omero, log zerolog.Logger) (omeroSession, error) {
		gotHost = c.Host
		return nil, errRefused
	}

	resp = toolResponse(t, s, "omero_fetch", map[string]interface{}{"image_id": 3})
	if resp.Error == nil {
		t.Fatal("expected connection error")
	}
	if gotHost != "omero.example.org" {
		t.Errorf("connect host: got %q", gotHost)
	}
	if resp.Error.Data != errRefused.Error() {
		t.Errorf("Error data: got %v", resp.Error.Data)
	}

	resp = toolResponse(t, s, "omero_fetch", map[string]interface{}{"image_id": 0})
	if resp.Error == nil {
		t.Error("expected error for image_id 0")
	}
}

type fakeSession struct {
	stack  *imaging.Stack
	rois   []roi.ROI
	roiErr error
	closed bool
}

func (f *fakeSession) FetchImage(ctx context.Context, id, groupID int64) (*imaging.Stack, error) {
	return f.stack, nil
}

func (f *fakeSession) ROIs(ctx context.Context, imageID int64) ([]roi.ROI, error) {
	return f.rois, f.roiErr
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func fetchedStack(t *testing.T) *imaging.Stack {
	t.Helper()
	st, err := imaging.NewStack("fetched", 4, 4, 1, 2, 1, 16)
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}
	return st
}

// newFetchServer returns a server with a configured host whose sessions are
// served by fake.
func newFetchServer(t *testing.T, fake *fakeSession) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Omero.Host = "omero.example.org"
	s := New(cfg, zerolog.Nop())
	s.connect = func(ctx context.Context, c config.Omero, log zerolog.Logger) (omeroSession, error) {
		return fake, nil
	}
	return s
}

func TestHandleToolsCall_OmeroFetchROIs(t *testing.T) {
	fake := &fakeSession{
		stack: fetchedStack(t),
		rois: []roi.ROI{
			{ID: 1, Shapes: []roi.Shape{roi.NewPoint(1, 1)}},
			{ID: 2, Shapes: []roi.Shape{roi.NewLine(0, 0, 3, 3)}},
		},
	}
	s := newFetchServer(t, fake)

	var res struct {
		Title  string `json:"title"`
		Slices int    `json:"slices"`
		ROIs   int    `json:"rois"`
	}
	callTool(t, s, "omero_fetch", map[string]interface{}{"image_id": 7}, &res)
	if res.Title != "fetched" || res.Slices != 2 || res.ROIs != 2 {
		t.Errorf("result: got %+v", res)
	}
	if len(s.Workspace().ROIs()) != 2 {
		t.Errorf("workspace ROIs: got %d, want 2", len(s.Workspace().ROIs()))
	}
	if !fake.closed {
		t.Error("session not closed")
	}

	// A failing ROI lookup still opens the image.
	fake = &fakeSession{stack: fetchedStack(t), roiErr: errors.New("forbidden")}
	s = newFetchServer(t, fake)
	callTool(t, s, "omero_fetch", map[string]interface{}{"image_id": 7}, &res)
	if res.ROIs != 0 {
		t.Errorf("rois: got %d, want 0", res.ROIs)
	}
	if _, ok := s.Workspace().Get("fetched"); !ok {
		t.Error("fetched stack not open")
	}
}

func TestHandleToolsCall_InvalidArguments(t *testing.T) {
	s := newTestServer(t)

	resp := toolResponse(t, s, "stack_load", map[string]interface{}{"paths": "not a list"})
	if resp.Error == nil {
		t.Fatal("expected error for mistyped arguments")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("Error code: got %d, want -32602", resp.Error.Code)
	}

	resp = toolResponse(t, s, "stack_stats", map[string]interface{}{"title": "missing"})
	if resp.Error == nil || resp.Error.Code != -32000 {
		t.Errorf("unknown stack should fail with -32000: %+v", resp.Error)
	}
}

func TestHandleToolsCall_InvalidTool(t *testing.T) {
	s := newTestServer(t)
	resp := toolResponse(t, s, "nonexistent_tool", map[string]interface{}{})
	if resp.Error == nil {
		t.Fatal("Expected error for unknown tool")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer(t)
	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  json.RawMessage(`{invalid json`),
	}

	resp := s.handleRequest(context.Background(), req)

	if resp.Error == nil {
		t.Fatal("Expected error for invalid params")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("Error code: got %d, want -32602", resp.Error.Code)
	}
}

func TestExecuteTool_MissingStack(t *testing.T) {
	s := newTestServer(t)

	for _, name := range []string{"stack_focus", "stack_stats", "stack_threshold", "stack_project", "stack_preview"} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.executeTool(context.Background(), name, json.RawMessage(`{"title":"missing"}`)); err == nil {
				t.Errorf("%s should fail for a stack that is not open", name)
			}
			if _, err := s.executeTool(context.Background(), name, json.RawMessage(`{}`)); err == nil {
				t.Errorf("%s should fail without a title", name)
			}
		})
	}
}

func TestExecuteTool_InvalidJSON(t *testing.T) {
	s := newTestServer(t)

	_, err := s.executeTool(context.Background(), "stack_load", json.RawMessage(`{invalid`))
	if !errors.Is(err, errInvalidArguments) {
		t.Errorf("executeTool: got %v, want errInvalidArguments", err)
	}
}
