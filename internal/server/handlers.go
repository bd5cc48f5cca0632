package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/imcf/image-tools/internal/export"
	"github.com/imcf/image-tools/internal/imaging"
	"github.com/imcf/image-tools/internal/omero"
	"github.com/imcf/image-tools/internal/results"
	"github.com/imcf/image-tools/internal/roi"
	"github.com/imcf/image-tools/internal/status"
	"github.com/imcf/image-tools/internal/workspace"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "stack_load", "stack_focus").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Arguments that do not decode return code -32602, other tool execution
// errors code -32000. Every call is recorded in the workspace log.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	s.ws.Log("tools/call " + params.Name)
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if errors.Is(err, errInvalidArguments) {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	if err != nil {
		s.log.Warn().Err(err).Str("tool", params.Name).Msg("tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies defaults from the workspace options
//  3. Looks up open stacks by title
//  4. Calls the imaging, export, status or omero function
//  5. Returns the result or error
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Stacks
	case "stack_load":
		return s.handleStackLoad(args)
	case "stack_list":
		return s.handleStackList()
	case "stack_close":
		return s.handleStackClose(args)
	case "stack_preview":
		return s.handleStackPreview(args)
	case "stack_crop":
		return s.handleStackCrop(args)
	case "stack_save":
		return s.handleStackSave(args)

	// Analysis
	case "stack_focus":
		return s.handleStackFocus(args)
	case "stack_stats":
		return s.handleStackStats(args)
	case "stack_threshold":
		return s.handleStackThreshold(args)
	case "stack_subtract":
		return s.handleStackSubtract(args)
	case "stack_project":
		return s.handleStackProject(args)

	// Helpers
	case "title_sanitize":
		return s.handleTitleSanitize(args)
	case "time_elapsed":
		return s.handleTimeElapsed(args)
	case "value_percentage":
		return s.handleValuePercentage(args)
	case "values_mean_std":
		return s.handleValuesMeanStd(args)
	case "results_save":
		return s.handleResultsSave(args)

	// Workspace
	case "workspace_info":
		return s.handleWorkspaceInfo()
	case "workspace_options":
		return s.handleWorkspaceOptions(args)
	case "workspace_reset":
		return s.handleWorkspaceReset()

	// Remote
	case "omero_parse_ids":
		return s.handleOmeroParseIDs(args)
	case "omero_fetch":
		return s.handleOmeroFetch(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errInvalidArguments marks tool arguments that could not be decoded.
var errInvalidArguments = errors.New("invalid arguments")

// decodeArgs unmarshals tool arguments into v. Missing arguments decode as
// an empty object.
func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	return nil
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON marshals v to a JSON string. NaN values are rejected by
// encoding/json, so on failure the error text is returned instead.
func mustMarshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// stack returns the open stack named title.
func (s *Server) stack(title string) (*imaging.Stack, error) {
	if title == "" {
		return nil, errors.New("title is required")
	}
	st, ok := s.ws.Get(title)
	if !ok {
		return nil, fmt.Errorf("no open stack titled %q", title)
	}
	return st, nil
}

// Handler implementations

type stackLoadArgs struct {
	Paths    []string `json:"paths"`
	Title    string   `json:"title"`
	Channels int      `json:"channels"`
	Slices   int      `json:"slices"`
	Frames   int      `json:"frames"`
}

func (s *Server) handleStackLoad(args json.RawMessage) (interface{}, error) {
	var a stackLoadArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Channels == 0 {
		a.Channels = 1
	}
	if a.Frames == 0 {
		a.Frames = 1
	}
	if a.Slices == 0 && a.Channels*a.Frames > 0 {
		a.Slices = len(a.Paths) / (a.Channels * a.Frames)
	}

	st, err := s.ws.Load(a.Title, a.Paths, a.Channels, a.Slices, a.Frames)
	if err != nil {
		return nil, err
	}
	return st.Info(), nil
}

func (s *Server) handleStackList() (interface{}, error) {
	stacks := s.ws.Stacks()
	out := make([]*imaging.StackInfo, 0, len(stacks))
	for _, st := range stacks {
		out = append(out, st.Info())
	}
	return map[string]interface{}{"stacks": out}, nil
}

type stackCloseArgs struct {
	Titles []string `json:"titles"`
}

func (s *Server) handleStackClose(args json.RawMessage) (interface{}, error) {
	var a stackCloseArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	closed := 0
	for _, title := range a.Titles {
		if st, ok := s.ws.Get(title); ok {
			s.ws.Close(st)
			closed++
		}
	}
	return map[string]interface{}{"closed": closed}, nil
}

type planeArgs struct {
	Title   string `json:"title"`
	Channel int    `json:"channel"`
	Slice   int    `json:"slice"`
	Frame   int    `json:"frame"`
}

// position returns the 1-based plane position, defaulting each index to 1.
func (a planeArgs) position() (c, z, t int) {
	c, z, t = max(a.Channel, 1), max(a.Slice, 1), max(a.Frame, 1)
	return c, z, t
}

type stackPreviewArgs struct {
	planeArgs
	X1    *int    `json:"x1"`
	Y1    *int    `json:"y1"`
	X2    *int    `json:"x2"`
	Y2    *int    `json:"y2"`
	Scale float64 `json:"scale"`
}

func (s *Server) handleStackPreview(args json.RawMessage) (interface{}, error) {
	var a stackPreviewArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	st, err := s.stack(a.Title)
	if err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}

	var region *image.Rectangle
	if a.X1 != nil || a.Y1 != nil || a.X2 != nil || a.Y2 != nil {
		if a.X1 == nil || a.Y1 == nil || a.X2 == nil || a.Y2 == nil {
			return nil, errors.New("a region needs x1, y1, x2 and y2")
		}
		r := image.Rect(*a.X1, *a.Y1, *a.X2, *a.Y2)
		region = &r
	}

	c, z, t := a.position()
	return imaging.Preview(st, c, z, t, region, a.Scale)
}

type stackCropArgs struct {
	Title    string `json:"title"`
	X1       int    `json:"x1"`
	Y1       int    `json:"y1"`
	X2       int    `json:"x2"`
	Y2       int    `json:"y2"`
	NewTitle string `json:"new_title"`
}

func (s *Server) handleStackCrop(args json.RawMessage) (interface{}, error) {
	var a stackCropArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	st, err := s.stack(a.Title)
	if err != nil {
		return nil, err
	}
	out, err := imaging.CropStack(st, image.Rect(a.X1, a.Y1, a.X2, a.Y2))
	if err != nil {
		return nil, err
	}
	out.Title = a.Title + "-crop"
	if a.NewTitle != "" {
		out.Title = a.NewTitle
	}
	s.ws.Open(out)
	return out.Info(), nil
}

type stackSaveArgs struct {
	Title         string   `json:"title"`
	Directory     string   `json:"directory"`
	Format        string   `json:"format"`
	SplitChannels bool     `json:"split_channels"`
	Composite     bool     `json:"composite"`
	Series        *int     `json:"series"`
	Pad           int      `json:"pad"`
	Colors        []string `json:"colors"`
}

func (s *Server) handleStackSave(args json.RawMessage) (interface{}, error) {
	var a stackSaveArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	st, err := s.stack(a.Title)
	if err != nil {
		return nil, err
	}
	if a.Directory == "" {
		return nil, errors.New("directory is required")
	}
	if a.Format == "" {
		a.Format = s.ws.Options().ExportFormat
	}

	opts := export.DefaultOptions()
	opts.SplitChannels = a.SplitChannels
	opts.Composite = a.Composite
	opts.Pad = a.Pad
	opts.Colors = a.Colors
	if a.Series != nil {
		opts.Series = *a.Series
	}

	files, err := export.Save(st, a.Directory, a.Format, opts)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"files": files}, nil
}

type stackFocusArgs struct {
	Title  string `json:"title"`
	Method string `json:"method"`
}

type focusResult struct {
	Slice    int       `json:"slice"`
	PerFrame []int     `json:"per_frame"`
	Method   string    `json:"method"`
	Scores   []float64 `json:"scores"`
}

func (s *Server) handleStackFocus(args json.RawMessage) (interface{}, error) {
	var a stackFocusArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	st, err := s.stack(a.Title)
	if err != nil {
		return nil, err
	}

	method := s.ws.Options().FocusMethod
	if a.Method != "" {
		if method, err = imaging.ParseFocusMethod(a.Method); err != nil {
			return nil, err
		}
	}

	perFrame, err := imaging.FindFocusPerFrame(st, method)
	if err != nil {
		return nil, err
	}
	scores, err := imaging.FocusScores(st, st.Frames, method)
	if err != nil {
		return nil, err
	}
	return &focusResult{
		Slice:    perFrame[len(perFrame)-1],
		PerFrame: perFrame,
		Method:   string(method),
		Scores:   scores,
	}, nil
}

func (s *Server) handleStackStats(args json.RawMessage) (interface{}, error) {
	var a titleArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	st, err := s.stack(a.Title)
	if err != nil {
		return nil, err
	}
	planes, err := imaging.StackStatistics(st)
	if err != nil {
		return nil, err
	}
	table := s.ws.Results()
	for _, p := range planes {
		table.AddRow(p.Row(st.Title))
	}
	return map[string]interface{}{"planes": planes, "result_rows": table.Len()}, nil
}

type stackThresholdArgs struct {
	Title  string `json:"title"`
	Method string `json:"method"`
	Apply  bool   `json:"apply"`
}

func (s *Server) handleStackThreshold(args json.RawMessage) (interface{}, error) {
	var a stackThresholdArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	st, err := s.stack(a.Title)
	if err != nil {
		return nil, err
	}
	if a.Method == "" {
		a.Method = s.ws.Options().ThresholdMethod
	}

	level, err := imaging.ThresholdValue(st, a.Method)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{
		"method":    a.Method,
		"threshold": level,
	}
	if a.Apply {
		mask, err := imaging.ApplyThreshold(st, level)
		if err != nil {
			return nil, err
		}
		s.ws.Open(mask)
		result["mask"] = mask.Info()
	}
	return result, nil
}

type stackSubtractArgs struct {
	Title    string `json:"title"`
	Subtract string `json:"subtract"`
}

func (s *Server) handleStackSubtract(args json.RawMessage) (interface{}, error) {
	var a stackSubtractArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	st, err := s.stack(a.Title)
	if err != nil {
		return nil, err
	}
	bg, err := s.stack(a.Subtract)
	if err != nil {
		return nil, err
	}
	out, err := imaging.Subtract(st, bg)
	if err != nil {
		return nil, err
	}
	s.ws.Open(out)
	return out.Info(), nil
}

func (s *Server) handleStackProject(args json.RawMessage) (interface{}, error) {
	var a titleArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	st, err := s.stack(a.Title)
	if err != nil {
		return nil, err
	}
	out, err := imaging.MaxProjection(st)
	if err != nil {
		return nil, err
	}
	s.ws.Open(out)
	return out.Info(), nil
}

type titleArgs struct {
	Title string `json:"title"`
}

func (s *Server) handleTitleSanitize(args json.RawMessage) (interface{}, error) {
	var a titleArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return map[string]string{"title": imaging.SanitizeTitle(a.Title)}, nil
}

type timeElapsedArgs struct {
	// Start and End are Unix timestamps in seconds.
	Start float64  `json:"start"`
	End   *float64 `json:"end"`
}

func (s *Server) handleTimeElapsed(args json.RawMessage) (interface{}, error) {
	var a timeElapsedArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	var end time.Time
	if a.End != nil {
		end = unixSeconds(*a.End)
	}
	return map[string]string{
		"elapsed": status.ElapsedTimeSince(unixSeconds(a.Start), end),
	}, nil
}

func unixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

type percentageArgs struct {
	Part  float64 `json:"part"`
	Whole float64 `json:"whole"`
}

func (s *Server) handleValuePercentage(args json.RawMessage) (interface{}, error) {
	var a percentageArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Whole == 0 {
		return nil, errors.New("whole must not be zero")
	}
	return map[string]float64{"percentage": imaging.Percentage(a.Part, a.Whole)}, nil
}

type meanStdArgs struct {
	// Values may contain nulls, which are skipped.
	Values []*float64 `json:"values"`
}

func (s *Server) handleValuesMeanStd(args json.RawMessage) (interface{}, error) {
	var a meanStdArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	values := make([]float64, len(a.Values))
	for i, v := range a.Values {
		if v == nil {
			values[i] = math.NaN()
			continue
		}
		values[i] = *v
	}
	mean, std := imaging.MeanAndStdDev(values)
	return map[string]float64{"mean": mean, "std_dev": std}, nil
}

type resultsSaveArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleResultsSave(args json.RawMessage) (interface{}, error) {
	var a resultsSaveArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errors.New("path is required")
	}
	rows := s.ws.Results().Rows()
	if len(rows) == 0 {
		return nil, errors.New("the results table is empty")
	}
	if err := results.AppendCSV(a.Path, rows...); err != nil {
		return nil, err
	}
	s.ws.Log(fmt.Sprintf("appended %d result rows to %s", len(rows), a.Path))
	return map[string]interface{}{"path": a.Path, "rows": len(rows)}, nil
}

type workspaceInfo struct {
	Stacks  []string          `json:"stacks"`
	Columns []string          `json:"result_columns"`
	Rows    int               `json:"result_rows"`
	ROIs    []roi.ROI         `json:"rois"`
	Log     []string          `json:"log"`
	Options workspace.Options `json:"options"`
}

func (s *Server) handleWorkspaceInfo() (interface{}, error) {
	info := &workspaceInfo{
		Stacks:  []string{},
		Columns: s.ws.Results().Columns(),
		Rows:    s.ws.Results().Len(),
		ROIs:    s.ws.ROIs(),
		Log:     s.ws.LogLines(),
		Options: s.ws.Options(),
	}
	for _, st := range s.ws.Stacks() {
		info.Stacks = append(info.Stacks, st.Title)
	}
	if info.ROIs == nil {
		info.ROIs = []roi.ROI{}
	}
	return info, nil
}

type workspaceOptionsArgs struct {
	FocusMethod     string `json:"focus_method"`
	ThresholdMethod string `json:"threshold_method"`
	ExportFormat    string `json:"export_format"`
}

func (s *Server) handleWorkspaceOptions(args json.RawMessage) (interface{}, error) {
	var a workspaceOptionsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	opts := s.ws.Options()
	if a.FocusMethod != "" {
		m, err := imaging.ParseFocusMethod(a.FocusMethod)
		if err != nil {
			return nil, err
		}
		opts.FocusMethod = m
	}
	if a.ThresholdMethod != "" {
		name := strings.ToLower(a.ThresholdMethod)
		if !slices.Contains(imaging.ThresholdMethods(), name) {
			return nil, fmt.Errorf("threshold method %q: %w", a.ThresholdMethod, imaging.ErrUnknownMethod)
		}
		opts.ThresholdMethod = name
	}
	if a.ExportFormat != "" {
		format := strings.ToLower(strings.TrimPrefix(a.ExportFormat, "."))
		if !slices.Contains(export.Formats, format) {
			return nil, fmt.Errorf("%w: %q", export.ErrUnsupportedFormat, a.ExportFormat)
		}
		opts.ExportFormat = format
	}
	s.ws.SetOptions(opts)
	return opts, nil
}

func (s *Server) handleWorkspaceReset() (interface{}, error) {
	s.ws.Reset()
	return map[string]bool{"reset": true}, nil
}

type parseIDsArgs struct {
	Input string `json:"input"`
}

// parseIDsResult reports both readings of the input: the plain image ID
// list, and the typed image-/dataset- markers of a web client link.
type parseIDsResult struct {
	ImageIDs   []string `json:"image_ids"`
	DatasetIDs []int64  `json:"dataset_ids,omitempty"`
	LinkImages []int64  `json:"link_image_ids,omitempty"`
	LinkError  string   `json:"link_error,omitempty"`
}

func (s *Server) handleOmeroParseIDs(args json.RawMessage) (interface{}, error) {
	var a parseIDsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	res := &parseIDsResult{ImageIDs: omero.ParseImageIDs(a.Input)}
	if res.ImageIDs == nil {
		res.ImageIDs = []string{}
	}
	targets, err := omero.ParseTargets(a.Input)
	if err != nil {
		res.LinkError = err.Error()
		return res, nil
	}
	res.DatasetIDs = targets.DatasetIDs
	res.LinkImages = targets.ImageIDs
	return res, nil
}

type omeroFetchArgs struct {
	ImageID int64  `json:"image_id"`
	GroupID *int64 `json:"group_id"`
}

func (s *Server) handleOmeroFetch(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a omeroFetchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.ImageID <= 0 {
		return nil, errors.New("image_id must be positive")
	}
	if s.cfg.Omero.Host == "" {
		return nil, errors.New("no OMERO host configured")
	}
	group := s.cfg.Omero.GroupID
	if a.GroupID != nil {
		group = *a.GroupID
	}

	client, err := s.connect(ctx, s.cfg.Omero, s.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to close OMERO session")
		}
	}()

	st, err := client.FetchImage(ctx, a.ImageID, group)
	if err != nil {
		return nil, err
	}
	s.ws.Open(st)

	// The image is usable without its ROIs.
	rois, err := client.ROIs(ctx, a.ImageID)
	if err != nil {
		s.log.Warn().Err(err).Int64("image", a.ImageID).Msg("failed to read ROIs")
	}
	for _, r := range rois {
		s.ws.AddROI(r)
	}
	return &fetchResult{StackInfo: st.Info(), ROIs: len(rois)}, nil
}

type fetchResult struct {
	*imaging.StackInfo
	ROIs int `json:"rois"`
}
