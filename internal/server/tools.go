package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func titleProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Title of an open stack",
	}
}

func intProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Stacks
		{
			Name:        "stack_load",
			Description: "Load plane image files into a stack and open it in the workspace. Files are ordered channel fastest, then slice, then frame.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Absolute paths of the plane files",
					},
					"title": map[string]interface{}{
						"type":        "string",
						"description": "Stack title (default: first file name without extension)",
					},
					"channels": intProperty("Number of channels (default: 1)"),
					"slices":   intProperty("Number of Z slices (default: number of files / (channels * frames))"),
					"frames":   intProperty("Number of time frames (default: 1)"),
				},
				"required": []string{"paths"},
			},
		},
		{
			Name:        "stack_list",
			Description: "List the stacks open in the workspace with their dimensions.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "stack_close",
			Description: "Close open stacks without saving them.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"titles": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Titles of the stacks to close",
					},
				},
				"required": []string{"titles"},
			},
		},
		{
			Name:        "stack_preview",
			Description: "Render one plane as an autoscaled 8-bit PNG and return it base64-encoded. Optionally crop to a region and scale the result.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":   titleProperty(),
					"channel": intProperty("Channel, 1-based (default: 1)"),
					"slice":   intProperty("Z slice, 1-based (default: 1)"),
					"frame":   intProperty("Time frame, 1-based (default: 1)"),
					"x1":      intProperty("Left edge of the region (0-based)"),
					"y1":      intProperty("Top edge of the region (0-based)"),
					"x2":      intProperty("Right edge of the region (exclusive)"),
					"y2":      intProperty("Bottom edge of the region (exclusive)"),
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Scale factor for the output (default: 1.0)",
						"default":     1.0,
					},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        "stack_crop",
			Description: "Crop every plane of a stack to a rectangle and open the result as a new stack.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": titleProperty(),
					"x1":    intProperty("Left edge X coordinate (0-based)"),
					"y1":    intProperty("Top edge Y coordinate (0-based)"),
					"x2":    intProperty("Right edge X coordinate (exclusive)"),
					"y2":    intProperty("Bottom edge Y coordinate (exclusive)"),
					"new_title": map[string]interface{}{
						"type":        "string",
						"description": "Title of the cropped stack (default: <title>-crop)",
					},
				},
				"required": []string{"title", "x1", "y1", "x2", "y2"},
			},
		},
		{
			Name:        "stack_save",
			Description: "Save a stack to a directory, one file per plane. File names follow <title>[_series_N][_C][_Z][_T].<ext>.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": titleProperty(),
					"directory": map[string]interface{}{
						"type":        "string",
						"description": "Output directory, created if missing",
					},
					"format": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"tif", "tiff", "png", "jpg", "jpeg", "gif", "bmp"},
						"description": "Output format (default: tif)",
					},
					"split_channels": map[string]interface{}{
						"type":        "boolean",
						"description": "Write each channel into its own C<n> subdirectory",
						"default":     false,
					},
					"series": intProperty("Series number added to the file names"),
					"pad":    intProperty("Digits the series number is padded to"),
					"colors": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Channel colours (#RRGGBB) for composite output",
					},
				},
				"required": []string{"title", "directory"},
			},
		},

		// Analysis
		{
			Name:        "stack_focus",
			Description: "Find the best focused Z slice of a single-channel stack. Returns the best slice of the last frame, the best slice of every frame and the last frame's per-slice scores.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": titleProperty(),
					"method": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"variance", "tenengrad"},
						"description": "Sharpness score (default: variance)",
					},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        "stack_stats",
			Description: "Compute mean, standard deviation, minimum and maximum of every plane. The rows are also added to the workspace results table.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": titleProperty(),
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        "stack_threshold",
			Description: "Compute an automatic threshold from the stack histogram. Optionally open the binary mask of pixels above it.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": titleProperty(),
					"method": map[string]interface{}{
						"type":        "string",
						"description": "Auto-threshold method such as otsu, huang, li, triangle or yen (default: otsu)",
					},
					"apply": map[string]interface{}{
						"type":        "boolean",
						"description": "Open the thresholded mask as a new stack",
						"default":     false,
					},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        "stack_subtract",
			Description: "Subtract one stack from another of the same shape, clamping at zero, and open the result.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": titleProperty(),
					"subtract": map[string]interface{}{
						"type":        "string",
						"description": "Title of the stack to subtract",
					},
				},
				"required": []string{"title", "subtract"},
			},
		},
		{
			Name:        "stack_project",
			Description: "Maximum intensity projection along Z. Opens the result as MAX_<title>.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": titleProperty(),
				},
				"required": []string{"title"},
			},
		},

		// Helpers
		{
			Name:        "title_sanitize",
			Description: "Clean an image title: keep the part after the last slash, drop .czi, replace spaces with underscores, drop _-_, collapse double underscores and replace # with Series.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": map[string]interface{}{
						"type":        "string",
						"description": "Title to sanitize",
					},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        "time_elapsed",
			Description: "Format the time between two Unix timestamps as HH:MM:SS.ss.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"start": map[string]interface{}{
						"type":        "number",
						"description": "Start as Unix time in seconds",
					},
					"end": map[string]interface{}{
						"type":        "number",
						"description": "End as Unix time in seconds (default: now)",
					},
				},
				"required": []string{"start"},
			},
		},
		{
			Name:        "value_percentage",
			Description: "Compute 100 * part / whole without rounding.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"part": map[string]interface{}{
						"type":        "number",
						"description": "Partial value",
					},
					"whole": map[string]interface{}{
						"type":        "number",
						"description": "Total value, must not be zero",
					},
				},
				"required": []string{"part", "whole"},
			},
		},
		{
			Name:        "values_mean_std",
			Description: "Compute the mean and population standard deviation of a list of numbers. Null entries are skipped.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"values": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": []string{"number", "null"}},
						"description": "Values to summarise",
					},
				},
				"required": []string{"values"},
			},
		},

		// Workspace
		{
			Name:        "results_save",
			Description: "Append the workspace results table to a CSV file. A new or empty file gets a header row first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path of the CSV file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "workspace_info",
			Description: "Describe the workspace: open stack titles, results table size, regions of interest, log lines and session options.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "workspace_options",
			Description: "Set the session defaults used when a tool call leaves the method or format out. Returns the options in effect.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"focus_method": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"variance", "tenengrad"},
						"description": "Default for stack_focus",
					},
					"threshold_method": map[string]interface{}{
						"type":        "string",
						"description": "Default for stack_threshold",
					},
					"export_format": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"tif", "tiff", "png", "jpg", "jpeg", "gif", "bmp"},
						"description": "Default for stack_save",
					},
				},
			},
		},
		{
			Name:        "workspace_reset",
			Description: "Close all stacks and clear results, regions of interest, the log and cached planes.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// Remote
		{
			Name:        "omero_parse_ids",
			Description: "Extract image IDs from an OMERO web client link or a comma-separated ID list. Links are also scanned for dataset markers.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"input": map[string]interface{}{
						"type":        "string",
						"description": "Web client link or comma-separated IDs",
					},
				},
				"required": []string{"input"},
			},
		},
		{
			Name:        "omero_fetch",
			Description: "Download an image from the configured OMERO server and open it as a stack. Its regions of interest are added to the workspace.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_id": intProperty("OMERO image ID"),
					"group_id": intProperty("Group to read from (default: configured group)"),
				},
				"required": []string{"image_id"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
