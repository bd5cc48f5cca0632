// Package server implements the MCP (Model Context Protocol) server that
// exposes the image-tools helpers as tools.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Logs go to the logger passed to New and never to stdout.
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Stacks:
//   - stack_load, stack_list, stack_close
//   - stack_preview, stack_crop, stack_save
//
// Analysis:
//   - stack_focus, stack_stats, stack_threshold, stack_subtract, stack_project
//
// Helpers:
//   - title_sanitize, time_elapsed, value_percentage, values_mean_std
//
// Workspace:
//   - results_save, workspace_info, workspace_options, workspace_reset
//
// Remote:
//   - omero_parse_ids, omero_fetch
//
// # Workspace
//
// Stacks are referenced by title. Loading, fetching or deriving a stack opens
// it in the server's workspace, where it stays until it is closed or the
// workspace is reset. Opening a stack under a title that is already open
// replaces the old stack. Plane files are cached by path. The workspace also
// collects stack_stats rows, the ROIs of fetched images and a log of every
// tool call.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32602 (arguments that do not decode), -32000 (tool execution
//     failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// # Usage
//
//	srv := server.New(cfg, log)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal().Err(err).Msg("server stopped")
//	}
package server
