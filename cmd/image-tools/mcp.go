package main

import (
	"github.com/spf13/cobra"

	"github.com/imcf/image-tools/internal/server"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the helpers as MCP tools over stdin/stdout",
	Long: "Run an MCP (Model Context Protocol) server speaking JSON-RPC 2.0 on " +
		"stdin/stdout. Logs are written to stderr.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		server.Name = "image-tools"
		server.Version = Version
		logger.Debug().Str("version", Version).Str("commit", GitCommit).Msg("starting MCP server")

		srv := server.New(cfg, logger)
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
