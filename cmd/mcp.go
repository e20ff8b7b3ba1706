package cmd

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/tbprogress/internal/mcptools"
)

// newMCPCmd creates the 'mcp' subcommand, which serves recorded runs as
// Model Context Protocol tools over stdio.
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve recorded runs as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger().Named("mcp")
			server := mcptools.NewServer(appInstance.Repository(), Version, logger)
			logger.Info("serving mcp tools on stdio")
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
