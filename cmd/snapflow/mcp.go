package main

import (
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/snapflow/capture"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP server on stdio exposing the capture tools",
	Long: `Run an MCP server on stdio. Logs and stdout sink lines go to stderr so
the protocol stream on stdout stays clean.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		c, err := capture.New(capture.Options{Config: cfg, Stdout: os.Stderr, Logger: logger})
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Start(ctx); err != nil {
			return err
		}

		srv := mcp.NewServer(&mcp.Implementation{Name: "snapflow", Version: version}, nil)
		c.RegisterMCP(srv)

		logger.Info("snapflow: mcp on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	},
}
