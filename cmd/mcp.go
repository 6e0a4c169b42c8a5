package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Every tool call acts as the user configured as mcp.user, with that user's
role. Configure your MCP client with:

  {
    "mcpServers": {
      "tracker": { "command": "tracker", "args": ["mcp"] }
    }
  }

Available tools: tracker_list_issues, tracker_get_issue, tracker_create_issue,
tracker_update_issue, tracker_set_status, tracker_delete_issue`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	svc, provider, err := newService()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	srv := mcp.NewServer(svc, provider, viper.GetString("mcp.user"), buildVersion)
	return srv.ServeStdio(ctx)
}
