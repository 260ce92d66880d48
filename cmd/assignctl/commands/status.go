package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perceptionlab/assignd/internal/cli"
	"github.com/perceptionlab/assignd/internal/client"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-condition load",
	Long: `Show the active, completed and combined load for every condition,
after dropping records older than the session timeout.

Examples:
  assignctl status --env prod
  assignctl status --env prod --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envCfg, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		ctx := context.Background()
		status, err := c.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		if !quiet {
			return cli.PrintStatus(status, cli.OutputFormat(format))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
