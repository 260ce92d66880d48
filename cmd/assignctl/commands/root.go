package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "assignctl",
	Short: "CLI tool for operating the assignd service",
	Long: `Assignctl is a command-line tool for operating the assignd
experiment coordination service.

It provides commands for inspecting condition loads, exporting the
assignment state, and retrieving archived participant submissions.

Examples:
  assignctl status --env prod
  assignctl export --env prod --output state.yaml
  assignctl data list --env prod
  assignctl data get p1_1700000000.csv --env prod`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the assignd API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Admin API key for authentication")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment from the config file (dev, prod)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
}
