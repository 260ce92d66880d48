package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perceptionlab/assignd/internal/cli"
	"github.com/perceptionlab/assignd/internal/client"
)

var (
	dataGetOutput string
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Work with archived submissions",
	Long:  `List and retrieve archived participant submission files.`,
}

var dataListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived submissions",
	Long: `List the archived submission filenames, sorted by name.

Examples:
  assignctl data list --env prod`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envCfg, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		ctx := context.Background()
		names, err := c.ListData(ctx)
		if err != nil {
			return fmt.Errorf("failed to list submissions: %w", err)
		}

		if !quiet {
			if len(names) == 0 {
				fmt.Println("No submissions found")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
		}

		return nil
	},
}

var dataGetCmd = &cobra.Command{
	Use:   "get <filename>",
	Short: "Retrieve one archived submission",
	Long: `Retrieve a single archived submission CSV.

Examples:
  assignctl data get p1_1700000000.csv --env prod
  assignctl data get p1_1700000000.csv --env prod --output p1.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := args[0]

		envCfg, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		ctx := context.Background()
		data, err := c.GetData(ctx, filename)
		if err != nil {
			return fmt.Errorf("failed to get submission: %w", err)
		}

		if dataGetOutput == "" || dataGetOutput == "-" {
			if _, err := os.Stdout.Write(data); err != nil {
				return err
			}
			return nil
		}

		if err := os.WriteFile(dataGetOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "Saved %s (%d bytes)\n", dataGetOutput, len(data))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataListCmd)
	dataCmd.AddCommand(dataGetCmd)

	dataGetCmd.Flags().StringVarP(&dataGetOutput, "output", "o", "", "Output file (default: stdout)")
}
