package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/perceptionlab/assignd/internal/client"
	"github.com/perceptionlab/assignd/internal/store"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintStatus outputs the per-condition load breakdown in the specified format
func PrintStatus(status *client.StatusResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(status)
	case FormatYAML:
		return printYAML(status)
	case FormatTable:
		return printStatusTable(status)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintState outputs an exported assignment state in the specified format
func PrintState(state *store.State, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(state)
	case FormatYAML:
		return printYAML(state)
	case FormatTable:
		return printStateTable(state)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printStatusTable(status *client.StatusResult) error {
	table := tablewriter.NewWriter(os.Stdout)

	table.Header("Condition", "Active", "Completed", "Load")

	for _, row := range status.Conditions {
		table.Append(
			string(row.Condition),
			strconv.Itoa(row.Active),
			strconv.Itoa(row.Completed),
			strconv.Itoa(row.Load),
		)
	}

	if err := table.Render(); err != nil {
		return err
	}

	fmt.Printf("\nPolicy: %s\n", status.Policy)
	return nil
}

func printStateTable(state *store.State) error {
	table := tablewriter.NewWriter(os.Stdout)

	table.Header("Participant", "Condition", "Assigned At")

	for pid, rec := range state.Active {
		table.Append(
			pid,
			string(rec.Condition),
			time.Unix(rec.AssignedAt, 0).UTC().Format("2006-01-02 15:04:05"),
		)
	}

	if err := table.Render(); err != nil {
		return err
	}

	total := 0
	for _, n := range state.Completed {
		total += n
	}
	fmt.Printf("\nActive: %d  Completed: %d\n", len(state.Active), total)
	return nil
}
