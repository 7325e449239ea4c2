package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoDBVault/pkg/database"
)

var queryCmd = &cobra.Command{
	Use:   "query [connection] [statement]",
	Short: "Execute a statement against a stored connection",
	Long: `Execute a statement against a stored connection. Safe mode is on by
default and rejects anything but read-only statements; pass --unsafe to
allow writes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		cfg, err := a.connection(args[0])
		if err != nil {
			return err
		}

		conn, err := database.New(cfg, database.WithLogger(a.logger))
		if err != nil {
			return err
		}
		if err := conn.Connect(cmd.Context()); err != nil {
			return err
		}
		defer conn.Close()

		unsafe, _ := cmd.Flags().GetBool("unsafe")
		result, err := conn.ExecuteQuery(cmd.Context(), args[1], !unsafe)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		if len(result.Columns) > 0 {
			table := tablewriter.NewWriter(os.Stdout)
			headers := make([]any, len(result.Columns))
			for i, col := range result.Columns {
				headers[i] = col
			}
			table.Header(headers...)

			for _, row := range result.Rows {
				values := make([]any, len(result.Columns))
				for i, col := range result.Columns {
					values[i] = formatCell(row[col])
				}
				table.Append(values...)
			}
			table.Render()
		}
		fmt.Printf("\n(%d rows, %d ms)\n", result.RowCount, result.ExecutionTime.Milliseconds())

		if explain, _ := cmd.Flags().GetBool("explain"); explain {
			if result.ExplainPlan == "" {
				fmt.Println("\nNo execution plan available.")
			} else {
				fmt.Printf("\n%s\n", result.ExplainPlan)
			}
		}
		return nil
	},
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().Bool("unsafe", false, "Allow write statements")
	queryCmd.Flags().Bool("json", false, "Emit the result as JSON")
	queryCmd.Flags().Bool("explain", false, "Show the execution plan when available")
}
