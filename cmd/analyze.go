package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoDBVault/pkg/database"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [connection]",
	Short: "Analyze storage usage of a database",
	Args:  cobra.ExactArgs(1),
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

		analysis, err := conn.AnalyzeStorage(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(analysis)
		}

		fmt.Printf("Storage analysis for %s (%s)\n\n", cfg.Name, cfg.Type)
		fmt.Printf("Total size:    %s\n", humanize.IBytes(uint64(analysis.TotalSize)))
		fmt.Printf("Tables:        %d\n", analysis.TableCount)
		fmt.Printf("Indexes:       %d\n", analysis.IndexCount)
		if analysis.LargestTable.Name != "" {
			fmt.Printf("Largest table: %s (%s)\n", analysis.LargestTable.Name, humanize.IBytes(uint64(analysis.LargestTable.Size)))
		}

		top, _ := cmd.Flags().GetInt("top")
		tables := analysis.Tables
		if top > 0 && len(tables) > top {
			tables = tables[:top]
		}
		if len(tables) > 0 {
			fmt.Println()
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("TABLE", "SIZE", "ROWS", "INDEX SIZE", "BLOAT")
			for _, t := range tables {
				table.Append(
					t.Name,
					humanize.IBytes(uint64(t.Size)),
					humanize.Comma(t.RowCount),
					humanize.IBytes(uint64(t.IndexSize)),
					fmt.Sprintf("%.1f%%", t.Bloat),
				)
			}
			table.Render()
			if top > 0 && len(analysis.Tables) > top {
				fmt.Printf("(%d more tables, rerun with --top 0 to see all)\n", len(analysis.Tables)-top)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().Bool("json", false, "Emit the raw analysis as JSON")
	analyzeCmd.Flags().Int("top", 20, "Show only the N largest tables (0 for all)")
}
