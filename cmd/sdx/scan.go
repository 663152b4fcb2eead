package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sdx/internal/scanner"
)

var scanJSON bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the workspace and update the index",
	Long: `Scan walks the raw data tree and the optimization artifacts, updates
the SQLite index, removes rows whose files vanished, and prints a report of
what changed.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the report as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := scanner.NewEngine(db, cfg, logger)
	report, err := engine.Scan(context.Background())
	if err != nil {
		return err
	}

	if scanJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

func printReport(report *scanner.Report) {
	fmt.Printf("Scan %s finished in %dms\n", report.ScanID, report.DurationMs)
	printCounts("tests", report.Tests)
	printCounts("parameters", report.Parameters)
	printCounts("results", report.Results)
	printCounts("visualizations", report.Visualizations)

	if len(report.Errors) > 0 {
		fmt.Printf("\n%d item(s) skipped:\n", len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("  %s: %s (%s)\n", e.Path, e.Message, e.Code)
		}
	}
}

func printCounts(name string, c scanner.Counts) {
	fmt.Printf("  %-15s +%d ~%d =%d -%d\n", name, c.Inserted, c.Updated, c.Unchanged, c.Deleted)
}
