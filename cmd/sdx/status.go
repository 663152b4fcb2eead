package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index row counts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	counts, err := newQueryEngine(db, cfg, logger).Status()
	if err != nil {
		return err
	}

	fmt.Printf("Workspace: %s\n", cfg.WorkspaceRoot)
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-28s %d\n", name, counts[name])
	}
	return nil
}
