package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sdx/internal/api"
	"sdx/internal/scanner"
	"sdx/internal/watcher"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve runs an initial scan, starts the filesystem watcher so the
index follows workspace changes, and exposes search, detail, and file
resolution endpoints over HTTP.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
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
	debounce := time.Duration(cfg.Watcher.DebounceMs) * time.Millisecond
	coordinator := scanner.NewCoordinator(engine, debounce, logger)
	defer coordinator.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Index first so queries never see an empty store on a warm workspace.
	report, err := coordinator.RunNow(ctx)
	if err != nil {
		return err
	}
	logger.Info("Initial scan complete",
		"scan_id", report.ScanID,
		"duration_ms", report.DurationMs,
		"errors", len(report.Errors))

	if cfg.Watcher.Enabled {
		fw, err := watcher.New(cfg, coordinator, logger)
		if err != nil {
			logger.Warn("File watcher unavailable, rescan manually via POST /api/scan", "error", err)
		} else {
			if err := fw.Start(ctx); err != nil {
				logger.Warn("File watcher failed to start", "error", err)
			}
			defer fw.Stop()
		}
	}

	addr := cfg.API.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	server := api.NewServer(addr, newQueryEngine(db, cfg, logger), coordinator, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("SDX API listening on http://%s\n", addr)
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Received shutdown signal", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")
	}

	return nil
}
