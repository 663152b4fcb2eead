package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sdx/internal/config"
	"sdx/internal/query"
	"sdx/internal/slogutil"
	"sdx/internal/storage"
	"sdx/internal/version"
)

var (
	// rootFlag is the CLI --root flag value
	rootFlag string
	// logLevelFlag is the CLI --log-level flag value
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "sdx",
	Short: "SDX - Sensor Data Index",
	Long: `SDX indexes a motion sickness experiment workspace: it scans the raw
sensor data tree and the optimization artifacts, reconciles them into a SQLite
index, and serves search and file-resolution queries over HTTP.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.SetVersionTemplate("SDX version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".",
		"Workspace root directory")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, or error (default from config)")
}

// loadConfig resolves the workspace root and loads .sdx/config.json,
// falling back to defaults when the file is absent.
func loadConfig() (*config.Config, error) {
	root, err := filepath.Abs(rootFlag)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. The --log-level flag overrides the
// configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	return slogutil.NewLogger(os.Stderr, slogutil.LevelFromString(level))
}

// openStore opens the SQLite index under .sdx/ in the workspace root.
func openStore(cfg *config.Config, logger *slog.Logger) (*storage.DB, error) {
	return storage.Open(cfg.WorkspaceRoot, logger)
}

func newQueryEngine(db *storage.DB, cfg *config.Config, logger *slog.Logger) *query.Engine {
	return query.NewEngine(db, cfg.WorkspaceRoot, logger)
}
