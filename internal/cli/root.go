package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgalley/dumirror/internal/config"
	"github.com/jgalley/dumirror/internal/storage"
)

var (
	cfgFile    string
	logLevel   string
	outputRoot string
	rootCmd    *cobra.Command
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "dumirror",
		Short: "Disk usage scanner with a mirrored report tree",
		Long: `dumirror walks a directory tree with du, expanding every directory at or
above a size threshold, and writes one size breakdown per expanded directory
into a timestamped output tree that mirrors the scanned hierarchy.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: /etc/dumirror/dumirror.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputRoot, "output", "o", "", "output root directory (default from config: ./output)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and applies the persistent flag
// overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("output") {
		cfg.Output.Root = outputRoot
	}
	return cfg, nil
}

// openIndex opens and initializes the run catalog.
func openIndex(ctx context.Context, cfg *config.Config) (*storage.SQLiteIndex, error) {
	index, err := storage.NewSQLiteIndex(cfg.IndexPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := index.Initialize(ctx); err != nil {
		index.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return index, nil
}

// setupLogger creates a logger based on the configured level.
func setupLogger(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// formatSize formats bytes as a human-readable size, keeping the sign of
// negative changes.
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
