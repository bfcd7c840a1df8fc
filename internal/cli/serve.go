package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jgalley/dumirror/internal/daemon"
	"github.com/jgalley/dumirror/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon",
	Long: `Start the dumirror daemon, which scans every configured path on its
interval into a new run. This is typically invoked by systemd.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("starting dumirror daemon",
		"config", cfgFile,
		"output", cfg.Output.Root,
		"index", cfg.Index.Enabled,
		"workers", cfg.Scan.Workers,
		"paths", len(cfg.Paths),
	)

	ctx := context.Background()

	var index storage.Index
	if cfg.Index.Enabled {
		idx, err := openIndex(ctx, cfg)
		if err != nil {
			return err
		}
		defer idx.Close()
		index = idx
	}

	// Create daemon
	d, err := daemon.New(cfg, storage.NewFileStore(cfg.Output.Root), index, logger)
	if err != nil {
		return err
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run daemon
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon error: %w", err)
	}

	logger.Info("daemon stopped")
	return nil
}
