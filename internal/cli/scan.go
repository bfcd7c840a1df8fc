package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgalley/dumirror/internal/config"
	"github.com/jgalley/dumirror/internal/measure"
	"github.com/jgalley/dumirror/internal/record"
	"github.com/jgalley/dumirror/internal/scanner"
	"github.com/jgalley/dumirror/internal/storage"
)

var (
	scanMinSize  string
	scanSudo     bool
	scanQuiet    bool
	scanWorkers  int
	scanStrategy string
	scanMaxDepth int
	scanNoIndex  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "Scan a directory tree into a new run",
	Long: `Measure a directory with du and recurse into every child directory at or
above the size threshold. Each expanded directory gets a record in a new
timestamped run under the output root.

A bare number for --min-size is taken as GiB.

Examples:
  dumirror scan
  dumirror scan /data --min-size 500M
  dumirror scan /srv --sudo --quiet -o /var/lib/dumirror`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanMinSize, "min-size", "m", "2G", "minimum size of directories to expand (e.g. 2G, 500M, 10)")
	scanCmd.Flags().BoolVarP(&scanSudo, "sudo", "s", false, "measure with sudo")
	scanCmd.Flags().BoolVarP(&scanQuiet, "quiet", "q", false, "suppress permission and measurement diagnostics")
	scanCmd.Flags().IntVar(&scanWorkers, "workers", 1, "directories measured concurrently")
	scanCmd.Flags().StringVar(&scanStrategy, "strategy", "auto", "measurement strategy (auto, du, ceph, walk)")
	scanCmd.Flags().IntVar(&scanMaxDepth, "max-depth", 0, "maximum expansion depth (0 = unlimited)")
	scanCmd.Flags().BoolVar(&scanNoIndex, "no-index", false, "do not catalog the run in the index database")
}

// applyScanFlags overrides the configured scan defaults with flags set on the
// command line.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("min-size") {
		cfg.Scan.MinSize = scanMinSize
	}
	if flags.Changed("sudo") {
		cfg.Scan.Sudo = scanSudo
	}
	if flags.Changed("quiet") {
		cfg.Scan.Quiet = scanQuiet
	}
	if flags.Changed("workers") {
		cfg.Scan.Workers = scanWorkers
	}
	if flags.Changed("strategy") {
		cfg.Scan.Strategy = scanStrategy
	}
	if flags.Changed("max-depth") {
		cfg.Scan.MaxDepth = scanMaxDepth
	}
	if flags.Changed("no-index") {
		cfg.Index.Enabled = !scanNoIndex
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("locating home directory: %w", err)
		}
		path = home
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	// Check if path exists
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("accessing path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyScanFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	minSize, err := cfg.Scan.MinSizeBytes()
	if err != nil {
		return fmt.Errorf("invalid --min-size value: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	m, err := measure.New(cfg.Scan.Strategy, measure.Options{
		DuPath:   cfg.Measure.DuPath,
		SudoPath: cfg.Measure.SudoPath,
	})
	if err != nil {
		return fmt.Errorf("creating measurer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.NewFileStore(cfg.Output.Root)
	fw, err := store.BeginRun(time.Now())
	if err != nil {
		return err
	}
	run := fw.Run()

	var (
		w       storage.RunWriter = fw
		index   *storage.SQLiteIndex
		indexed *storage.IndexedWriter
	)
	if cfg.Index.Enabled {
		index, err = openIndex(ctx, cfg)
		if err != nil {
			logger.Warn("run will not be indexed", "error", err)
		} else {
			defer index.Close()
			if _, err := index.StartRun(ctx, run, path); err != nil {
				logger.Warn("run will not be indexed", "error", err)
			} else {
				indexed = storage.NewIndexedWriter(fw, index, logger)
				w = indexed
			}
		}
	}

	summary, scanErr := scanner.New(m, logger).Scan(ctx, path, w, scanner.Options{
		MinSizeBytes: minSize,
		Elevate:      cfg.Scan.Sudo,
		Quiet:        cfg.Scan.Quiet,
		Workers:      cfg.Scan.Workers,
		MaxDepth:     cfg.Scan.MaxDepth,
	})

	if indexed != nil {
		finishIndexedRun(index, indexed, run, summary, scanErr, logger)
	}

	if summary != nil {
		printSummary(cmd, summary, minSize)
	}
	return scanErr
}

// finishIndexedRun flushes the catalog and records how the run ended. It
// runs after the scan context may have been cancelled.
func finishIndexedRun(index storage.Index, indexed *storage.IndexedWriter, run storage.Run, summary *scanner.Summary, scanErr error, logger *slog.Logger) {
	ctx := context.Background()
	indexed.Flush(ctx)

	var err error
	switch {
	case summary != nil && summary.Interrupted:
		err = index.FailRun(ctx, run.ID, storage.StatusCancelled, "interrupted")
	case scanErr != nil && !errors.Is(scanErr, scanner.ErrIncomplete):
		err = index.FailRun(ctx, run.ID, storage.StatusFailed, scanErr.Error())
	default:
		err = index.CompleteRun(ctx, run.ID, len(summary.Records), len(summary.Failures))
	}
	if err != nil {
		logger.Error("failed to update run status", "run", run.ID, "error", err)
	}
}

func printSummary(cmd *cobra.Command, s *scanner.Summary, minSize int64) {
	out := cmd.OutOrStdout()
	if s.Interrupted {
		fmt.Fprintf(out, "Analysis interrupted. Partial results saved to: %s\n", s.RunDir)
		if s.LastWritten != "" {
			fmt.Fprintf(out, "  last recorded directory: %s\n", s.LastWritten)
		}
	} else {
		fmt.Fprintf(out, "Analysis complete. Results saved to: %s\n", s.RunDir)
	}
	fmt.Fprintf(out, "  scanned: %s (threshold %s)\n", s.RootPath, record.FormatSize(minSize))
	fmt.Fprintf(out, "  directories recorded: %s\n", humanize.Comma(int64(len(s.Records))))
	if len(s.Failures) > 0 {
		fmt.Fprintf(out, "  incomplete measurements: %s\n", humanize.Comma(int64(len(s.Failures))))
	}
	if s.WriteFailures > 0 {
		fmt.Fprintf(out, "  records not written: %s\n", humanize.Comma(int64(s.WriteFailures)))
	}
	fmt.Fprintf(out, "  duration: %s\n", s.Duration.Round(time.Millisecond))
}
