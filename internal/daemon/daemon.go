package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jgalley/dumirror/internal/config"
	"github.com/jgalley/dumirror/internal/measure"
	"github.com/jgalley/dumirror/internal/scanner"
	"github.com/jgalley/dumirror/internal/storage"
)

// Daemon manages periodic directory scanning.
type Daemon struct {
	cfg    *config.Config
	store  *storage.FileStore
	index  storage.Index
	engine *scanner.Engine
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	scanners map[string]context.CancelFunc // active scans
}

// New creates a new Daemon instance. index may be nil, in which case runs are
// only written to the output root.
func New(cfg *config.Config, store *storage.FileStore, index storage.Index, logger *slog.Logger) (*Daemon, error) {
	m, err := measure.New(cfg.Scan.Strategy, measure.Options{
		DuPath:   cfg.Measure.DuPath,
		SudoPath: cfg.Measure.SudoPath,
	})
	if err != nil {
		return nil, fmt.Errorf("creating measurer: %w", err)
	}

	return &Daemon{
		cfg:      cfg,
		store:    store,
		index:    index,
		engine:   scanner.New(m, logger),
		logger:   logger,
		scanners: make(map[string]context.CancelFunc),
	}, nil
}

// Run starts the daemon and blocks until Stop is called or the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		close(d.doneCh)
		d.mu.Unlock()
	}()

	if len(d.cfg.Paths) == 0 {
		d.logger.Warn("no paths configured for scanning")
		select {
		case <-ctx.Done():
		case <-d.stopCh:
		}
		return nil
	}

	// Start a timer for each configured path
	var wg sync.WaitGroup
	pathCtx, pathCancel := context.WithCancel(ctx)
	defer pathCancel()

	for _, p := range d.cfg.Paths {
		wg.Add(1)
		go func(pathCfg config.PathConfig) {
			defer wg.Done()
			d.runPathScanner(pathCtx, pathCfg)
		}(p)
	}

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		d.logger.Info("context cancelled, shutting down")
	case <-d.stopCh:
		d.logger.Info("stop requested, shutting down")
	}

	// Cancel all path scanners and wait
	pathCancel()
	d.waitForScans()
	wg.Wait()

	return nil
}

// Stop signals the daemon to stop gracefully.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if d.running && d.stopCh != nil {
		select {
		case <-d.stopCh:
		default:
			close(d.stopCh)
		}
	}
	d.mu.Unlock()
}

// Wait blocks until the daemon has fully stopped.
func (d *Daemon) Wait() {
	d.mu.Lock()
	doneCh := d.doneCh
	d.mu.Unlock()

	if doneCh != nil {
		<-doneCh
	}
}

// runPathScanner runs the scan loop for a single path configuration.
func (d *Daemon) runPathScanner(ctx context.Context, pathCfg config.PathConfig) {
	interval := pathCfg.EffectiveInterval(d.cfg.Scan.Interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("starting path scanner",
		"path", pathCfg.Path,
		"min_size", pathCfg.MinSize,
		"interval", interval,
		"sudo", pathCfg.Sudo,
	)

	// Run initial scan immediately
	d.runScan(ctx, pathCfg)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runScan(ctx, pathCfg)
		}
	}
}

// runScan performs a single scan of the configured path into a new run.
func (d *Daemon) runScan(ctx context.Context, pathCfg config.PathConfig) {
	minSize, err := pathCfg.EffectiveMinSize(d.cfg.Scan.MinSize)
	if err != nil {
		d.logger.Error("invalid threshold", "path", pathCfg.Path, "error", err)
		return
	}

	scanCtx, cancel := context.WithCancel(ctx)

	// Register this scan
	d.mu.Lock()
	d.scanners[pathCfg.Path] = cancel
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.scanners, pathCfg.Path)
		d.mu.Unlock()
		cancel()
	}()

	fw, err := d.store.BeginRun(time.Now())
	if err != nil {
		d.logger.Error("failed to create run", "path", pathCfg.Path, "error", err)
		return
	}
	run := fw.Run()

	var (
		w       storage.RunWriter = fw
		indexed *storage.IndexedWriter
	)
	if d.index != nil {
		if _, err := d.index.StartRun(scanCtx, run, pathCfg.Path); err != nil {
			d.logger.Error("failed to catalog run", "run", run.ID, "error", err)
		} else {
			indexed = storage.NewIndexedWriter(fw, d.index, d.logger)
			w = indexed
		}
	}

	summary, err := d.engine.Scan(scanCtx, pathCfg.Path, w, scanner.Options{
		MinSizeBytes: minSize,
		Elevate:      pathCfg.Sudo,
		Quiet:        d.cfg.Scan.Quiet,
		Workers:      d.cfg.Scan.Workers,
		MaxDepth:     d.cfg.Scan.MaxDepth,
	})

	if indexed == nil {
		if err != nil && !errors.Is(err, scanner.ErrIncomplete) {
			d.logger.Error("scan failed", "path", pathCfg.Path, "run", run.ID, "error", err)
		}
		return
	}

	// The scan context may be cancelled; the catalog still has to be updated.
	indexed.Flush(context.Background())

	switch {
	case summary != nil && summary.Interrupted:
		if err := d.index.FailRun(context.Background(), run.ID, storage.StatusCancelled, "interrupted"); err != nil {
			d.logger.Error("failed to mark run as cancelled", "error", err)
		}
	case err != nil && !errors.Is(err, scanner.ErrIncomplete):
		d.logger.Error("scan failed", "path", pathCfg.Path, "run", run.ID, "error", err)
		if err := d.index.FailRun(context.Background(), run.ID, storage.StatusFailed, err.Error()); err != nil {
			d.logger.Error("failed to mark run as failed", "error", err)
		}
	default:
		if err := d.index.CompleteRun(context.Background(), run.ID, len(summary.Records), len(summary.Failures)); err != nil {
			d.logger.Error("failed to complete run", "error", err)
		}
	}
}

// waitForScans waits for all in-progress scans to complete.
func (d *Daemon) waitForScans() {
	d.mu.Lock()
	count := len(d.scanners)
	d.mu.Unlock()

	if count == 0 {
		return
	}

	d.logger.Info("waiting for in-progress scans to complete", "count", count)

	// Poll until all scans complete (with timeout)
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			d.logger.Warn("timeout waiting for scans, forcing shutdown")
			d.mu.Lock()
			for _, cancel := range d.scanners {
				cancel()
			}
			d.mu.Unlock()
			return
		case <-ticker.C:
			d.mu.Lock()
			count := len(d.scanners)
			d.mu.Unlock()
			if count == 0 {
				return
			}
		}
	}
}
