// Package scanner drives a threshold-limited, depth-first disk usage scan and
// persists one record per expanded directory.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jgalley/dumirror/internal/measure"
	"github.com/jgalley/dumirror/internal/record"
	"github.com/jgalley/dumirror/internal/storage"
)

// ErrIncomplete is returned when a scan finished but at least one directory
// could not be fully measured.
var ErrIncomplete = errors.New("scan incomplete")

// Options controls a single scan.
type Options struct {
	// MinSizeBytes is the smallest directory size that is expanded.
	// The comparison is inclusive.
	MinSizeBytes int64
	// Elevate measures with raised privileges.
	Elevate bool
	// Quiet suppresses measurement diagnostics.
	Quiet bool
	// Workers is the number of directories measured concurrently.
	Workers int
	// MaxDepth stops expansion below this depth; 0 means unlimited.
	MaxDepth int
}

// Written describes one record written during a scan.
type Written struct {
	Path       string
	OutputPath string
	Depth      int
	Seq        int64
}

// Failure describes a directory that could not be fully measured.
type Failure struct {
	Path    string
	Err     error
	Partial bool
}

// Summary reports the outcome of a scan.
type Summary struct {
	RunID         string
	RunDir        string
	RootPath      string
	Records       []Written
	Failures      []Failure
	WriteFailures int
	Interrupted   bool
	LastWritten   string
	Started       time.Time
	Duration      time.Duration
}

// Engine orchestrates recursive directory measurement.
type Engine struct {
	measurer measure.Measurer
	logger   *slog.Logger
}

// New creates an Engine that measures with m.
func New(m measure.Measurer, logger *slog.Logger) *Engine {
	return &Engine{measurer: m, logger: logger}
}

// Strategy returns the measurer's strategy name.
func (e *Engine) Strategy() string {
	return e.measurer.Name()
}

// Scan measures rootPath, writes its record through w and expands every child
// directory at or above the size threshold, depth first. A directory's record
// is always written before any of its children are queued.
//
// Measurement failures are local: the affected directory gets a record
// carrying the diagnostic and the scan continues; the returned error then wraps
// ErrIncomplete. A write failure that leaves the output root unusable aborts
// the scan. Cancelling ctx stops the scan between directories and returns the
// partial summary with the context's error.
func (e *Engine) Scan(ctx context.Context, rootPath string, w storage.RunWriter, opts Options) (*Summary, error) {
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", rootPath, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("accessing path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	s := &scan{
		engine:  e,
		w:       w,
		opts:    opts,
		stack:   newWorkStack(),
		visited: make(map[string]struct{}),
		summary: &Summary{
			RunID:    w.Run().ID,
			RunDir:   w.Run().Dir,
			RootPath: root,
			Started:  time.Now(),
		},
	}

	e.logger.Info("starting scan",
		"path", root,
		"run", w.Run().ID,
		"min_size", record.FormatSize(opts.MinSizeBytes),
		"workers", workers,
		"strategy", e.measurer.Name(),
	)

	s.claim(root)
	s.stack.push(task{path: root})

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, s.stack.close)
	defer stop()

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				t, ok := s.stack.pop()
				if !ok {
					return nil
				}
				err := s.visit(gctx, t)
				s.stack.done()
				if err != nil {
					return err
				}
			}
		})
	}
	err = g.Wait()

	summary := s.summary
	summary.Duration = time.Since(summary.Started)

	if ctx.Err() != nil {
		summary.Interrupted = true
		e.logger.Warn("scan was interrupted",
			"path", root,
			"directories_saved", len(summary.Records),
			"last_written", summary.LastWritten,
		)
		return summary, fmt.Errorf("scan interrupted after %d records: %w", len(summary.Records), ctx.Err())
	}
	if err != nil {
		return summary, err
	}

	e.logger.Info("scan completed",
		"path", root,
		"directories", len(summary.Records),
		"failures", len(summary.Failures),
		"duration", summary.Duration,
	)

	if len(summary.Failures) > 0 {
		return summary, fmt.Errorf("%d directories could not be fully measured: %w", len(summary.Failures), ErrIncomplete)
	}
	return summary, nil
}

// scan holds the state of one Scan call, shared by its workers.
type scan struct {
	engine *Engine
	w      storage.RunWriter
	opts   Options
	stack  *workStack

	mu      sync.Mutex
	visited map[string]struct{}
	seq     int64
	summary *Summary
}

// visit measures one directory, writes its record and queues qualifying
// children.
func (s *scan) visit(ctx context.Context, t task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := s.engine.logger

	logger.Info("measuring directory", "path", t.path, "depth", t.depth)
	start := time.Now()

	res, merr := s.engine.measurer.MeasureChildren(ctx, t.path, s.opts.Elevate)
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := &record.DirectoryRecord{
		SourcePath:   t.path,
		Total:        res.Total,
		TotalDisplay: res.TotalDisplay,
		Entries:      res.Entries,
	}
	record.SortEntries(rec.Entries)

	expand := true
	if merr != nil {
		var me *measure.Error
		partial := errors.As(merr, &me) && me.Partial
		if !partial {
			rec.Entries = nil
			expand = false
		}
		rec.Error = merr.Error()
		s.fail(Failure{Path: t.path, Err: merr, Partial: partial})
		if !s.opts.Quiet {
			logger.Warn("measurement failed",
				"path", t.path,
				"partial", partial,
				"error", merr,
			)
		}
	}

	outPath, err := s.w.Write(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if storage.IsFatal(err) {
			return fmt.Errorf("output root unusable, last written record %q: %w", s.lastWritten(), err)
		}
		logger.Error("failed to write record", "path", t.path, "error", err)
		s.writeFailed()
		return nil
	}
	s.written(t, outPath)

	logger.Debug("recorded directory",
		"path", t.path,
		"output", outPath,
		"entries", len(rec.Entries),
		"duration", time.Since(start),
	)

	if !expand || (s.opts.MaxDepth > 0 && t.depth >= s.opts.MaxDepth) {
		return nil
	}

	// Push smallest first so the largest child is popped next.
	for i := len(rec.Entries) - 1; i >= 0; i-- {
		e := rec.Entries[i]
		if !e.IsDir || e.SizeBytes < s.opts.MinSizeBytes {
			continue
		}
		child := filepath.Join(t.path, e.Name)
		if !s.claim(child) {
			logger.Debug("skipping already visited directory", "path", child)
			continue
		}
		logger.Debug("found large subdirectory", "path", child, "size", e.SizeDisplay)
		s.stack.push(task{path: child, depth: t.depth + 1})
	}
	return nil
}

// claim marks a directory visited and reports whether this call claimed it.
// Directories are keyed by their resolved path so symlinks and re-entrant
// mounts cannot cause a second visit.
func (s *scan) claim(path string) bool {
	key, err := filepath.EvalSymlinks(path)
	if err != nil {
		key = path
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[key]; ok {
		return false
	}
	s.visited[key] = struct{}{}
	return true
}

func (s *scan) written(t task, outPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.summary.Records = append(s.summary.Records, Written{
		Path:       t.path,
		OutputPath: outPath,
		Depth:      t.depth,
		Seq:        s.seq,
	})
	s.summary.LastWritten = t.path
}

func (s *scan) fail(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Failures = append(s.summary.Failures, f)
}

func (s *scan) writeFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.WriteFailures++
}

func (s *scan) lastWritten() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.LastWritten
}
