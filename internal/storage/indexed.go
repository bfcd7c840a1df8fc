package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jgalley/dumirror/internal/record"
)

// batchSize is the number of records to accumulate before inserting to the database.
const batchSize = 100

// IndexedWriter writes records through an underlying RunWriter and catalogs
// each written record in an Index. Index failures are logged and never fail a
// write: the record files are the source of truth.
type IndexedWriter struct {
	next   RunWriter
	index  Index
	logger *slog.Logger

	mu      sync.Mutex
	seq     int64
	batch   []IndexedRecord
	flushed int
}

// NewIndexedWriter wraps next so that written records are catalogued in index.
func NewIndexedWriter(next RunWriter, index Index, logger *slog.Logger) *IndexedWriter {
	return &IndexedWriter{
		next:   next,
		index:  index,
		logger: logger,
		batch:  make([]IndexedRecord, 0, batchSize),
	}
}

// Run returns the run being written.
func (w *IndexedWriter) Run() Run {
	return w.next.Run()
}

// Write stores rec and queues its index entry.
func (w *IndexedWriter) Write(ctx context.Context, rec *record.DirectoryRecord) (string, error) {
	p, err := w.next.Write(ctx, rec)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	w.batch = append(w.batch, IndexedRecord{
		RunID:      w.next.Run().ID,
		Directory:  rec.SourcePath,
		TotalBytes: rec.Total,
		EntryCount: len(rec.Entries),
		Seq:        w.seq,
		OutputPath: p,
		RecordedAt: time.Now().UTC(),
		Error:      rec.Error,
	})
	if len(w.batch) >= batchSize {
		w.flushLocked(ctx)
	}
	return p, nil
}

// Flush writes any queued index entries and returns how many were stored in
// total.
func (w *IndexedWriter) Flush(ctx context.Context) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked(ctx)
	return w.flushed
}

func (w *IndexedWriter) flushLocked(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}
	if err := w.index.RecordBatch(ctx, w.batch); err != nil {
		w.logger.Error("failed to index batch", "run", w.next.Run().ID, "batch_size", len(w.batch), "error", err)
	} else {
		w.flushed += len(w.batch)
		w.logger.Debug("flushed batch",
			"run", w.next.Run().ID,
			"batch_size", len(w.batch),
			"total", w.flushed,
		)
	}
	w.batch = w.batch[:0]
}
