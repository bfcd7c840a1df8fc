package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jgalley/dumirror/internal/record"
)

// ErrNotFound is returned when a run or record does not exist.
var ErrNotFound = errors.New("not found")

// Run is one scan invocation, identified by its creation timestamp.
type Run struct {
	ID   string
	Time time.Time
	Dir  string
}

// WriteError reports a record that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing record for %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// RunWriter persists the records of one run.
type RunWriter interface {
	// Run returns the run being written.
	Run() Run

	// Write stores rec and returns the file it was written to.
	Write(ctx context.Context, rec *record.DirectoryRecord) (string, error)
}

// Run statuses stored in the index.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// IndexedRun is a run as catalogued in the index.
type IndexedRun struct {
	RunID               string
	ScanID              string
	RootPath            string
	OutputDir           string
	StartedAt           time.Time
	CompletedAt         *time.Time
	DirectoriesRecorded int
	Failures            int
	Status              string
	// Reason explains a failed or cancelled run.
	Reason string
}

// IndexedRecord is one written record as catalogued in the index.
type IndexedRecord struct {
	ID         int64
	RunID      string
	Directory  string
	TotalBytes int64
	EntryCount int
	Seq        int64
	OutputPath string
	RecordedAt time.Time
	Error      string
}

// HistoryOptions specifies filters for querying a directory's history.
type HistoryOptions struct {
	Directory string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// TopChangerOptions specifies parameters for finding top changers.
type TopChangerOptions struct {
	BasePath       string
	Since          time.Time
	Until          time.Time
	Direction      string // "increase", "decrease", "both"
	MinChangeBytes int64
	Limit          int
}

// DirectoryChange represents a directory's usage change over time.
type DirectoryChange struct {
	Directory     string
	StartSize     int64
	EndSize       int64
	StartTime     time.Time
	EndTime       time.Time
	ChangeBytes   int64
	ChangePercent float64
}

// Index catalogs runs and their records for queries across runs.
type Index interface {
	// Initialize prepares the storage (creates tables, etc.).
	Initialize(ctx context.Context) error

	// Close releases any resources held by the storage.
	Close() error

	// StartRun catalogs a new run and returns its scan ID.
	StartRun(ctx context.Context, run Run, rootPath string) (string, error)

	// CompleteRun marks a run as completed.
	CompleteRun(ctx context.Context, runID string, recorded, failures int) error

	// FailRun marks a run as failed or cancelled.
	FailRun(ctx context.Context, runID string, status string, reason string) error

	// RecordBatch stores multiple record entries efficiently.
	RecordBatch(ctx context.Context, records []IndexedRecord) error

	// ListRuns returns catalogued runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]IndexedRun, error)

	// QueryHistory retrieves a directory's records across runs, newest first.
	QueryHistory(ctx context.Context, opts HistoryOptions) ([]IndexedRecord, error)

	// GetTopChangers finds directories with the largest usage changes over a time interval.
	GetTopChangers(ctx context.Context, opts TopChangerOptions) ([]DirectoryChange, error)
}
