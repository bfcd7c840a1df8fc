package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jgalley/dumirror/internal/layout"
	"github.com/jgalley/dumirror/internal/record"
)

// ErrRunDirMissing is returned when a run directory disappears while the run
// is being written.
var ErrRunDirMissing = errors.New("run directory missing")

// ErrAlreadyRecorded is returned when a path is written twice in one run.
var ErrAlreadyRecorded = errors.New("path already recorded in this run")

// maxRunIDBumps bounds how far BeginRun moves a run id forward to avoid a
// collision with an existing run.
const maxRunIDBumps = 60

// FileStore keeps scan runs as mirrored record trees under an output root.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Root returns the output root.
func (s *FileStore) Root() string {
	return s.root
}

// BeginRun creates the directory of a new run stamped with now. If a run with
// the same second already exists the stamp is moved forward a second at a time.
func (s *FileStore) BeginRun(now time.Time) (*FileRunWriter, error) {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return nil, fmt.Errorf("creating output root: %w", err)
	}

	base := now.In(time.Local).Truncate(time.Second)
	for i := 0; i < maxRunIDBumps; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		id := layout.FormatRunID(ts)
		dir := filepath.Join(s.root, id)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return &FileRunWriter{
				run:     Run{ID: id, Time: ts, Dir: dir},
				written: make(map[string]struct{}),
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating run directory: %w", err)
		}
	}
	return nil, fmt.Errorf("no free run id within %d seconds of %s", maxRunIDBumps, layout.FormatRunID(now))
}

// ListRuns returns the runs under the output root, newest first. A missing
// output root yields no runs.
func (s *FileStore) ListRuns() ([]Run, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading output root: %w", err)
	}

	var runs []Run
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		ts, err := layout.ParseRunID(d.Name())
		if err != nil {
			continue
		}
		runs = append(runs, Run{ID: d.Name(), Time: ts, Dir: filepath.Join(s.root, d.Name())})
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Time.Equal(runs[j].Time) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].Time.After(runs[j].Time)
	})
	return runs, nil
}

// FindRun returns the run with the given id.
func (s *FileStore) FindRun(id string) (Run, error) {
	ts, err := layout.ParseRunID(id)
	if err != nil {
		return Run{}, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	dir := filepath.Join(s.root, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Run{}, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return Run{ID: id, Time: ts, Dir: dir}, nil
}

// LatestRun returns the most recent run.
func (s *FileStore) LatestRun() (Run, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("no runs in %s: %w", s.root, ErrNotFound)
	}
	return runs[0], nil
}

// LoadRecord reads the record for sourcePath from run. It returns an error
// wrapping ErrNotFound when the path was not recorded, and a
// *record.ParseError when the file is malformed.
func (s *FileStore) LoadRecord(run Run, sourcePath string) (*record.DirectoryRecord, error) {
	p, err := layout.RecordPath(run.Dir, sourcePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("record for %s in run %s: %w", sourcePath, run.ID, ErrNotFound)
		}
		return nil, fmt.Errorf("opening record: %w", err)
	}
	defer f.Close()

	rec, err := record.Decode(f, p)
	if err != nil {
		return nil, err
	}

	want := filepath.Clean(sourcePath)
	if rec.SourcePath != want {
		return nil, &record.ParseError{
			Path:   p,
			Reason: fmt.Sprintf("header path %q does not match %q", rec.SourcePath, want),
		}
	}
	return rec, nil
}

// ListOutputPaths returns every source path recorded in run, sorted. Only file
// names are inspected.
func (s *FileStore) ListOutputPaths(run Run) ([]string, error) {
	if _, err := os.Stat(run.Dir); err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}

	var paths []string
	err := filepath.WalkDir(run.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == run.Dir {
				return err
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), layout.RecordSuffix) {
			return nil
		}
		if src, ok := layout.SourcePath(run.Dir, p); ok {
			paths = append(paths, src)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing run %s: %w", run.ID, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// ListImmediateOutputPaths returns the top-level records of run: those whose
// parent directory has no record of its own. For a normal run this is just the
// scan root.
func (s *FileStore) ListImmediateOutputPaths(run Run) ([]string, error) {
	all, err := s.ListOutputPaths(run)
	if err != nil {
		return nil, err
	}

	recorded := make(map[string]struct{}, len(all))
	for _, p := range all {
		recorded[p] = struct{}{}
	}

	var top []string
	for _, p := range all {
		parent := filepath.Dir(p)
		if _, ok := recorded[parent]; ok && parent != p {
			continue
		}
		top = append(top, p)
	}
	return top, nil
}

// FileRunWriter writes the records of one run. It is safe for concurrent use.
type FileRunWriter struct {
	run Run

	mu      sync.Mutex
	written map[string]struct{}
}

// Run returns the run being written.
func (w *FileRunWriter) Run() Run {
	return w.run
}

// Write stores rec at its mirrored location. The file is written under a
// temporary name and renamed into place, so a reader never sees a half-written
// record. Each source path can be written once per run.
func (w *FileRunWriter) Write(ctx context.Context, rec *record.DirectoryRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src := filepath.Clean(rec.SourcePath)
	if !w.claim(src) {
		return "", &WriteError{Path: src, Err: ErrAlreadyRecorded}
	}

	p, err := w.write(src, rec)
	if err != nil {
		w.release(src)
		return "", &WriteError{Path: src, Err: err}
	}
	return p, nil
}

func (w *FileRunWriter) write(src string, rec *record.DirectoryRecord) (string, error) {
	if _, err := os.Stat(w.run.Dir); err != nil {
		return "", ErrRunDirMissing
	}

	p, err := layout.RecordPath(w.run.Dir, src)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating record directory: %w", err)
	}

	data, err := record.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".record-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("setting record permissions: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming record into place: %w", err)
	}
	return p, nil
}

func (w *FileRunWriter) claim(src string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.written[src]; ok {
		return false
	}
	w.written[src] = struct{}{}
	return true
}

func (w *FileRunWriter) release(src string) {
	w.mu.Lock()
	delete(w.written, src)
	w.mu.Unlock()
}

// IsFatal reports whether a write error means the output root as a whole is
// no longer usable, rather than a problem with a single record.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRunDirMissing) ||
		errors.Is(err, unix.ENOSPC) ||
		errors.Is(err, unix.EDQUOT) ||
		errors.Is(err, unix.EROFS)
}
