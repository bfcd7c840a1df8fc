package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgalley/dumirror/internal/measure"
	"github.com/jgalley/dumirror/internal/record"
	"github.com/jgalley/dumirror/internal/storage"
)

const gib = record.GiB

// fakeDir is the canned measurement of one directory.
type fakeDir struct {
	entries []record.Entry
	err     error
	hook    func()
}

type fakeMeasurer struct {
	tree map[string]fakeDir

	mu    sync.Mutex
	calls []string
}

func (f *fakeMeasurer) Name() string { return "fake" }

func (f *fakeMeasurer) MeasureChildren(ctx context.Context, path string, elevated bool) (measure.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	d := f.tree[path]
	if d.hook != nil {
		d.hook()
	}
	var total int64
	for _, e := range d.entries {
		total += e.SizeBytes
	}
	entries := append([]record.Entry(nil), d.entries...)
	return measure.Result{Total: total, TotalDisplay: record.FormatSize(total), Entries: entries}, d.err
}

func (f *fakeMeasurer) called(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == path {
			return true
		}
	}
	return false
}

func dir(name string, size int64) record.Entry {
	return record.EntryFromBytes(name, size, true)
}

func file(name string, size int64) record.Entry {
	return record.EntryFromBytes(name, size, false)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func beginRun(t *testing.T) (*storage.FileStore, *storage.FileRunWriter) {
	t.Helper()
	store := storage.NewFileStore(t.TempDir())
	w, err := store.BeginRun(time.Date(2024, 1, 15, 14, 30, 0, 0, time.Local))
	require.NoError(t, err)
	return store, w
}

func paths(s *Summary) []string {
	out := make([]string, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Path
	}
	return out
}

func TestScan_ExpandsDirectoriesAtOrAboveThreshold(t *testing.T) {
	root := t.TempDir()
	m := &fakeMeasurer{tree: map[string]fakeDir{
		root: {entries: []record.Entry{
			dir("B", 1*gib),
			file("C", 3*gib),
			dir("A", 5*gib),
		}},
		filepath.Join(root, "A"): {entries: []record.Entry{
			dir("A1", 3*gib),
			dir("A2", gib/2),
		}},
	}}
	store, w := beginRun(t)

	summary, err := New(m, discardLogger()).Scan(context.Background(), root, w, Options{MinSizeBytes: 2 * gib})
	require.NoError(t, err)

	assert.Equal(t, []string{root, filepath.Join(root, "A"), filepath.Join(root, "A", "A1")}, paths(summary))
	assert.False(t, m.called(filepath.Join(root, "B")))
	assert.False(t, m.called(filepath.Join(root, "C")))
	assert.False(t, m.called(filepath.Join(root, "A", "A2")))

	rec, err := store.LoadRecord(w.Run(), root)
	require.NoError(t, err)
	require.Len(t, rec.Entries, 3)
	assert.Equal(t, []string{"A", "C", "B"}, []string{rec.Entries[0].Name, rec.Entries[1].Name, rec.Entries[2].Name})

	listed, err := store.ListOutputPaths(w.Run())
	require.NoError(t, err)
	assert.ElementsMatch(t, paths(summary), listed)
}

func TestScan_ThresholdIsInclusive(t *testing.T) {
	root := t.TempDir()
	m := &fakeMeasurer{tree: map[string]fakeDir{
		root: {entries: []record.Entry{
			dir("exact", 2*gib),
			dir("under", 2*gib-1),
		}},
	}}
	_, w := beginRun(t)

	summary, err := New(m, discardLogger()).Scan(context.Background(), root, w, Options{MinSizeBytes: 2 * gib})
	require.NoError(t, err)
	assert.Equal(t, []string{root, filepath.Join(root, "exact")}, paths(summary))
}

func TestScan_LargestChildVisitedFirst(t *testing.T) {
	root := t.TempDir()
	m := &fakeMeasurer{tree: map[string]fakeDir{
		root: {entries: []record.Entry{
			dir("small", 3*gib),
			dir("big", 9*gib),
			dir("mid", 5*gib),
		}},
		filepath.Join(root, "big"): {entries: []record.Entry{dir("inner", 4*gib)}},
	}}
	_, w := beginRun(t)

	summary, err := New(m, discardLogger()).Scan(context.Background(), root, w, Options{MinSizeBytes: gib})
	require.NoError(t, err)
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "big"),
		filepath.Join(root, "big", "inner"),
		filepath.Join(root, "mid"),
		filepath.Join(root, "small"),
	}, paths(summary))
}

func TestScan_MeasurementFailures(t *testing.T) {
	root := t.TempDir()
	denied := filepath.Join(root, "private")
	mixed := filepath.Join(root, "mixed")
	m := &fakeMeasurer{tree: map[string]fakeDir{
		root: {entries: []record.Entry{
			dir("private", 8*gib),
			dir("mixed", 6*gib),
		}},
		denied: {
			entries: []record.Entry{dir("hidden", 8*gib)},
			err:     &measure.Error{Path: denied, Err: errors.New("Permission denied")},
		},
		mixed: {
			entries: []record.Entry{dir("ok", 5*gib)},
			err:     &measure.Error{Path: mixed, Err: errors.New("cannot read 'secret'"), Partial: true},
		},
	}}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	store, w := beginRun(t)

	summary, err := New(m, logger).Scan(context.Background(), root, w, Options{MinSizeBytes: 2 * gib})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncomplete)

	require.Len(t, summary.Failures, 2)
	assert.Contains(t, logs.String(), "measurement failed")

	// A failed directory still gets a record but is not expanded.
	rec, err := store.LoadRecord(w.Run(), denied)
	require.NoError(t, err)
	assert.True(t, rec.Failed())
	assert.Empty(t, rec.Entries)
	assert.False(t, m.called(filepath.Join(denied, "hidden")))

	// A partial measurement keeps and expands what was measured.
	rec, err = store.LoadRecord(w.Run(), mixed)
	require.NoError(t, err)
	assert.True(t, rec.Failed())
	require.Len(t, rec.Entries, 1)
	assert.True(t, m.called(filepath.Join(mixed, "ok")))
}

func TestScan_QuietSuppressesDiagnostics(t *testing.T) {
	root := t.TempDir()
	m := &fakeMeasurer{tree: map[string]fakeDir{
		root: {err: &measure.Error{Path: root, Err: errors.New("Permission denied")}},
	}}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	_, w := beginRun(t)

	summary, err := New(m, logger).Scan(context.Background(), root, w, Options{MinSizeBytes: gib, Quiet: true})
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Len(t, summary.Records, 1)
	assert.NotContains(t, logs.String(), "measurement failed")
}

func TestScan_VisitsResolvedDirectoryOnce(t *testing.T) {
	root := t.TempDir()
	realDir := filepath.Join(root, "real")
	require.NoError(t, os.Mkdir(realDir, 0755))
	require.NoError(t, os.Symlink(realDir, filepath.Join(root, "link")))

	m := &fakeMeasurer{tree: map[string]fakeDir{
		root: {entries: []record.Entry{
			dir("real", 3*gib),
			dir("link", 3*gib),
		}},
		// A directory that contains its own ancestor.
		realDir: {entries: []record.Entry{dir("..", 3*gib)}},
		filepath.Join(root, "link"): {entries: []record.Entry{dir("..", 3*gib)}},
	}}
	_, w := beginRun(t)

	summary, err := New(m, discardLogger()).Scan(context.Background(), root, w, Options{MinSizeBytes: gib})
	require.NoError(t, err)
	assert.Len(t, summary.Records, 2)
}

func TestScan_ParallelWorkersWriteParentsFirst(t *testing.T) {
	root := t.TempDir()
	tree := map[string]fakeDir{}
	var top []record.Entry
	for _, a := range []string{"a", "b", "c", "d", "e", "f"} {
		top = append(top, dir(a, 10*gib))
		var kids []record.Entry
		for _, b := range []string{"x", "y", "z"} {
			kids = append(kids, dir(b, 3*gib))
			tree[filepath.Join(root, a, b)] = fakeDir{entries: []record.Entry{dir("leaf", 2*gib), file("f", 1*gib)}}
		}
		tree[filepath.Join(root, a)] = fakeDir{entries: kids}
	}
	tree[root] = fakeDir{entries: top}
	m := &fakeMeasurer{tree: tree}
	store, w := beginRun(t)

	summary, err := New(m, discardLogger()).Scan(context.Background(), root, w, Options{MinSizeBytes: 2 * gib, Workers: 4})
	require.NoError(t, err)

	// root + 6 + 18 + 18 leaves
	require.Len(t, summary.Records, 43)

	seq := map[string]int64{}
	for _, r := range summary.Records {
		seq[r.Path] = r.Seq
	}
	for p, s := range seq {
		if p == root {
			continue
		}
		parent, ok := seq[filepath.Dir(p)]
		require.True(t, ok, "parent of %s not recorded", p)
		assert.Less(t, parent, s, p)
	}

	listed, err := store.ListOutputPaths(w.Run())
	require.NoError(t, err)
	assert.Len(t, listed, 43)
}

func TestScan_MaxDepth(t *testing.T) {
	root := t.TempDir()
	m := &fakeMeasurer{tree: map[string]fakeDir{
		root:                     {entries: []record.Entry{dir("A", 5*gib)}},
		filepath.Join(root, "A"): {entries: []record.Entry{dir("B", 5*gib)}},
	}}
	_, w := beginRun(t)

	summary, err := New(m, discardLogger()).Scan(context.Background(), root, w, Options{MinSizeBytes: gib, MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{root, filepath.Join(root, "A")}, paths(summary))
}

func TestScan_CancelKeepsWrittenRecords(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &fakeMeasurer{tree: map[string]fakeDir{
		root:                     {entries: []record.Entry{dir("A", 5*gib), dir("B", 4*gib)}},
		filepath.Join(root, "A"): {hook: cancel},
	}}
	store, w := beginRun(t)

	summary, err := New(m, discardLogger()).Scan(ctx, root, w, Options{MinSizeBytes: gib})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, root, summary.LastWritten)
	assert.False(t, m.called(filepath.Join(root, "B")))

	_, err = store.LoadRecord(w.Run(), root)
	assert.NoError(t, err)
}

func TestScan_FatalWriteAborts(t *testing.T) {
	root := t.TempDir()
	_, w := beginRun(t)

	m := &fakeMeasurer{tree: map[string]fakeDir{
		root: {entries: []record.Entry{dir("A", 5*gib), dir("B", 4*gib)}},
		filepath.Join(root, "A"): {hook: func() {
			_ = os.RemoveAll(w.Run().Dir)
		}},
	}}

	summary, err := New(m, discardLogger()).Scan(context.Background(), root, w, Options{MinSizeBytes: gib})
	require.Error(t, err)
	assert.True(t, storage.IsFatal(err))
	assert.NotErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, root, summary.LastWritten)
	assert.False(t, m.called(filepath.Join(root, "B")))
}

func TestScan_RootMustBeDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0644))
	_, w := beginRun(t)

	_, err := New(&fakeMeasurer{}, discardLogger()).Scan(context.Background(), f, w, Options{})
	assert.Error(t, err)

	_, err = New(&fakeMeasurer{}, discardLogger()).Scan(context.Background(), filepath.Join(f, "missing"), w, Options{})
	assert.Error(t, err)
}

func TestWorkStack_ClosesWhenDrained(t *testing.T) {
	s := newWorkStack()
	s.push(task{path: "/a"})
	s.push(task{path: "/b"})

	got, ok := s.pop()
	require.True(t, ok)
	assert.Equal(t, "/b", got.path)
	s.done()

	got, ok = s.pop()
	require.True(t, ok)
	assert.Equal(t, "/a", got.path)
	s.done()

	_, ok = s.pop()
	assert.False(t, ok)
}
