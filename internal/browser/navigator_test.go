package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgalley/dumirror/internal/record"
	"github.com/jgalley/dumirror/internal/storage"
)

// seedRun writes the /data scan: /data and /data/A are expanded, /data/B is
// not.
func seedRun(t *testing.T) (*storage.FileStore, storage.Run) {
	t.Helper()
	store := storage.NewFileStore(t.TempDir())
	w, err := store.BeginRun(time.Date(2024, 1, 15, 14, 30, 0, 0, time.Local))
	require.NoError(t, err)

	recs := []*record.DirectoryRecord{
		{SourcePath: "/data", TotalDisplay: "9.0G", Total: 9 * record.GiB, Entries: []record.Entry{
			record.EntryFromBytes("A", 5*record.GiB, true),
			record.EntryFromBytes("C", 3*record.GiB, false),
			record.EntryFromBytes("B", 1*record.GiB, true),
		}},
		{SourcePath: "/data/A", TotalDisplay: "5.0G", Total: 5 * record.GiB, Entries: []record.Entry{
			record.EntryFromBytes("A1", 4*record.GiB, true),
			record.EntryFromBytes("f", 1*record.GiB, false),
		}},
	}
	for _, rec := range recs {
		_, err := w.Write(context.Background(), rec)
		require.NoError(t, err)
	}
	return store, w.Run()
}

func openRun(t *testing.T, store *storage.FileStore) *Navigator {
	t.Helper()
	nav := NewNavigator(store)
	runs, err := nav.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NoError(t, nav.SelectRun(0))
	return nav
}

func itemNames(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestNavigator_StartsAtRunRoot(t *testing.T) {
	store, _ := seedRun(t)
	nav := openRun(t, store)

	assert.Equal(t, "/data", nav.Location())
	assert.Equal(t, "/data", nav.Root())
	assert.Empty(t, nav.Status())
	assert.Equal(t, []string{"A", "C", "B"}, itemNames(nav.Items()))
	assert.Equal(t, "9.0G", nav.Record().TotalDisplay)
	assert.False(t, nav.Parent())
}

func TestNavigator_EnterAndParent(t *testing.T) {
	store, _ := seedRun(t)
	nav := openRun(t, store)

	require.True(t, nav.Enter())
	assert.Equal(t, "/data/A", nav.Location())
	assert.Equal(t, []string{"..", "A1", "f"}, itemNames(nav.Items()))

	require.True(t, nav.Parent())
	assert.Equal(t, "/data", nav.Location())
	sel, ok := nav.Selected()
	require.True(t, ok)
	assert.Equal(t, "A", sel.Name)
}

func TestNavigator_EnterFileIsNoop(t *testing.T) {
	store, _ := seedRun(t)
	nav := openRun(t, store)

	nav.Move(1)
	sel, _ := nav.Selected()
	require.Equal(t, "C", sel.Name)
	assert.False(t, nav.Enter())
	assert.Equal(t, "/data", nav.Location())
}

func TestNavigator_NotExpandedDirectory(t *testing.T) {
	store, _ := seedRun(t)
	nav := openRun(t, store)

	nav.Move(2)
	require.True(t, nav.Enter())
	assert.Equal(t, "/data/B", nav.Location())
	assert.Equal(t, StatusNotExpanded, nav.Status())
	assert.Nil(t, nav.Record())
	assert.Equal(t, []string{".."}, itemNames(nav.Items()))

	// Entering the parent row goes back up.
	require.True(t, nav.Enter())
	assert.Equal(t, "/data", nav.Location())
	sel, _ := nav.Selected()
	assert.Equal(t, "B", sel.Name)
}

func TestNavigator_MalformedRecordIsUnavailable(t *testing.T) {
	store, run := seedRun(t)
	p := filepath.Join(run.Dir, "data", "A", "A_disk_usage.txt")
	require.NoError(t, os.WriteFile(p, []byte("garbage\n"), 0644))

	nav := openRun(t, store)
	require.True(t, nav.Enter())
	assert.Equal(t, StatusUnavailable, nav.Status())
	assert.Equal(t, []string{".."}, itemNames(nav.Items()))
}

func TestNavigator_MoveClamps(t *testing.T) {
	store, _ := seedRun(t)
	nav := openRun(t, store)

	nav.Move(-5)
	assert.Equal(t, 0, nav.Cursor())
	nav.Move(50)
	assert.Equal(t, 2, nav.Cursor())
}

func TestNavigator_SelectRunErrors(t *testing.T) {
	store := storage.NewFileStore(t.TempDir())
	_, err := store.BeginRun(time.Now())
	require.NoError(t, err)

	nav := NewNavigator(store)
	assert.Error(t, nav.SelectRun(0))

	_, err = nav.Runs()
	require.NoError(t, err)
	assert.Error(t, nav.SelectRun(0), "empty run")
}

func TestRunLabel(t *testing.T) {
	now := time.Date(2024, 1, 15, 18, 0, 0, 0, time.Local)

	assert.Equal(t, "Today, 2:30 PM", RunLabel(time.Date(2024, 1, 15, 14, 30, 0, 0, time.Local), now))
	assert.Equal(t, "Yesterday, 9:05 AM", RunLabel(time.Date(2024, 1, 14, 9, 5, 0, 0, time.Local), now))
	assert.Equal(t, "Dec 31, 2023, 11:59 PM", RunLabel(time.Date(2023, 12, 31, 23, 59, 0, 0, time.Local), now))
	assert.Equal(t, "3 hours ago", RunAge(now.Add(-3*time.Hour), now))
}
