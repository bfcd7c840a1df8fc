package layout

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPath(t *testing.T) {
	run := filepath.FromSlash("/out/2024-01-15_14-30-00")

	tests := []struct {
		source string
		want   string
	}{
		{"/", "/out/2024-01-15_14-30-00/_disk_usage.txt"},
		{"/data", "/out/2024-01-15_14-30-00/data/data_disk_usage.txt"},
		{"/data/A/", "/out/2024-01-15_14-30-00/data/A/A_disk_usage.txt"},
		{"/data//x/../A", "/out/2024-01-15_14-30-00/data/A/A_disk_usage.txt"},
		{"/a/logs", "/out/2024-01-15_14-30-00/a/logs/logs_disk_usage.txt"},
		{"/b/logs", "/out/2024-01-15_14-30-00/b/logs/logs_disk_usage.txt"},
		{"/odd/50%", "/out/2024-01-15_14-30-00/odd/50%25/50%25_disk_usage.txt"},
		{"/odd/what?", "/out/2024-01-15_14-30-00/odd/what%3F/what%3F_disk_usage.txt"},
		{"/odd/x_disk_usage.txt", "/out/2024-01-15_14-30-00/odd/x_disk_usage%2Etxt/x_disk_usage%2Etxt_disk_usage.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, err := RecordPath(run, tt.source)
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestRecordPath_RequiresAbsolute(t *testing.T) {
	_, err := RecordPath("/out/run", "relative/dir")
	assert.Error(t, err)
}

func TestRecordPath_SameNameDifferentParents(t *testing.T) {
	a, err := RecordPath("/out/run", "/a/logs")
	require.NoError(t, err)
	b, err := RecordPath("/out/run", "/b/logs")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRecordPath_DirectoryNamedLikeRecordDoesNotCollide(t *testing.T) {
	parentRecord, err := RecordPath("/out/run", "/x")
	require.NoError(t, err)
	childDir, err := RecordDir("/out/run", "/x/x_disk_usage.txt")
	require.NoError(t, err)
	assert.NotEqual(t, parentRecord, childDir)
}

func TestSourcePath_Inverse(t *testing.T) {
	run := "/out/2024-01-15_14-30-00"
	sources := []string{
		"/",
		"/data",
		"/data/A",
		"/home/user/My Documents",
		"/odd/50%",
		"/odd/a:b|c",
		"/odd/tab\there",
		"/odd/x_disk_usage.txt",
	}

	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			p, err := RecordPath(run, src)
			require.NoError(t, err)

			back, ok := SourcePath(run, p)
			require.True(t, ok)
			assert.Equal(t, src, back)
		})
	}
}

func TestSourcePath_RejectsNonRecords(t *testing.T) {
	run := "/out/run"
	for _, p := range []string{
		"/out/run",
		"/out/run/data/notes.txt",
		"/out/run/data/other_disk_usage.txt",
		"/out/run/stray_disk_usage.txt",
		"/out/run/bad%zz/bad%zz_disk_usage.txt",
		"/elsewhere/data/data_disk_usage.txt",
	} {
		t.Run(p, func(t *testing.T) {
			_, ok := SourcePath(run, p)
			assert.False(t, ok)
		})
	}
}

func TestRunID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.Local)
	id := FormatRunID(ts)
	assert.Equal(t, "2024-01-15_14-30-00", id)

	parsed, err := ParseRunID(id)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))

	_, err = ParseRunID("latest")
	assert.Error(t, err)
}
