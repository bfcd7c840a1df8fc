package measure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgalley/dumirror/internal/record"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
}

func names(entries []record.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestParseDuOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "A"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "B"), 0755))
	writeFile(t, filepath.Join(dir, "C"), 1)

	out := fmt.Sprintf("1.0G\t%[1]s/B\n3.0G\t%[1]s/C\n5.0G\t%[1]s/A\n2.0G\t%[1]s/A/deeper\ngarbage line\n9.0G\t%[1]s\n", dir)

	res, found := parseDuOutput(dir, []byte(out))
	require.True(t, found)

	assert.Equal(t, "9.0G", res.TotalDisplay)
	assert.Equal(t, int64(9*record.GiB), res.Total)
	assert.Equal(t, []string{"A", "C", "B"}, names(res.Entries))
	assert.True(t, res.Entries[0].IsDir)
	assert.False(t, res.Entries[1].IsDir)
	assert.True(t, res.Entries[2].IsDir)
}

func TestParseDuOutput_Empty(t *testing.T) {
	_, found := parseDuOutput("/nowhere", nil)
	assert.False(t, found)
}

func TestWalkMeasurer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "big", "a.bin"), 3000)
	writeFile(t, filepath.Join(dir, "big", "nested", "b.bin"), 2000)
	writeFile(t, filepath.Join(dir, "small", "c.bin"), 100)
	writeFile(t, filepath.Join(dir, "file.bin"), 4000)

	m := &WalkMeasurer{}
	res, err := m.MeasureChildren(context.Background(), dir, false)
	require.NoError(t, err)

	require.Equal(t, []string{"big", "file.bin", "small"}, names(res.Entries))
	assert.Equal(t, int64(5000), res.Entries[0].SizeBytes)
	assert.True(t, res.Entries[0].IsDir)
	assert.Equal(t, int64(4000), res.Entries[1].SizeBytes)
	assert.False(t, res.Entries[1].IsDir)
	assert.Equal(t, int64(100), res.Entries[2].SizeBytes)
	assert.Equal(t, int64(9100), res.Total)
	assert.Equal(t, "8.9K", res.TotalDisplay)
}

func TestWalkMeasurer_SymlinkIsNotADirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "real", "x.bin"), 10)
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "link")))

	res, err := (&WalkMeasurer{}).MeasureChildren(context.Background(), dir, false)
	require.NoError(t, err)

	for _, e := range res.Entries {
		if e.Name == "link" {
			assert.False(t, e.IsDir)
		}
	}
}

func TestWalkMeasurer_MissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	_, err := (&WalkMeasurer{}).MeasureChildren(context.Background(), missing, false)

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, missing, merr.Path)
	assert.False(t, merr.Partial)
}

func TestWalkMeasurer_RejectsElevation(t *testing.T) {
	_, err := (&WalkMeasurer{}).MeasureChildren(context.Background(), t.TempDir(), true)
	assert.ErrorIs(t, err, ErrElevationUnsupported)
}

// fakeDu writes a shell script standing in for du.
func fakeDu(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	p := filepath.Join(t.TempDir(), "du")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0755))
	return p
}

func TestDuMeasurer_Success(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "A"), 0755))
	du := fakeDu(t, `dir="$5"
printf '2.0M\t%s/A\n' "$dir"
printf '12K\t%s/notes.txt\n' "$dir"
printf '2.1M\t%s\n' "$dir"
`)

	m := NewDuMeasurer(du, "")
	res, err := m.MeasureChildren(context.Background(), dir, false)
	require.NoError(t, err)

	assert.Equal(t, "2.1M", res.TotalDisplay)
	require.Equal(t, []string{"A", "notes.txt"}, names(res.Entries))
	assert.True(t, res.Entries[0].IsDir)
}

func TestDuMeasurer_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	du := fakeDu(t, `dir="$5"
printf '1.0K\t%s/readable\n' "$dir"
printf '1.0K\t%s\n' "$dir"
echo "du: cannot read directory '$dir/secret': Permission denied" >&2
exit 1
`)

	res, err := NewDuMeasurer(du, "").MeasureChildren(context.Background(), dir, false)

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.True(t, merr.Partial)
	assert.Contains(t, merr.Error(), "Permission denied")
	assert.Equal(t, []string{"readable"}, names(res.Entries))
}

func TestDuMeasurer_TotalFailure(t *testing.T) {
	du := fakeDu(t, `echo "du: cannot access '$5': No such file or directory" >&2
exit 1
`)

	_, err := NewDuMeasurer(du, "").MeasureChildren(context.Background(), "/vanished", false)

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.False(t, merr.Partial)
	assert.Equal(t, "/vanished", merr.Path)
	assert.Contains(t, merr.Error(), "No such file or directory")
}

func TestDuMeasurer_ElevatedUsesSudo(t *testing.T) {
	dir := t.TempDir()
	// The fake sudo receives "-- <du> -a -h -d 1 <dir>" and prints the
	// directory it was asked to measure as the total.
	sudo := fakeDu(t, `printf '4.0K\t%s\n' "$7"`)

	res, err := NewDuMeasurer("/bin/du", sudo).MeasureChildren(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, "4.0K", res.TotalDisplay)
}

func TestNew(t *testing.T) {
	for _, name := range []string{"", "auto", "ceph", "walk"} {
		m, err := New(name, Options{})
		require.NoError(t, err, name)
		assert.NotNil(t, m)
	}

	m, err := New("du", Options{DuPath: "/opt/du"})
	require.NoError(t, err)
	assert.Equal(t, "du", m.Name())

	_, err = New("magic", Options{})
	assert.Error(t, err)
}

func TestAutoMeasurer_FallsBackToWalk(t *testing.T) {
	m := &AutoMeasurer{ceph: &CephMeasurer{}, walk: &WalkMeasurer{}}
	assert.Equal(t, "walk", m.MeasurerFor(t.TempDir(), false).Name())

	m.du = NewDuMeasurer("/bin/du", "")
	assert.Equal(t, "du", m.MeasurerFor(t.TempDir(), false).Name())
	assert.Equal(t, "du", m.MeasurerFor(t.TempDir(), true).Name())
}
