package measure

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jgalley/dumirror/internal/record"
)

// DuMeasurer uses the du command to measure a directory's children.
type DuMeasurer struct {
	duPath   string
	sudoPath string
}

// NewDuMeasurer creates a DuMeasurer. sudoPath is used for elevated
// measurements and defaults to "sudo".
func NewDuMeasurer(duPath, sudoPath string) *DuMeasurer {
	if sudoPath == "" {
		sudoPath = "sudo"
	}
	return &DuMeasurer{duPath: duPath, sudoPath: sudoPath}
}

// Name returns the strategy name.
func (m *DuMeasurer) Name() string {
	return "du"
}

// MeasureChildren executes du -a -h -d 1 on path. du exits non-zero when part
// of the tree is unreadable but still prints what it could measure; that case
// yields the parsed entries together with a partial *Error.
func (m *DuMeasurer) MeasureChildren(ctx context.Context, path string, elevated bool) (Result, error) {
	args := []string{"-a", "-h", "-d", "1", path}
	var cmd *exec.Cmd
	if elevated {
		cmd = exec.CommandContext(ctx, m.sudoPath, append([]string{"--", m.duPath}, args...)...)
	} else {
		cmd = exec.CommandContext(ctx, m.duPath, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	res, found := parseDuOutput(path, stdout.Bytes())

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Result{}, &Error{Path: path, Err: fmt.Errorf("executing du: %w", runErr)}
		}
		cause := fmt.Errorf("du exited with status %d: %s", exitErr.ExitCode(), firstLine(stderr.String()))
		if !found {
			return Result{}, &Error{Path: path, Err: cause}
		}
		return res, &Error{Path: path, Err: cause, Partial: true}
	}

	if !found {
		return Result{}, &Error{Path: path, Err: fmt.Errorf("unexpected du output: %q", firstLine(stdout.String()))}
	}
	return res, nil
}

// parseDuOutput parses "size\tpath" lines. The line for dir itself becomes the
// total; lines for immediate children become entries. It reports whether any
// usable line was found.
func parseDuOutput(dir string, out []byte) (Result, bool) {
	var res Result
	found := false
	dir = filepath.Clean(dir)

	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		size, p, ok := strings.Cut(sc.Text(), "\t")
		if !ok {
			continue
		}
		size = strings.TrimSpace(size)
		p = filepath.Clean(p)

		if p == dir {
			n, err := record.ParseSize(size)
			if err != nil {
				continue
			}
			res.Total = n
			res.TotalDisplay = size
			found = true
			continue
		}
		if filepath.Dir(p) != dir {
			continue
		}

		e, err := record.NewEntry(filepath.Base(p), size, isDir(p))
		if err != nil {
			continue
		}
		res.Entries = append(res.Entries, e)
		found = true
	}

	record.SortEntries(res.Entries)
	return res, found
}

// isDir reports whether p is a directory without following symlinks.
func isDir(p string) bool {
	info, err := os.Lstat(p)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
