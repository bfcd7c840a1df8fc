package measure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/jgalley/dumirror/internal/record"
)

// CephMeasurer reads recursive directory sizes from the CephFS ceph.dir.rbytes
// xattr, so no tree walk is needed.
type CephMeasurer struct{}

// Name returns the strategy name.
func (m *CephMeasurer) Name() string {
	return "ceph"
}

// MeasureChildren lists path and reads the rbytes xattr of every child
// directory. Children whose xattr cannot be read are left out and reported as a
// partial failure.
func (m *CephMeasurer) MeasureChildren(ctx context.Context, path string, elevated bool) (Result, error) {
	if elevated {
		return Result{}, &Error{Path: path, Err: ErrElevationUnsupported}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	dirents, err := os.ReadDir(path)
	if err != nil {
		return Result{}, &Error{Path: path, Err: err}
	}

	var res Result
	var failed []error
	for _, d := range dirents {
		full := filepath.Join(path, d.Name())
		if d.IsDir() {
			size, err := rbytes(full)
			if err != nil {
				failed = append(failed, err)
				continue
			}
			res.Entries = append(res.Entries, record.EntryFromBytes(d.Name(), size, true))
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		res.Entries = append(res.Entries, record.EntryFromBytes(d.Name(), info.Size(), false))
	}

	if total, err := rbytes(path); err == nil {
		res.Total = total
		res.TotalDisplay = record.FormatSize(total)
	}
	record.SortEntries(res.Entries)

	if len(failed) > 0 {
		return res, &Error{Path: path, Err: errors.Join(failed...), Partial: true}
	}
	return res, nil
}

// rbytes reads the ceph.dir.rbytes xattr of a directory.
func rbytes(path string) (int64, error) {
	buf := make([]byte, 64)
	sz, err := unix.Getxattr(path, "ceph.dir.rbytes", buf)
	if err != nil {
		return 0, fmt.Errorf("reading ceph.dir.rbytes xattr of %s: %w", path, err)
	}

	size, err := strconv.ParseInt(string(buf[:sz]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing xattr value %q: %w", string(buf[:sz]), err)
	}

	return size, nil
}
