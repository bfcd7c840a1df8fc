package measure

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jgalley/dumirror/internal/record"
)

// WalkMeasurer uses filepath.WalkDir to calculate the size of each child.
type WalkMeasurer struct{}

// Name returns the strategy name.
func (m *WalkMeasurer) Name() string {
	return "walk"
}

// MeasureChildren lists path and sums file sizes below each child directory.
// Symlinks are counted by their own size and never followed.
func (m *WalkMeasurer) MeasureChildren(ctx context.Context, path string, elevated bool) (Result, error) {
	if elevated {
		return Result{}, &Error{Path: path, Err: ErrElevationUnsupported}
	}

	dirents, err := os.ReadDir(path)
	if err != nil {
		return Result{}, &Error{Path: path, Err: err}
	}

	var res Result
	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		full := filepath.Join(path, d.Name())
		var size int64
		if d.IsDir() {
			size, err = walkNoFollow(ctx, full)
			if err != nil {
				return Result{}, err
			}
		} else {
			info, err := d.Info()
			if err != nil {
				continue
			}
			size = info.Size()
		}
		res.Total += size
		res.Entries = append(res.Entries, record.EntryFromBytes(d.Name(), size, d.IsDir()))
	}

	res.TotalDisplay = record.FormatSize(res.Total)
	record.SortEntries(res.Entries)
	return res, nil
}

// walkNoFollow uses the standard filepath.WalkDir which doesn't follow symlinks.
// Unreadable parts of the tree are skipped.
func walkNoFollow(ctx context.Context, path string) (int64, error) {
	var totalSize int64

	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil
		}

		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			totalSize += info.Size()
		}

		return nil
	})

	if err != nil {
		return 0, err
	}

	return totalSize, nil
}
