// Package measure reports the sizes of a directory's immediate children.
package measure

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/jgalley/dumirror/internal/record"
)

// Result is the measurement of one directory.
type Result struct {
	// Total is the size of the directory itself, zero if unknown.
	Total        int64
	TotalDisplay string
	// Entries are the immediate children, largest first.
	Entries []record.Entry
}

// Measurer defines the interface for directory measurement methods.
type Measurer interface {
	// Name returns the strategy name for logging.
	Name() string

	// MeasureChildren returns the sizes of the immediate children of path.
	// elevated asks for the measurement to run with raised privileges.
	MeasureChildren(ctx context.Context, path string, elevated bool) (Result, error)
}

// Error reports a failed or partial measurement of one directory. When Partial
// is set the accompanying Result still holds the entries that were measured.
type Error struct {
	Path    string
	Err     error
	Partial bool
}

func (e *Error) Error() string {
	if e.Partial {
		return fmt.Sprintf("measuring %s (partial): %v", e.Path, e.Err)
	}
	return fmt.Sprintf("measuring %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrElevationUnsupported is returned by strategies that cannot run with raised
// privileges.
var ErrElevationUnsupported = errors.New("strategy cannot measure with elevated privileges")

// CephFSMagic is the filesystem magic number for CephFS.
const CephFSMagic = 0x00c36400

// Options configures the external tools used by the strategies.
type Options struct {
	DuPath   string
	SudoPath string
}

// New returns the named strategy: "auto", "du", "ceph" or "walk".
func New(name string, opts Options) (Measurer, error) {
	switch name {
	case "", "auto":
		return NewAutoMeasurer(opts), nil
	case "du":
		duPath, err := lookupDu(opts.DuPath)
		if err != nil {
			return nil, err
		}
		return NewDuMeasurer(duPath, opts.SudoPath), nil
	case "ceph":
		return &CephMeasurer{}, nil
	case "walk":
		return &WalkMeasurer{}, nil
	default:
		return nil, fmt.Errorf("unknown measurement strategy %q", name)
	}
}

func lookupDu(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	p, err := exec.LookPath("du")
	if err != nil {
		return "", fmt.Errorf("locating du: %w", err)
	}
	return p, nil
}

// isCephFS checks if the path is on a CephFS filesystem.
func isCephFS(path string) bool {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return false
	}
	return stat.Type == CephFSMagic
}
