package measure

import (
	"context"
	"path/filepath"
)

// AutoMeasurer detects the best strategy per directory.
// This handles cases where a scan crosses filesystem boundaries
// (e.g., base path on ext4 but a mount below it on CephFS).
type AutoMeasurer struct {
	du   *DuMeasurer
	ceph *CephMeasurer
	walk *WalkMeasurer
}

// NewAutoMeasurer creates an AutoMeasurer that will detect per directory.
func NewAutoMeasurer(opts Options) *AutoMeasurer {
	m := &AutoMeasurer{
		ceph: &CephMeasurer{},
		walk: &WalkMeasurer{},
	}
	if duPath, err := lookupDu(opts.DuPath); err == nil {
		m.du = NewDuMeasurer(duPath, opts.SudoPath)
	}
	return m
}

// Name returns the strategy name.
func (m *AutoMeasurer) Name() string {
	return "auto"
}

// MeasurerFor returns the appropriate strategy for a specific path.
// Elevated measurements always go through du, since it is the only strategy
// that can run under sudo.
func (m *AutoMeasurer) MeasurerFor(path string, elevated bool) Measurer {
	if elevated && m.du != nil {
		return m.du
	}

	// Resolve symlinks first to check the actual filesystem
	resolvedPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolvedPath = path
	}

	if isCephFS(resolvedPath) {
		return m.ceph
	}

	if m.du != nil {
		return m.du
	}

	return m.walk
}

// MeasureChildren detects the filesystem type for this specific path and uses
// the appropriate strategy.
func (m *AutoMeasurer) MeasureChildren(ctx context.Context, path string, elevated bool) (Result, error) {
	return m.MeasurerFor(path, elevated).MeasureChildren(ctx, path, elevated)
}
