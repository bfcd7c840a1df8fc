// Package browser provides interactive navigation over past scan runs.
package browser

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jgalley/dumirror/internal/record"
	"github.com/jgalley/dumirror/internal/storage"
)

// Status messages shown for the current location.
const (
	StatusNotExpanded = "not expanded"
	StatusUnavailable = "unavailable"
)

// Source is the read side of the output root.
type Source interface {
	ListRuns() ([]storage.Run, error)
	ListImmediateOutputPaths(run storage.Run) ([]string, error)
	LoadRecord(run storage.Run, sourcePath string) (*record.DirectoryRecord, error)
}

// Item is one selectable row of the directory screen.
type Item struct {
	Name   string
	Path   string
	Size   string
	IsDir  bool
	Parent bool
}

// Navigator holds browsing state: the selected run, the current directory
// within it and the cursor. It performs no terminal I/O.
type Navigator struct {
	src  Source
	runs []storage.Run

	run      storage.Run
	hasRun   bool
	root     string
	location string
	rec      *record.DirectoryRecord
	status   string
	items    []Item
	cursor   int
}

// NewNavigator creates a Navigator reading from src.
func NewNavigator(src Source) *Navigator {
	return &Navigator{src: src}
}

// Runs reloads and returns the available runs, newest first.
func (n *Navigator) Runs() ([]storage.Run, error) {
	runs, err := n.src.ListRuns()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	n.runs = runs
	return runs, nil
}

// SelectRun opens the i-th run returned by the last call to Runs and moves to
// its top-level record.
func (n *Navigator) SelectRun(i int) error {
	if i < 0 || i >= len(n.runs) {
		return fmt.Errorf("run %d out of range", i)
	}
	run := n.runs[i]

	roots, err := n.src.ListImmediateOutputPaths(run)
	if err != nil {
		return fmt.Errorf("listing records of run %s: %w", run.ID, err)
	}
	if len(roots) == 0 {
		return fmt.Errorf("run %s has no records", run.ID)
	}

	n.run = run
	n.hasRun = true
	n.root = roots[0]
	n.goTo(n.root, "")
	return nil
}

// Run returns the selected run.
func (n *Navigator) Run() (storage.Run, bool) {
	return n.run, n.hasRun
}

// Location returns the source path currently shown.
func (n *Navigator) Location() string {
	return n.location
}

// Root returns the top-level source path of the selected run.
func (n *Navigator) Root() string {
	return n.root
}

// Record returns the record for the current location, nil when it has none.
func (n *Navigator) Record() *record.DirectoryRecord {
	return n.rec
}

// Status describes a problem with the current location: a record that was
// never written, one that cannot be read, or the measurement diagnostic it
// carries. It is empty otherwise.
func (n *Navigator) Status() string {
	return n.status
}

// Items returns the rows for the current location: a parent row when below the
// run's root, then the record's entries largest first.
func (n *Navigator) Items() []Item {
	return n.items
}

// Cursor returns the index of the selected item.
func (n *Navigator) Cursor() int {
	return n.cursor
}

// Selected returns the item under the cursor.
func (n *Navigator) Selected() (Item, bool) {
	if n.cursor < 0 || n.cursor >= len(n.items) {
		return Item{}, false
	}
	return n.items[n.cursor], true
}

// Move shifts the cursor by delta, clamped to the item list.
func (n *Navigator) Move(delta int) {
	n.cursor += delta
	if n.cursor >= len(n.items) {
		n.cursor = len(n.items) - 1
	}
	if n.cursor < 0 {
		n.cursor = 0
	}
}

// Enter descends into the selected directory, or goes up when the parent row
// is selected. It reports whether the location changed.
func (n *Navigator) Enter() bool {
	it, ok := n.Selected()
	if !ok {
		return false
	}
	if it.Parent {
		return n.Parent()
	}
	if !it.IsDir {
		return false
	}
	n.goTo(it.Path, "")
	return true
}

// Parent moves to the parent of the current location, keeping the cursor on
// the directory just left. It reports whether the location changed.
func (n *Navigator) Parent() bool {
	if !n.hasRun || n.location == n.root {
		return false
	}
	n.goTo(filepath.Dir(n.location), n.location)
	return true
}

func (n *Navigator) goTo(path, focus string) {
	n.location = path
	n.rec = nil
	n.status = ""
	n.items = nil
	n.cursor = 0

	if path != n.root {
		n.items = append(n.items, Item{Name: "..", Path: filepath.Dir(path), Parent: true})
	}

	rec, err := n.src.LoadRecord(n.run, path)
	switch {
	case err == nil:
		n.rec = rec
		for _, e := range rec.Entries {
			n.items = append(n.items, Item{
				Name:  e.Name,
				Path:  filepath.Join(path, e.Name),
				Size:  e.SizeDisplay,
				IsDir: e.IsDir,
			})
		}
		if rec.Failed() {
			n.status = rec.Error
		}
	case errors.Is(err, storage.ErrNotFound):
		n.status = StatusNotExpanded
	default:
		n.status = StatusUnavailable
	}

	for i, it := range n.items {
		if focus != "" && !it.Parent && it.Path == focus {
			n.cursor = i
			break
		}
	}
}
