// Package record defines the per-directory size breakdown persisted by a scan
// run and the text format it is stored in.
package record

import (
	"fmt"
	"sort"
)

// Entry is one immediate child of a measured directory.
type Entry struct {
	Name        string `json:"name" yaml:"name"`
	SizeDisplay string `json:"size" yaml:"size"`
	IsDir       bool   `json:"is_dir" yaml:"is_dir"`
	SizeBytes   int64  `json:"size_bytes" yaml:"size_bytes"`
}

// DirectoryRecord is the persisted result for one scanned directory.
type DirectoryRecord struct {
	SourcePath   string  `json:"path" yaml:"path"`
	Total        int64   `json:"total_bytes,omitempty" yaml:"total_bytes,omitempty"`
	TotalDisplay string  `json:"total,omitempty" yaml:"total,omitempty"`
	Error        string  `json:"error,omitempty" yaml:"error,omitempty"`
	Entries      []Entry `json:"entries" yaml:"entries"`
}

// Failed reports whether the measurement behind this record reported an error.
func (r *DirectoryRecord) Failed() bool {
	return r.Error != ""
}

// Directories returns the entries that are directories, in record order.
func (r *DirectoryRecord) Directories() []Entry {
	var dirs []Entry
	for _, e := range r.Entries {
		if e.IsDir {
			dirs = append(dirs, e)
		}
	}
	return dirs
}

// SortEntries orders entries by size, largest first. Entries of equal size keep
// the order the measurer produced them in.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SizeBytes > entries[j].SizeBytes
	})
}

// NewEntry builds an entry from a display size, deriving the byte count.
func NewEntry(name, sizeDisplay string, isDir bool) (Entry, error) {
	n, err := ParseSize(sizeDisplay)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, SizeDisplay: sizeDisplay, IsDir: isDir, SizeBytes: n}, nil
}

// EntryFromBytes builds an entry from an exact byte count.
func EntryFromBytes(name string, size int64, isDir bool) Entry {
	return Entry{Name: name, SizeDisplay: FormatSize(size), IsDir: isDir, SizeBytes: size}
}

// ParseError is returned when a record file cannot be parsed.
type ParseError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parsing record %s: line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("parsing record %s: %s", e.Path, e.Reason)
}
