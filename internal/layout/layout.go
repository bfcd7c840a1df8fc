// Package layout maps scanned source paths onto record files inside a run
// directory and back.
//
// A record for /data/logs lives at <run>/data/logs/logs_disk_usage.txt, so a
// directory and its summary file coexist in the mirrored tree. Path components
// are escaped the same way on every platform: '%', control characters and
// characters reserved on common filesystems become %XX, and a component that
// itself ends in the record suffix has its final '.' escaped so it can never
// collide with a record file.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// RecordSuffix distinguishes a record file from a mirrored directory.
	RecordSuffix = "_disk_usage.txt"

	// RunIDFormat is the time layout of run directory names.
	RunIDFormat = "2006-01-02_15-04-05"
)

const reserved = `%<>:"|?*\`

// FormatRunID returns the run directory name for t.
func FormatRunID(t time.Time) string {
	return t.Format(RunIDFormat)
}

// ParseRunID parses a run directory name in the local time zone.
func ParseRunID(id string) (time.Time, error) {
	return time.ParseInLocation(RunIDFormat, id, time.Local)
}

// RecordPath returns the record file location for sourcePath under runDir.
// sourcePath must be absolute.
func RecordPath(runDir, sourcePath string) (string, error) {
	comps, err := components(sourcePath)
	if err != nil {
		return "", err
	}

	leaf := ""
	if len(comps) > 0 {
		leaf = comps[len(comps)-1]
	}

	parts := make([]string, 0, len(comps)+2)
	parts = append(parts, runDir)
	parts = append(parts, comps...)
	parts = append(parts, leaf+RecordSuffix)
	return filepath.Join(parts...), nil
}

// RecordDir returns the mirrored directory that holds the record for
// sourcePath.
func RecordDir(runDir, sourcePath string) (string, error) {
	p, err := RecordPath(runDir, sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Dir(p), nil
}

// SourcePath is the inverse of RecordPath. It reports false when recordFile is
// not a record file laid out under runDir.
func SourcePath(runDir, recordFile string) (string, bool) {
	rel, err := filepath.Rel(runDir, recordFile)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	file := parts[len(parts)-1]
	dirs := parts[:len(parts)-1]

	if !strings.HasSuffix(file, RecordSuffix) {
		return "", false
	}
	leaf := strings.TrimSuffix(file, RecordSuffix)
	if len(dirs) == 0 {
		if leaf != "" {
			return "", false
		}
		return string(filepath.Separator), true
	}
	if leaf != dirs[len(dirs)-1] {
		return "", false
	}

	names := make([]string, len(dirs))
	for i, d := range dirs {
		name, ok := unescape(d)
		if !ok {
			return "", false
		}
		names[i] = name
	}

	sep := string(filepath.Separator)
	if filepath.VolumeName(names[0]) == names[0] && names[0] != "" {
		return names[0] + sep + strings.Join(names[1:], sep), true
	}
	return sep + strings.Join(names, sep), true
}

// components splits an absolute path into escaped mirror components. A volume
// name, if any, becomes the first component.
func components(sourcePath string) ([]string, error) {
	if !filepath.IsAbs(sourcePath) {
		return nil, fmt.Errorf("source path %q is not absolute", sourcePath)
	}
	clean := filepath.Clean(sourcePath)
	vol := filepath.VolumeName(clean)
	rest := filepath.ToSlash(clean[len(vol):])

	var comps []string
	if vol != "" {
		comps = append(comps, escape(vol))
	}
	for _, c := range strings.Split(rest, "/") {
		if c == "" {
			continue
		}
		comps = append(comps, escape(c))
	}
	return comps, nil
}

func escape(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte(reserved, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	s := b.String()
	if strings.HasSuffix(s, RecordSuffix) {
		dot := strings.LastIndexByte(s, '.')
		s = s[:dot] + "%2E" + s[dot+1:]
	}
	return s
}

func unescape(s string) (string, bool) {
	if !strings.Contains(s, "%") {
		return s, true
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", false
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", false
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), true
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
