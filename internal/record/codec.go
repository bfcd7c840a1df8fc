package record

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Header keys written at the top of a record file.
const (
	headerPath  = "path"
	headerTotal = "total"
	headerError = "error"
)

// Encode writes rec in the record text format: '#' header lines followed by
// one "<size>\t<name>" line per entry, directories marked with a trailing '/'.
func Encode(w io.Writer, rec *DirectoryRecord) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# %s: %s\n", headerPath, encodePath(rec.SourcePath))
	if rec.TotalDisplay != "" {
		fmt.Fprintf(bw, "# %s: %s\n", headerTotal, rec.TotalDisplay)
	}
	if rec.Error != "" {
		fmt.Fprintf(bw, "# %s: %s\n", headerError, singleLine(rec.Error))
	}

	for _, e := range rec.Entries {
		name := encodeName(e.Name)
		if e.IsDir {
			name += "/"
		}
		fmt.Fprintf(bw, "%s\t%s\n", e.SizeDisplay, name)
	}

	return bw.Flush()
}

// Marshal returns the encoded form of rec.
func Marshal(rec *DirectoryRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a record. origin names the file in errors. Whitespace between
// the size and the name may be any run of spaces and tabs.
func Decode(r io.Reader, origin string) (*DirectoryRecord, error) {
	rec := &DirectoryRecord{}
	havePath := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		if strings.HasPrefix(text, "#") {
			key, value, ok := strings.Cut(strings.TrimSpace(text[1:]), ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.TrimSpace(key) {
			case headerPath:
				if strings.HasPrefix(value, `"`) {
					unquoted, err := strconv.Unquote(value)
					if err != nil {
						return nil, &ParseError{Path: origin, Line: line, Reason: fmt.Sprintf("invalid quoted path %s", value)}
					}
					value = unquoted
				}
				rec.SourcePath = value
				havePath = value != ""
			case headerTotal:
				n, err := ParseSize(value)
				if err != nil {
					return nil, &ParseError{Path: origin, Line: line, Reason: err.Error()}
				}
				rec.TotalDisplay = value
				rec.Total = n
			case headerError:
				rec.Error = value
			}
			continue
		}

		e, err := decodeEntry(text)
		if err != nil {
			return nil, &ParseError{Path: origin, Line: line, Reason: err.Error()}
		}
		rec.Entries = append(rec.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Path: origin, Line: line + 1, Reason: err.Error()}
	}

	if !havePath {
		return nil, &ParseError{Path: origin, Reason: "missing path header"}
	}
	return rec, nil
}

// Unmarshal parses data produced by Marshal.
func Unmarshal(data []byte, origin string) (*DirectoryRecord, error) {
	return Decode(bytes.NewReader(data), origin)
}

func decodeEntry(text string) (Entry, error) {
	text = strings.TrimLeft(text, " \t")
	i := strings.IndexAny(text, " \t")
	if i < 0 {
		return Entry{}, fmt.Errorf("expected size and name, got %q", text)
	}
	size := text[:i]
	name := strings.TrimLeft(text[i:], " \t")
	if name == "" {
		return Entry{}, fmt.Errorf("missing name after size %q", size)
	}

	isDir := false
	if strings.HasSuffix(name, "/") {
		isDir = true
		name = name[:len(name)-1]
	}
	if name == "" {
		return Entry{}, fmt.Errorf("empty name after size %q", size)
	}
	if strings.HasPrefix(name, `"`) {
		unquoted, err := strconv.Unquote(name)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid quoted name %s", name)
		}
		name = unquoted
	}

	return NewEntry(name, size, isDir)
}

// encodeName quotes names that would not survive a round trip as bare text.
func encodeName(name string) string {
	if name == "" || strings.HasPrefix(name, "#") || strings.HasSuffix(name, "/") || needsQuote(name) {
		return strconv.Quote(name)
	}
	return name
}

// encodePath quotes a header path that would be altered by the trimming
// applied to unquoted header values.
func encodePath(p string) string {
	if needsQuote(p) {
		return strconv.Quote(p)
	}
	return p
}

// needsQuote reports whether s has control characters, leading or trailing
// whitespace or a leading quote.
func needsQuote(s string) bool {
	if s == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	last, _ := utf8.DecodeLastRuneInString(s)
	if unicode.IsSpace(first) || unicode.IsSpace(last) || first == '"' {
		return true
	}
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

func singleLine(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
}
