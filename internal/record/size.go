package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024
	TiB = GiB * 1024
	PiB = TiB * 1024
	EiB = PiB * 1024
)

var units = []struct {
	suffix string
	size   int64
}{
	{"E", EiB},
	{"P", PiB},
	{"T", TiB},
	{"G", GiB},
	{"M", MiB},
	{"K", KiB},
}

// ParseSize parses a human-readable size as printed by du -h (e.g. "4.2G",
// "512", "0B", "1,5M") into bytes. Units are powers of 1024.
func ParseSize(s string) (int64, error) {
	return parseSize(s, 1)
}

// ParseThreshold parses a size the way ParseSize does, except that a bare
// number is taken to be GiB.
func ParseThreshold(s string) (int64, error) {
	return parseSize(s, GiB)
}

func parseSize(s string, bare int64) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	// Find where the number ends and the suffix begins
	end := len(s)
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' && c != ',' {
			end = i
			break
		}
	}
	numStr := strings.Replace(s[:end], ",", ".", 1)
	suffix := strings.ToUpper(strings.TrimSpace(s[end:]))

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in size %q", s)
	}
	if num < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}

	multiplier := int64(1)
	switch suffix {
	case "":
		multiplier = bare
	case "B":
		multiplier = 1
	default:
		suffix = strings.TrimSuffix(strings.TrimSuffix(suffix, "IB"), "B")
		found := false
		for _, u := range units {
			if u.suffix == suffix {
				multiplier = u.size
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown size suffix in %q", s)
		}
	}

	bytes := num * float64(multiplier)
	if bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int64(bytes), nil
}

// FormatSize renders bytes like du -h: values below ten get one decimal,
// everything is rounded up.
func FormatSize(bytes int64) string {
	if bytes < KiB {
		return strconv.FormatInt(bytes, 10)
	}

	for i := len(units) - 1; i >= 0; i-- {
		u := units[i]
		if i > 0 && bytes >= units[i-1].size {
			continue
		}
		v := float64(bytes) / float64(u.size)
		if v < 10 {
			r := math.Ceil(v*10) / 10
			if r < 10 {
				return strconv.FormatFloat(r, 'f', 1, 64) + u.suffix
			}
			v = r
		}
		r := math.Ceil(v)
		if r >= 1024 && i > 0 {
			return "1.0" + units[i-1].suffix
		}
		return strconv.FormatFloat(r, 'f', 0, 64) + u.suffix
	}
	return strconv.FormatInt(bytes, 10)
}
