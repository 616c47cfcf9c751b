// Package formatting parses and renders byte sizes and decodes JSON from free-form
// engine output.
package formatting

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Size units are base-1024. Upload and request limits never need more than TB.
var units = []string{"B", "KB", "MB", "GB", "TB"}

const mebibyte = 1 << 20

// FormatBytes renders n in the largest unit that keeps the value at or above 1,
// for example "1.5 KB" or "25 MB". Negative precision is treated as zero.
func FormatBytes(n int64, precision int) string {
	precision = max(precision, 0)
	if n == 0 {
		return "0 B"
	}

	f := math.Abs(float64(n))
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}
	if n < 0 {
		f = -f
	}
	return strconv.FormatFloat(f, 'f', precision, 64) + " " + units[i]
}

// FormatMegabytes renders n in MB with the given number of decimals, the form
// used in size limit messages ("25MB", "30.0MB"). A negative precision uses the
// fewest digits that represent the value exactly.
func FormatMegabytes(n int64, precision int) string {
	return strconv.FormatFloat(float64(n)/mebibyte, 'f', precision, 64) + "MB"
}

// ParseBytes parses a size such as "25MB", "1.5 kb" or "512" into bytes.
// A bare number is bytes. Negative sizes and sizes past math.MaxInt64 are errors.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	number, unit := s, ""
	if split >= 0 {
		number, unit = s[:split], strings.TrimSpace(s[split:])
	}
	if number == "" {
		return 0, fmt.Errorf("invalid byte size %q: missing number", s)
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	exp := 0
	if unit != "" {
		exp = -1
		for i, u := range units {
			if strings.EqualFold(unit, u) {
				exp = i
				break
			}
		}
		if exp < 0 {
			return 0, fmt.Errorf("invalid byte size %q: unknown unit %q", s, unit)
		}
	}

	bytes := value * math.Pow(1024, float64(exp))
	if bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid byte size %q: too large", s)
	}
	return int64(bytes), nil
}
