package giveaway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRe = regexp.MustCompile(`^(?:(\d+)d)?\s*(?:(\d+)h)?\s*(?:(\d+)m)?\s*(?:(\d+)s)?$`)

// ParseDuration parses the "1d 2h 3m 4s" form used when starting a
// giveaway. Every component is optional but they must appear in that order,
// and at least one must be present.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDuration)
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	units := [4]time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var (
		total time.Duration
		found bool
	)
	for i, unit := range units {
		raw := m[i+1]
		if raw == "" {
			continue
		}
		found = true
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n > int64(maxDuration/unit) {
			return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDuration, s)
		}
		total += time.Duration(n) * unit
		if total > maxDuration || total < 0 {
			return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDuration, s)
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return total, nil
}

// maxDuration keeps parsed values far away from time.Duration overflow.
const maxDuration = 100 * 365 * 24 * time.Hour

// FormatDuration renders d in the same "1d 2h 3m 4s" form.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	parts := make([]string, 0, 4)
	if days := d / (24 * time.Hour); days > 0 {
		parts = append(parts, strconv.FormatInt(int64(days), 10)+"d")
		d -= days * 24 * time.Hour
	}
	if h := d / time.Hour; h > 0 {
		parts = append(parts, strconv.FormatInt(int64(h), 10)+"h")
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		parts = append(parts, strconv.FormatInt(int64(m), 10)+"m")
		d -= m * time.Minute
	}
	if sec := d / time.Second; sec > 0 {
		parts = append(parts, strconv.FormatInt(int64(sec), 10)+"s")
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}
