package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatTime renders seconds as MM:SS.cc. The value is rounded to the nearest
// hundredth before it is split, so 59.999 becomes "01:00.00" rather than
// "00:60.00". Negative or NaN input renders as zero.
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	cs := int64(math.Round(seconds * 100))
	minutes := cs / 6000
	rem := cs % 6000
	return fmt.Sprintf("%02d:%02d.%02d", minutes, rem/100, rem%100)
}

func FormatDuration(d time.Duration) string {
	return FormatTime(d.Seconds())
}

// ParseFormatted is the inverse of FormatTime.
func ParseFormatted(s string) (float64, error) {
	minStr, secStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(minStr) < 2 || len(secStr) != 5 || secStr[2] != '.' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	minutes, err := parseDigits(minStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	secs, err := parseDigits(secStr[:2])
	if err != nil || secs >= 60 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	hundredths, err := parseDigits(secStr[3:])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	cs := minutes*6000 + secs*100 + hundredths
	return float64(cs) / 100, nil
}

func parseDigits(s string) (int64, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
