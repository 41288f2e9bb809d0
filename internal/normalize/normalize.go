// Package normalize removes non-semantic noise from engine output before it is
// compared with a golden fixture.
//
// Every transform here is applied identically to the actual and the expected
// side of a comparison. A one-sided transform would let a fixture drift away
// from what the engine really writes without any test noticing.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Sentinel tokens substituted for values that legitimately differ between runs.
const (
	TimestampPlaceholder = "TIMESTAMP_PLACEHOLDER"
	ChecksumPlaceholder  = "CHECKSUM_PLACEHOLDER"
)

// DefaultSizeTolerance is the maximum relative difference allowed between an
// archive size and its golden value. Compressor changes move sizes slightly.
const DefaultSizeTolerance = 0.03

var timestampPrefix = regexp.MustCompile(`(?m)^[0-9]{4}/[0-9]{2}/[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2}`)

// TrimTrailingSpace strips trailing whitespace from every line and joins the
// lines with \n. A final line break does not produce an empty last line, so
// "a  \n" and "a" normalize identically.
//
// Lint reports are fixed-width tables padded to the column width; the padding
// shifts whenever a column's longest cell changes.
func TrimTrailingSpace(s string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.Join(lines, "\n")
}

// RedactTimestamps replaces a leading YYYY/MM/DD HH:MM:SS on any line with
// TimestampPlaceholder.
func RedactTimestamps(s string) string {
	return timestampPrefix.ReplaceAllString(s, TimestampPlaceholder)
}

// Text applies the free-text transforms used for log files and Log fields.
func Text(s string) string {
	return RedactTimestamps(TrimTrailingSpace(s))
}

// WithinTolerance reports whether actual and expected differ by at most tol
// relative to the larger magnitude of the two.
func WithinTolerance(actual, expected int64, tol float64) bool {
	if actual == expected {
		return true
	}
	a, e := float64(actual), float64(expected)
	return math.Abs(a-e) <= tol*math.Max(math.Abs(a), math.Abs(e))
}

// ToleranceError reports a size outside the allowed relative tolerance.
type ToleranceError struct {
	Field     string
	Actual    int64
	Expected  int64
	Tolerance float64
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("%s %d is not within %.1f%% of expected %d",
		e.Field, e.Actual, e.Tolerance*100, e.Expected)
}

// CheckSize returns a *ToleranceError when actual is outside tol of expected.
func CheckSize(field string, actual, expected int64, tol float64) error {
	if WithinTolerance(actual, expected, tol) {
		return nil
	}
	return &ToleranceError{Field: field, Actual: actual, Expected: expected, Tolerance: tol}
}
