package match

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is the natural identity of a record, e.g. (LibraryName, Version).
type Key []string

// String renders the key as name@version style text.
func (k Key) String() string {
	return strings.Join(k, "@")
}

// id is the map key form of a Key. Parts are length prefixed since JSON
// strings may contain any character, NUL included.
func (k Key) id() string {
	var b strings.Builder
	for _, part := range k {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// CardinalityError reports collections of different sizes.
type CardinalityError struct {
	Collection string
	Actual     int
	Expected   int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("%s: %d actual records, expected %d", e.Collection, e.Actual, e.Expected)
}

// MissingGoldenMatchError reports an actual record whose key has no
// counterpart in the expected collection.
type MissingGoldenMatchError struct {
	Collection string
	Key        Key
}

func (e *MissingGoldenMatchError) Error() string {
	return fmt.Sprintf("%s: no golden record for %s", e.Collection, e.Key)
}

// DuplicateKeyError reports two records sharing a natural key on one side.
type DuplicateKeyError struct {
	Collection string
	Side       string // "actual" or "expected"
	Key        Key
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: duplicate %s record %s", e.Collection, e.Side, e.Key)
}

// FieldMismatchError reports a single field that differs after normalization.
type FieldMismatchError struct {
	Collection string
	Key        Key
	Field      string
	Actual     string
	Expected   string
	Hint       string // optional, e.g. for values that print identically
}

func (e *FieldMismatchError) Error() string {
	msg := fmt.Sprintf("%s %s: field %s = %s, expected %s",
		e.Collection, e.Key, e.Field, e.Actual, e.Expected)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// RecordError attaches the record identity to a comparison failure that does
// not carry one itself (e.g. a size tolerance failure).
type RecordError struct {
	Collection string
	Key        Key
	Err        error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collection, e.Key, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
