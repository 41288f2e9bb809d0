package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Profile names the fields of a record kind that need normalization.
type Profile struct {
	// Name identifies the record kind in error messages.
	Name string
	// Checksum fields are replaced by ChecksumPlaceholder.
	Checksum []string
	// Size fields are removed from the record and returned separately so the
	// caller can compare them with tolerance.
	Size []string
	// Text fields get the Text transform.
	Text []string
}

// Profiles for the documents the engine writes.
var (
	DBRelease = Profile{
		Name:     "release",
		Checksum: []string{"Checksum"},
		Size:     []string{"Size"},
		Text:     []string{"Log"},
	}
	DBLibrary = Profile{
		Name: "library",
	}
	IndexEntry = Profile{
		Name:     "index entry",
		Checksum: []string{"checksum"},
		Size:     []string{"size"},
	}
)

// MissingFieldError reports a field the profile requires but the record lacks.
type MissingFieldError struct {
	Profile string
	Field   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s has no %q field", e.Profile, e.Field)
}

// Normalized is a record after normalization.
type Normalized struct {
	// Fields holds every remaining field, ready for exact comparison.
	Fields map[string]any
	// Sizes holds the extracted size fields.
	Sizes map[string]int64
}

// Record returns a normalized copy of rec. The input map is not modified.
func Record(p Profile, rec map[string]any) (*Normalized, error) {
	out := &Normalized{
		Fields: make(map[string]any, len(rec)),
		Sizes:  make(map[string]int64, len(p.Size)),
	}
	for k, v := range rec {
		out.Fields[k] = v
	}

	for _, f := range p.Checksum {
		if _, ok := out.Fields[f]; ok {
			out.Fields[f] = ChecksumPlaceholder
		}
	}

	for _, f := range p.Text {
		v, ok := out.Fields[f]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			out.Fields[f] = Text(s)
		}
	}

	for _, f := range p.Size {
		v, ok := out.Fields[f]
		if !ok {
			return nil, &MissingFieldError{Profile: p.Name, Field: f}
		}
		n, err := Int(v)
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", p.Name, f, err)
		}
		out.Sizes[f] = n
		delete(out.Fields, f)
	}

	return out, nil
}

// Int converts a decoded JSON number to int64.
func Int(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("non-integer number %v", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// CompareSizes checks every size field of actual against expected.
func CompareSizes(actual, expected *Normalized, tol float64) error {
	for field, a := range actual.Sizes {
		e, ok := expected.Sizes[field]
		if !ok {
			return &MissingFieldError{Profile: "expected record", Field: field}
		}
		if err := CheckSize(field, a, e, tol); err != nil {
			return err
		}
	}
	return nil
}
