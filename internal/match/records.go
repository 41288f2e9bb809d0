package match

import (
	"fmt"
	"reflect"

	"go.uber.org/multierr"
	"golang.org/x/text/unicode/norm"

	"github.com/arduino/libraries-repository-engine/internal/canon"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
)

// Record is a decoded JSON object from an engine document.
type Record = map[string]any

// FieldKey returns a KeyFunc reading the named string fields of a record.
func FieldKey(fields ...string) KeyFunc[Record] {
	return func(r Record) (Key, error) {
		k := make(Key, len(fields))
		for i, f := range fields {
			v, ok := r[f]
			if !ok {
				return nil, &normalize.MissingFieldError{Profile: "record", Field: f}
			}
			s, ok := v.(string)
			if !ok {
				s = canon.MustString(v)
			}
			k[i] = s
		}
		return k, nil
	}
}

// Options tunes Records.
type Options struct {
	// Tolerance is the relative size tolerance. Zero means
	// normalize.DefaultSizeTolerance; use a negative value for exact sizes.
	Tolerance float64
}

func (o Options) tolerance() float64 {
	switch {
	case o.Tolerance == 0:
		return normalize.DefaultSizeTolerance
	case o.Tolerance < 0:
		return 0
	default:
		return o.Tolerance
	}
}

// Records compares decoded engine records. Both sides are normalized with
// profile, sizes are compared with tolerance and every remaining field must be
// equal.
func Records(profile normalize.Profile, actual, expected []Record, opts Options, keyFields ...string) error {
	tol := opts.tolerance()
	return Match(profile.Name, actual, expected, FieldKey(keyFields...), func(k Key, a, e Record) error {
		return compareRecord(profile, k, a, e, tol)
	})
}

func compareRecord(profile normalize.Profile, k Key, actual, expected Record, tol float64) error {
	na, err := normalize.Record(profile, actual)
	if err != nil {
		return &RecordError{Collection: profile.Name, Key: k, Err: fmt.Errorf("actual: %w", err)}
	}
	ne, err := normalize.Record(profile, expected)
	if err != nil {
		return &RecordError{Collection: profile.Name, Key: k, Err: fmt.Errorf("expected: %w", err)}
	}

	var errs error
	if err := normalize.CompareSizes(na, ne, tol); err != nil {
		errs = multierr.Append(errs, &RecordError{Collection: profile.Name, Key: k, Err: err})
	}
	errs = multierr.Append(errs, Fields(profile.Name, k, na.Fields, ne.Fields))
	return errs
}

// Fields reports every field whose decoded value differs between actual and
// expected, including fields present on only one side. Values are compared
// as decoded: strings byte for byte and json.Number by its text.
func Fields(collection string, k Key, actual, expected Record) error {
	union := make(Record, len(actual)+len(expected))
	for f := range actual {
		union[f] = nil
	}
	for f := range expected {
		union[f] = nil
	}

	var errs error
	for _, f := range canon.SortedKeys(union) {
		av, aok := actual[f]
		ev, eok := expected[f]
		if aok && eok && reflect.DeepEqual(av, ev) {
			continue
		}
		mismatch := &FieldMismatchError{
			Collection: collection,
			Key:        k,
			Field:      f,
			Actual:     describe(av, aok),
			Expected:   describe(ev, eok),
		}
		if formOnly(av, ev) {
			mismatch.Hint = "differs only in Unicode normalization form"
		}
		errs = multierr.Append(errs, mismatch)
	}
	return errs
}

func describe(v any, present bool) string {
	if !present {
		return "<absent>"
	}
	return canon.MustString(v)
}

// formOnly reports two strings that are equal after NFC normalization but not
// byte for byte. Such values print identically.
func formOnly(a, b any) bool {
	as, ok := a.(string)
	if !ok {
		return false
	}
	bs, ok := b.(string)
	return ok && as != bs && norm.NFC.String(as) == norm.NFC.String(bs)
}
