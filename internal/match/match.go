// Package match compares two collections of records by natural key.
//
// The engine enumerates libraries and releases in no particular order, so
// records are paired through an index keyed by business identity and never by
// position. Every failure found is reported; comparison does not stop at the
// first mismatch.
package match

import (
	"go.uber.org/multierr"
)

// KeyFunc extracts the natural key of a record.
type KeyFunc[T any] func(T) (Key, error)

// CompareFunc compares a matched pair of records.
type CompareFunc[T any] func(key Key, actual, expected T) error

// Match checks that actual and expected contain the same records.
//
//  1. Both collections must have the same length.
//  2. Keys must be unique on each side.
//  3. Every actual record must have an expected record with the same key.
//  4. Each matched pair must satisfy compare.
//
// The returned error combines every failure (see multierr.Errors).
func Match[T any](collection string, actual, expected []T, key KeyFunc[T], compare CompareFunc[T]) error {
	var errs error

	if len(actual) != len(expected) {
		errs = multierr.Append(errs, &CardinalityError{
			Collection: collection,
			Actual:     len(actual),
			Expected:   len(expected),
		})
	}

	golden, err := index(collection, "expected", expected, key)
	errs = multierr.Append(errs, err)

	seen := make(map[string]bool, len(actual))
	for _, rec := range actual {
		k, err := key(rec)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if seen[k.id()] {
			errs = multierr.Append(errs, &DuplicateKeyError{Collection: collection, Side: "actual", Key: k})
			continue
		}
		seen[k.id()] = true

		exp, ok := golden[k.id()]
		if !ok {
			errs = multierr.Append(errs, &MissingGoldenMatchError{Collection: collection, Key: k})
			continue
		}
		if compare != nil {
			errs = multierr.Append(errs, compare(k, rec, exp))
		}
	}

	return errs
}

// Index builds the key to record lookup used by Match. It is exported for
// checks that need to find single records by identity.
func Index[T any](collection string, records []T, key KeyFunc[T]) (map[string]T, error) {
	return index(collection, "expected", records, key)
}

// Lookup finds the record for k in an index built by Index.
func Lookup[T any](idx map[string]T, k Key) (T, bool) {
	v, ok := idx[k.id()]
	return v, ok
}

func index[T any](collection, side string, records []T, key KeyFunc[T]) (map[string]T, error) {
	var errs error
	idx := make(map[string]T, len(records))
	for _, rec := range records {
		k, err := key(rec)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, dup := idx[k.id()]; dup {
			errs = multierr.Append(errs, &DuplicateKeyError{Collection: collection, Side: side, Key: k})
			continue
		}
		idx[k.id()] = rec
	}
	return idx, errs
}
