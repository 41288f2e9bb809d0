package libdb

import (
	"fmt"

	"go.uber.org/multierr"
)

// IntegrityError reports a violation of the database invariants.
type IntegrityError struct {
	Document string
	Ref      string
	Problem  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Document, e.Ref, e.Problem)
}

// CheckIntegrity verifies that library names are unique, every release
// references an existing library and (LibraryName, Version) is unique.
func (db *DB) CheckIntegrity() error {
	var errs error

	libs := make(map[string]bool, len(db.Libraries))
	for _, l := range db.Libraries {
		if l.Name() == "" {
			errs = multierr.Append(errs, &IntegrityError{Document: "database", Ref: "<unnamed>", Problem: "library without a name"})
			continue
		}
		if libs[l.Name()] {
			errs = multierr.Append(errs, &IntegrityError{Document: "database", Ref: l.Name(), Problem: "duplicate library"})
		}
		libs[l.Name()] = true
	}

	releases := make(map[string]bool, len(db.Releases))
	for _, r := range db.Releases {
		if !libs[r.LibraryName()] {
			errs = multierr.Append(errs, &IntegrityError{Document: "database", Ref: r.Ref(), Problem: "release references unknown library"})
		}
		if releases[r.Ref()] {
			errs = multierr.Append(errs, &IntegrityError{Document: "database", Ref: r.Ref(), Problem: "duplicate release"})
		}
		releases[r.Ref()] = true
	}

	return errs
}

// CheckIntegrity verifies that (name, version) is unique in the index.
func (idx *Index) CheckIntegrity() error {
	var errs error
	seen := make(map[string]bool, len(idx.Libraries))
	for _, e := range idx.Libraries {
		if seen[e.Ref()] {
			errs = multierr.Append(errs, &IntegrityError{Document: "index", Ref: e.Ref(), Problem: "duplicate release"})
		}
		seen[e.Ref()] = true
	}
	return errs
}

// CheckPublished verifies that idx publishes exactly the well-formed releases
// of db. A release without a size or checksum is malformed and the engine
// leaves it out of the index.
func CheckPublished(db *DB, idx *Index) error {
	var errs error
	for _, r := range db.Releases {
		_, published := idx.Entry(r.LibraryName(), r.Version())
		switch {
		case r.Indexed() && !published:
			errs = multierr.Append(errs, &IntegrityError{Document: "index", Ref: r.Ref(), Problem: "database release missing from the index"})
		case !r.Indexed() && published:
			errs = multierr.Append(errs, &IntegrityError{Document: "index", Ref: r.Ref(), Problem: "malformed release published"})
		}
	}
	for _, e := range idx.Libraries {
		if _, ok := db.Release(e.Name(), e.Version()); !ok {
			errs = multierr.Append(errs, &IntegrityError{Document: "index", Ref: e.Ref(), Problem: "entry missing from the database"})
		}
	}
	return errs
}
