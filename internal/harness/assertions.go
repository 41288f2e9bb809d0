package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/arduino/libraries-repository-engine/internal/crosscheck"
	"github.com/arduino/libraries-repository-engine/internal/libdb"
)

// AssertionError is returned when an expectation or check fails.
// It names the step, the check and the subject so a report identifies the
// offending record without the sandbox.
type AssertionError struct {
	Step     string // Step name
	Type     string // Check type, or exit/stdout/stderr/args
	Subject  string // Library, release, path or field under test
	Expected string
	Actual   string
	Err      error // Underlying failure, when the check delegates
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s: %s", e.Step, e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " %s", e.Subject)
	}
	if e.Err != nil {
		fmt.Fprintf(&buf, ": %v", e.Err)
		return buf.String()
	}
	fmt.Fprintf(&buf, ": expected %s, actual %s", e.Expected, e.Actual)
	return buf.String()
}

func (e *AssertionError) Unwrap() error {
	return e.Err
}

// check dispatches a rendered check.
func (r *scenarioRun) check(ctx context.Context, c Check) error {
	switch c.Type {
	case CheckGoldenDB:
		return r.goldenDB(c)
	case CheckGoldenIndex:
		return r.goldenIndex(c)
	case CheckGoldenLog:
		return r.goldenLog(c)
	case CheckCrosscheck:
		return r.crosscheck(c)
	case CheckIntegrity:
		return r.integrity()
	case CheckSchema:
		return r.schemaCheck()
	case CheckPayloadScan:
		return r.payloadScan(c)
	case CheckExcludedRelease:
		return r.excludedRelease(c)
	case CheckPathExists:
		return r.pathCheck(c, true)
	case CheckPathAbsent:
		return r.pathCheck(c, false)
	case CheckLibraryPresent:
		return r.libraryCheck(c, true)
	case CheckLibraryAbsent:
		return r.libraryCheck(c, false)
	case CheckReleasePresent:
		return r.releaseCheck(c, true)
	case CheckReleaseAbsent:
		return r.releaseCheck(c, false)
	case CheckLibraryRepository:
		return r.libraryRepository(c)
	case CheckReleaseURL:
		return r.releaseURL(c)
	case CheckReleaseTypes:
		return r.releaseTypes(c)
	case CheckSnapshot:
		return r.snapshot(ctx, c)
	case CheckUnchanged:
		return r.unchanged(ctx, c)
	case CheckIdempotent:
		return r.idempotent(ctx, c)
	default:
		return fmt.Errorf("unknown check type %q", c.Type)
	}
}

func (r *scenarioRun) db() (*libdb.DB, error) {
	return libdb.LoadDB(r.h.fs, r.sandbox.Config.LibrariesDB)
}

func (r *scenarioRun) index() (*libdb.Index, error) {
	return libdb.LoadIndex(r.h.fs, r.sandbox.Config.LibrariesIndex)
}

func (r *scenarioRun) validator() *crosscheck.Validator {
	cfg := r.sandbox.Config
	return &crosscheck.Validator{FS: r.h.fs, BaseURL: cfg.BaseDownloadUrl, ArchiveRoot: cfg.LibrariesFolder}
}

// entries returns the published entries of the requested sources, keyed by
// source name.
func (r *scenarioRun) entries(source string) (map[string][]crosscheck.Entry, error) {
	out := make(map[string][]crosscheck.Entry, 2)
	if source == "" || source == crosscheck.SourceDB {
		db, err := r.db()
		if err != nil {
			return nil, err
		}
		if out[crosscheck.SourceDB], err = crosscheck.EntriesFromDB(db); err != nil {
			return nil, err
		}
	}
	if source == "" || source == crosscheck.SourceIndex {
		idx, err := r.index()
		if err != nil {
			return nil, err
		}
		if out[crosscheck.SourceIndex], err = crosscheck.EntriesFromIndex(idx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *scenarioRun) crosscheck(c Check) error {
	sources, err := r.entries(c.Source)
	if err != nil {
		return err
	}
	v := r.validator()
	var errs error
	for _, source := range sortedSources(sources) {
		errs = multierr.Append(errs, v.Check(source, sources[source]))
	}
	return errs
}

func (r *scenarioRun) payloadScan(c Check) error {
	sources, err := r.entries(c.Source)
	if err != nil {
		return err
	}
	v := r.validator()
	var errs error
	for _, source := range sortedSources(sources) {
		errs = multierr.Append(errs, v.ScanAll(source, sources[source], crosscheck.DefaultRules))
	}
	return errs
}

// integrity checks each document and that the index publishes exactly the
// well-formed releases of the database.
func (r *scenarioRun) integrity() error {
	db, err := r.db()
	if err != nil {
		return err
	}
	idx, err := r.index()
	if err != nil {
		return err
	}
	return multierr.Combine(db.CheckIntegrity(), idx.CheckIntegrity(), libdb.CheckPublished(db, idx))
}

func (r *scenarioRun) schemaCheck() error {
	cfg := r.sandbox.Config
	dbData, err := afero.ReadFile(r.h.fs, cfg.LibrariesDB)
	if err != nil {
		return fmt.Errorf("read database: %w", err)
	}
	idxData, err := afero.ReadFile(r.h.fs, cfg.LibrariesIndex)
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	return multierr.Combine(
		r.h.schema.ValidateDB(filepath.Base(cfg.LibrariesDB), dbData),
		r.h.schema.ValidateIndex(filepath.Base(cfg.LibrariesIndex), idxData),
	)
}

// excludedRelease checks a rejected release was published nowhere.
func (r *scenarioRun) excludedRelease(c Check) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	idx, err := r.index()
	if err != nil {
		return err
	}
	ref := c.Library + "@" + c.Version
	var errs error
	if _, ok := idx.Entry(c.Library, c.Version); ok {
		errs = multierr.Append(errs, &AssertionError{
			Step: r.step, Type: c.Type, Subject: ref,
			Expected: "release absent from the index", Actual: "published",
		})
	}
	if _, ok := db.Release(c.Library, c.Version); ok {
		errs = multierr.Append(errs, &AssertionError{
			Step: r.step, Type: c.Type, Subject: ref,
			Expected: "release absent from the database", Actual: "recorded",
		})
	}
	return errs
}

func (r *scenarioRun) pathCheck(c Check, want bool) error {
	p := c.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.sandbox.Dir, p)
	}
	exists, err := afero.Exists(r.h.fs, p)
	if err != nil {
		return err
	}
	if exists == want {
		return nil
	}
	return &AssertionError{
		Step:     r.step,
		Type:     c.Type,
		Subject:  p,
		Expected: presence(want),
		Actual:   presence(exists),
	}
}

func (r *scenarioRun) libraryCheck(c Check, want bool) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	_, found := db.Library(c.Library)
	if found == want {
		return nil
	}
	return &AssertionError{Step: r.step, Type: c.Type, Subject: c.Library, Expected: presence(want), Actual: presence(found)}
}

func (r *scenarioRun) releaseCheck(c Check, want bool) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	ref := c.Library + "@" + c.Version
	_, inDB := db.Release(c.Library, c.Version)
	var errs error
	if inDB != want {
		errs = multierr.Append(errs, &AssertionError{
			Step: r.step, Type: c.Type, Subject: ref + " in database",
			Expected: presence(want), Actual: presence(inDB),
		})
	}

	idx, err := r.index()
	if err != nil {
		return multierr.Append(errs, err)
	}
	if _, inIndex := idx.Entry(c.Library, c.Version); inIndex != want {
		errs = multierr.Append(errs, &AssertionError{
			Step: r.step, Type: c.Type, Subject: ref + " in index",
			Expected: presence(want), Actual: presence(inIndex),
		})
	}
	return errs
}

func (r *scenarioRun) libraryRepository(c Check) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	lib, ok := db.Library(c.Library)
	if !ok {
		return &AssertionError{Step: r.step, Type: c.Type, Subject: c.Library, Expected: "present", Actual: "absent"}
	}
	if got := lib.Repository(); got != c.Value {
		return &AssertionError{Step: r.step, Type: c.Type, Subject: c.Library, Expected: c.Value, Actual: got}
	}
	return nil
}

// releaseURL checks the download URL in both the database and the index.
func (r *scenarioRun) releaseURL(c Check) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	idx, err := r.index()
	if err != nil {
		return err
	}
	ref := c.Library + "@" + c.Version
	var errs error
	if rel, ok := db.Release(c.Library, c.Version); !ok {
		errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: c.Type, Subject: ref, Expected: "release in database", Actual: "absent"})
	} else if got := rel.URL(); got != c.Value {
		errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: c.Type, Subject: ref + " in database", Expected: c.Value, Actual: got})
	}
	if e, ok := idx.Entry(c.Library, c.Version); !ok {
		errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: c.Type, Subject: ref, Expected: "release in index", Actual: "absent"})
	} else if got := e.URL(); got != c.Value {
		errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: c.Type, Subject: ref + " in index", Expected: c.Value, Actual: got})
	}
	return errs
}

// releaseTypes checks the types of one release, or of every release of the
// library when no version is given.
func (r *scenarioRun) releaseTypes(c Check) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	var releases []libdb.Release
	if c.Version != "" {
		if rel, ok := db.Release(c.Library, c.Version); ok {
			releases = append(releases, rel)
		}
	} else {
		releases = db.ReleasesOf(c.Library)
	}
	if len(releases) == 0 {
		subject := c.Library
		if c.Version != "" {
			subject += "@" + c.Version
		}
		return &AssertionError{Step: r.step, Type: c.Type, Subject: subject, Expected: "releases in database", Actual: "none"}
	}

	var errs error
	for _, rel := range releases {
		if got := rel.Types(); !slices.Equal(got, c.Types) {
			errs = multierr.Append(errs, &AssertionError{
				Step:     r.step,
				Type:     c.Type,
				Subject:  rel.Ref(),
				Expected: fmt.Sprintf("%q", c.Types),
				Actual:   fmt.Sprintf("%q", got),
			})
		}
	}
	return errs
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}

func sortedSources(m map[string][]crosscheck.Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
