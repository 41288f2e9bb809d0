package harness

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/arduino/libraries-repository-engine/internal/canon"
	"github.com/arduino/libraries-repository-engine/internal/crosscheck"
	"github.com/arduino/libraries-repository-engine/internal/match"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
	"github.com/arduino/libraries-repository-engine/internal/store"
)

// capture reads what the engine has published so far: database and index
// records plus every file under the libraries and clones folders.
func (r *scenarioRun) capture() (store.Snapshot, error) {
	snap := store.Snapshot{Session: r.session, Scenario: r.scenario.Name}

	db, err := r.db()
	if err != nil {
		return snap, err
	}
	idx, err := r.index()
	if err != nil {
		return snap, err
	}
	for _, l := range db.Libraries {
		snap.Add(store.CollectionLibraries, l.Name(), l)
	}
	for _, rel := range db.Releases {
		snap.Add(store.CollectionReleases, rel.Ref(), rel)
	}
	for _, e := range idx.Libraries {
		snap.Add(store.CollectionIndex, e.Ref(), e)
	}

	cfg := r.sandbox.Config
	for _, root := range []string{cfg.LibrariesFolder, cfg.GitClonesFolder} {
		files, err := r.files(root)
		if err != nil {
			return snap, err
		}
		snap.Files = append(snap.Files, files...)
	}
	return snap, nil
}

// files lists the regular files under root, paths relative to the sandbox in
// slash form.
func (r *scenarioRun) files(root string) ([]store.File, error) {
	exists, err := afero.DirExists(r.h.fs, root)
	if err != nil || !exists {
		return nil, err
	}
	var out []store.File
	err = afero.Walk(r.h.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		sum, err := crosscheck.Checksum(r.h.fs, p)
		if err != nil {
			return err
		}
		out = append(out, store.File{Path: r.relative(p), Size: info.Size(), Checksum: sum})
		return nil
	})
	return out, err
}

func (r *scenarioRun) relative(p string) string {
	rel, err := filepath.Rel(r.sandbox.Dir, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

func (r *scenarioRun) snapshot(ctx context.Context, c Check) error {
	snap, err := r.capture()
	if err != nil {
		return err
	}
	snap.Label = c.Label
	saved, err := r.h.ledger.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}
	r.h.logger.Debug("snapshot recorded", "label", c.Label, "run", saved.ID, "files", len(saved.Files))
	return nil
}

// unchanged checks that a library's records, clone and archives are
// byte-identical to a recorded snapshot.
func (r *scenarioRun) unchanged(ctx context.Context, c Check) error {
	before, err := r.h.ledger.LoadSnapshot(ctx, r.session, c.Label)
	if err != nil {
		return err
	}
	after, err := r.capture()
	if err != nil {
		return err
	}

	prevLib, ok := before.Records[store.CollectionLibraries][c.Library]
	if !ok {
		return fmt.Errorf("library %s not in snapshot %q", c.Library, c.Label)
	}

	var errs error
	prefix := c.Library + "@"
	errs = multierr.Append(errs, r.compareRecords(c, store.CollectionLibraries, before, after, func(k string) bool { return k == c.Library }))
	errs = multierr.Append(errs, r.compareRecords(c, store.CollectionReleases, before, after, func(k string) bool { return strings.HasPrefix(k, prefix) }))
	errs = multierr.Append(errs, r.compareRecords(c, store.CollectionIndex, before, after, func(k string) bool { return strings.HasPrefix(k, prefix) }))

	repoPath, err := repositoryPath(fmt.Sprint(prevLib["Repository"]))
	if err != nil {
		return multierr.Append(errs, err)
	}
	clonePrefix := r.relative(filepath.Join(r.sandbox.Config.GitClonesFolder, filepath.FromSlash(repoPath))) + "/"
	owned := map[string]bool{}
	for _, rec := range before.Records[store.CollectionReleases] {
		if rec["LibraryName"] != c.Library {
			continue
		}
		p, err := r.validator().ArchivePath(crosscheck.SourceDB, crosscheck.Entry{URL: fmt.Sprint(rec["URL"])})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		owned[r.relative(p)] = true
	}
	isOwned := func(p string) bool { return owned[p] || strings.HasPrefix(p, clonePrefix) }

	return multierr.Append(errs, r.compareFiles(c, before.Files, after.Files, isOwned))
}

func (r *scenarioRun) compareRecords(c Check, collection string, before *store.Snapshot, after store.Snapshot, owned func(string) bool) error {
	keys := map[string]bool{}
	for k := range before.Records[collection] {
		if owned(k) {
			keys[k] = true
		}
	}
	for k := range after.Records[collection] {
		if owned(k) {
			keys[k] = true
		}
	}

	var errs error
	for _, k := range sortedSet(keys) {
		prev, hadPrev := before.Records[collection][k]
		cur, hasCur := after.Records[collection][k]
		subject := collection + " " + k
		switch {
		case !hasCur:
			errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: c.Type, Subject: subject, Expected: "present", Actual: "absent"})
		case !hadPrev:
			errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: c.Type, Subject: subject, Expected: "absent", Actual: "present"})
		case !reflect.DeepEqual(prev, cur):
			errs = multierr.Append(errs, &AssertionError{
				Step:     r.step,
				Type:     c.Type,
				Subject:  subject,
				Expected: canon.MustString(prev),
				Actual:   canon.MustString(cur),
			})
		}
	}
	return errs
}

func (r *scenarioRun) compareFiles(c Check, before, after []store.File, owned func(string) bool) error {
	prev := map[string]store.File{}
	for _, f := range before {
		if owned(f.Path) {
			prev[f.Path] = f
		}
	}
	cur := map[string]store.File{}
	for _, f := range after {
		if owned(f.Path) {
			cur[f.Path] = f
		}
	}
	paths := map[string]bool{}
	for p := range prev {
		paths[p] = true
	}
	for p := range cur {
		paths[p] = true
	}

	var errs error
	for _, p := range sortedSet(paths) {
		pf, hadPrev := prev[p]
		cf, hasCur := cur[p]
		switch {
		case !hasCur:
			errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: c.Type, Subject: p, Expected: "present", Actual: "absent"})
		case !hadPrev:
			errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: c.Type, Subject: p, Expected: "absent", Actual: "present"})
		case pf.Size != cf.Size || pf.Checksum != cf.Checksum:
			errs = multierr.Append(errs, &AssertionError{
				Step:     r.step,
				Type:     c.Type,
				Subject:  p,
				Expected: fmt.Sprintf("%d bytes %s", pf.Size, pf.Checksum),
				Actual:   fmt.Sprintf("%d bytes %s", cf.Size, cf.Checksum),
			})
		}
	}
	return errs
}

// idempotent checks two recorded passes published equivalent documents.
func (r *scenarioRun) idempotent(ctx context.Context, c Check) error {
	first, err := r.h.ledger.LoadSnapshot(ctx, r.session, c.Labels[0])
	if err != nil {
		return err
	}
	second, err := r.h.ledger.LoadSnapshot(ctx, r.session, c.Labels[1])
	if err != nil {
		return err
	}
	opts := r.matchOptions()
	return multierr.Combine(
		match.Records(normalize.DBLibrary,
			second.Collection(store.CollectionLibraries), first.Collection(store.CollectionLibraries), opts, "Name"),
		match.Records(normalize.DBRelease,
			second.Collection(store.CollectionReleases), first.Collection(store.CollectionReleases), opts, "LibraryName", "Version"),
		match.Records(normalize.IndexEntry,
			second.Collection(store.CollectionIndex), first.Collection(store.CollectionIndex), opts, "name", "version"),
	)
}

// repositoryPath returns host/owner/repo of a repository URL, the layout the
// engine uses for clones and logs.
func repositoryPath(repository string) (string, error) {
	u, err := url.Parse(repository)
	if err != nil {
		return "", fmt.Errorf("repository URL %q: %w", repository, err)
	}
	parts := strings.Split(strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/"), "/")
	if u.Host == "" || len(parts) != 2 {
		return "", fmt.Errorf("repository URL %q: want https://host/owner/repo", repository)
	}
	return u.Host + "/" + parts[0] + "/" + parts[1], nil
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
