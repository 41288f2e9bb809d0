package crosscheck

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/arduino/libraries-repository-engine/internal/libdb"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// ChecksumPrefix is the algorithm tag of recorded checksums.
const ChecksumPrefix = "SHA-256:"

// Source names used in reports.
const (
	SourceDB    = "database"
	SourceIndex = "index"
)

// Entry is the part of a release record the cross-check needs.
type Entry struct {
	Name     string
	Version  string
	URL      string
	Size     int64
	Checksum string
}

// Ref returns name@version.
func (e Entry) Ref() string { return e.Name + "@" + e.Version }

// Validator checks entries against the archives under ArchiveRoot.
type Validator struct {
	FS          afero.Fs
	BaseURL     string
	ArchiveRoot string
}

// Check verifies every entry and returns all failures combined.
func (v *Validator) Check(source string, entries []Entry) error {
	var errs error
	for _, e := range entries {
		errs = multierr.Append(errs, v.checkEntry(source, e))
	}
	return errs
}

// CheckBoth runs Check over the database releases and the index entries.
func (v *Validator) CheckBoth(db *libdb.DB, idx *libdb.Index) error {
	dbEntries, err := EntriesFromDB(db)
	if err != nil {
		return err
	}
	idxEntries, err := EntriesFromIndex(idx)
	if err != nil {
		return err
	}
	return multierr.Combine(
		v.Check(SourceDB, dbEntries),
		v.Check(SourceIndex, idxEntries),
	)
}

// ArchivePath resolves a download URL to its file under ArchiveRoot.
func (v *Validator) ArchivePath(source string, e Entry) (string, error) {
	if !strings.HasPrefix(e.URL, v.BaseURL) {
		return "", &URLPrefixError{Source: source, Ref: e.Ref(), URL: e.URL, Base: v.BaseURL}
	}
	rel := strings.TrimPrefix(e.URL, v.BaseURL)
	clean := path.Clean("/" + rel)
	if rel == "" || clean == "/" || clean != "/"+rel {
		return "", &PathEscapeError{Source: source, Ref: e.Ref(), Path: rel}
	}
	return filepath.Join(v.ArchiveRoot, filepath.FromSlash(rel)), nil
}

func (v *Validator) checkEntry(source string, e Entry) error {
	p, err := v.ArchivePath(source, e)
	if err != nil {
		return err
	}

	info, err := v.FS.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &MissingArchiveError{Source: source, Ref: e.Ref(), Path: p}
		}
		return fmt.Errorf("%s %s: stat %s: %w", source, e.Ref(), p, err)
	}
	if info.IsDir() {
		return &MissingArchiveError{Source: source, Ref: e.Ref(), Path: p}
	}
	if info.Size() != e.Size {
		return &SizeMismatchError{Source: source, Ref: e.Ref(), Path: p, Recorded: e.Size, OnDisk: info.Size()}
	}

	sum, err := Checksum(v.FS, p)
	if err != nil {
		return fmt.Errorf("%s %s: %w", source, e.Ref(), err)
	}
	if sum != e.Checksum {
		return &ChecksumMismatchError{Source: source, Ref: e.Ref(), Path: p, Recorded: e.Checksum, OnDisk: sum}
	}
	return nil
}

// Checksum returns the recorded-checksum literal of a file.
func Checksum(fsys afero.Fs, p string) (string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	return ChecksumPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// EntriesFromDB adapts database releases.
func EntriesFromDB(db *libdb.DB) ([]Entry, error) {
	out := make([]Entry, 0, len(db.Releases))
	for _, r := range db.Releases {
		size, err := r.Size()
		if err != nil {
			return nil, fmt.Errorf("%s %s: Size: %w", SourceDB, r.Ref(), err)
		}
		out = append(out, Entry{
			Name:     r.LibraryName(),
			Version:  r.Version(),
			URL:      r.URL(),
			Size:     size,
			Checksum: r.Checksum(),
		})
	}
	return out, nil
}

// EntriesFromIndex adapts index entries.
func EntriesFromIndex(idx *libdb.Index) ([]Entry, error) {
	out := make([]Entry, 0, len(idx.Libraries))
	for _, e := range idx.Libraries {
		size, err := e.Size()
		if err != nil {
			return nil, fmt.Errorf("%s %s: size: %w", SourceIndex, e.Ref(), err)
		}
		out = append(out, Entry{
			Name:     e.Name(),
			Version:  e.Version(),
			URL:      e.URL(),
			Size:     size,
			Checksum: e.Checksum(),
		})
	}
	return out, nil
}
