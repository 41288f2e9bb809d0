package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

type fakeLibrary struct {
	Name       string
	Repository string
	Types      []string
}

type fakeRelease struct {
	LibraryName     string
	Version         string
	URL             string
	ArchiveFileName string
	Size            int64
	Checksum        string
	Types           []string
	Log             string
}

type fakeDB struct {
	Libraries []*fakeLibrary
	Releases  []*fakeRelease
}

type fakeIndexEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

type fakeIndex struct {
	Libraries []fakeIndexEntry `json:"libraries"`
}

// errDBNotFound carries the engine's wording for a missing database.
type errDBNotFound struct{ path string }

func (e *errDBNotFound) Error() string {
	return fmt.Sprintf("Database file not found at %s", e.path)
}

func loadFakeDB(fsys afero.Fs, path string, mustExist bool) (*fakeDB, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		if mustExist {
			return nil, &errDBNotFound{path: path}
		}
		return &fakeDB{Libraries: []*fakeLibrary{}, Releases: []*fakeRelease{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var db fakeDB
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse database: %w", err)
	}
	return &db, nil
}

func (db *fakeDB) library(name string) *fakeLibrary {
	for _, l := range db.Libraries {
		if l.Name == name {
			return l
		}
	}
	return nil
}

func (db *fakeDB) release(name, version string) *fakeRelease {
	for _, r := range db.Releases {
		if r.LibraryName == name && r.Version == version {
			return r
		}
	}
	return nil
}

func (db *fakeDB) releasesOf(name string) []*fakeRelease {
	var out []*fakeRelease
	for _, r := range db.Releases {
		if r.LibraryName == name {
			out = append(out, r)
		}
	}
	return out
}

func (db *fakeDB) removeLibrary(name string) {
	libs := db.Libraries[:0]
	for _, l := range db.Libraries {
		if l.Name != name {
			libs = append(libs, l)
		}
	}
	db.Libraries = libs

	rels := db.Releases[:0]
	for _, r := range db.Releases {
		if r.LibraryName != name {
			rels = append(rels, r)
		}
	}
	db.Releases = rels
}

func (db *fakeDB) removeRelease(name, version string) {
	rels := db.Releases[:0]
	for _, r := range db.Releases {
		if r.LibraryName != name || r.Version != version {
			rels = append(rels, r)
		}
	}
	db.Releases = rels
}

func (db *fakeDB) index() fakeIndex {
	idx := fakeIndex{Libraries: []fakeIndexEntry{}}
	for _, r := range db.Releases {
		// Malformed releases stay out of the index.
		if r.Size == 0 || r.Checksum == "" {
			continue
		}
		idx.Libraries = append(idx.Libraries, fakeIndexEntry{
			Name:     r.LibraryName,
			Version:  r.Version,
			URL:      r.URL,
			Size:     r.Size,
			Checksum: r.Checksum,
		})
	}
	return idx
}

func writeJSON(fsys afero.Fs, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fsys, path, data, 0o644)
}
