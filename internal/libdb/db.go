package libdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/spf13/afero"
)

// NotFoundError is returned when a document file does not exist.
type NotFoundError struct {
	Kind string
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s file not found: %s", e.Kind, e.Path)
}

// releaseKey identifies a release across both documents.
type releaseKey struct {
	name, version string
}

// DB is a decoded library database. Lookups are served from maps built on
// first use; Libraries and Releases must not change after that.
type DB struct {
	Libraries []Library
	Releases  []Release
	// Raw is the full decoded document, including any top-level fields the
	// harness does not model.
	Raw map[string]any

	once      sync.Once
	libByName map[string]Library
	relByKey  map[releaseKey]Release
	relByLib  map[string][]Release
}

// Index is a decoded public library index.
type Index struct {
	Libraries []IndexEntry
	Raw       map[string]any

	once     sync.Once
	entryKey map[releaseKey]IndexEntry
}

// LoadDB reads a database file from fsys.
func LoadDB(fsys afero.Fs, path string) (*DB, error) {
	raw, err := loadDocument(fsys, path, "database")
	if err != nil {
		return nil, err
	}
	return DBFromDocument(raw)
}

// ParseDB decodes database bytes.
func ParseDB(data []byte) (*DB, error) {
	raw, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode database: %w", err)
	}
	return DBFromDocument(raw)
}

// DBFromDocument wraps an already decoded database document.
func DBFromDocument(raw map[string]any) (*DB, error) {
	libs, err := objects(raw, "Libraries")
	if err != nil {
		return nil, err
	}
	rels, err := objects(raw, "Releases")
	if err != nil {
		return nil, err
	}
	db := &DB{Raw: raw}
	for _, l := range libs {
		db.Libraries = append(db.Libraries, Library(l))
	}
	for _, r := range rels {
		db.Releases = append(db.Releases, Release(r))
	}
	return db, nil
}

// LoadIndex reads an index file from fsys.
func LoadIndex(fsys afero.Fs, path string) (*Index, error) {
	raw, err := loadDocument(fsys, path, "index")
	if err != nil {
		return nil, err
	}
	return IndexFromDocument(raw)
}

// ParseIndex decodes index bytes.
func ParseIndex(data []byte) (*Index, error) {
	raw, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return IndexFromDocument(raw)
}

// IndexFromDocument wraps an already decoded index document.
func IndexFromDocument(raw map[string]any) (*Index, error) {
	entries, err := objects(raw, "libraries")
	if err != nil {
		return nil, err
	}
	idx := &Index{Raw: raw}
	for _, e := range entries {
		idx.Libraries = append(idx.Libraries, IndexEntry(e))
	}
	return idx, nil
}

// Decode parses a JSON object keeping numbers as json.Number so sizes survive
// without float rounding.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("document is not a JSON object")
	}
	return raw, nil
}

func loadDocument(fsys afero.Fs, path, kind string) (map[string]any, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Kind: kind, Path: path}
		}
		return nil, fmt.Errorf("read %s %s: %w", kind, path, err)
	}
	raw, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, path, err)
	}
	return raw, nil
}

// objects returns the array of objects under field. A missing or null field
// is an empty collection.
func objects(raw map[string]any, field string) ([]map[string]any, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is %T, want array", field, v)
	}
	out := make([]map[string]any, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is %T, want object", field, i, elem)
		}
		out = append(out, obj)
	}
	return out, nil
}

// buildLookups indexes the records once. On duplicate keys the first record
// wins; CheckIntegrity reports the duplicates.
func (db *DB) buildLookups() {
	db.once.Do(func() {
		db.libByName = make(map[string]Library, len(db.Libraries))
		for _, l := range db.Libraries {
			if _, dup := db.libByName[l.Name()]; !dup {
				db.libByName[l.Name()] = l
			}
		}
		db.relByKey = make(map[releaseKey]Release, len(db.Releases))
		db.relByLib = make(map[string][]Release)
		for _, r := range db.Releases {
			k := releaseKey{r.LibraryName(), r.Version()}
			if _, dup := db.relByKey[k]; !dup {
				db.relByKey[k] = r
			}
			db.relByLib[k.name] = append(db.relByLib[k.name], r)
		}
	})
}

// Library returns the library with the given name.
func (db *DB) Library(name string) (Library, bool) {
	db.buildLookups()
	l, ok := db.libByName[name]
	return l, ok
}

// Release returns the release with the given key.
func (db *DB) Release(name, version string) (Release, bool) {
	db.buildLookups()
	r, ok := db.relByKey[releaseKey{name, version}]
	return r, ok
}

// ReleasesOf returns every release of the named library in document order.
func (db *DB) ReleasesOf(name string) []Release {
	db.buildLookups()
	return db.relByLib[name]
}

// LibraryRecords returns the libraries as plain records for matching.
func (db *DB) LibraryRecords() []map[string]any {
	out := make([]map[string]any, len(db.Libraries))
	for i, l := range db.Libraries {
		out[i] = l
	}
	return out
}

// ReleaseRecords returns the releases as plain records for matching.
func (db *DB) ReleaseRecords() []map[string]any {
	out := make([]map[string]any, len(db.Releases))
	for i, r := range db.Releases {
		out[i] = r
	}
	return out
}

// Entry returns the index entry with the given key. On duplicate keys the
// first entry wins.
func (idx *Index) Entry(name, version string) (IndexEntry, bool) {
	idx.once.Do(func() {
		idx.entryKey = make(map[releaseKey]IndexEntry, len(idx.Libraries))
		for _, e := range idx.Libraries {
			k := releaseKey{e.Name(), e.Version()}
			if _, dup := idx.entryKey[k]; !dup {
				idx.entryKey[k] = e
			}
		}
	})
	e, ok := idx.entryKey[releaseKey{name, version}]
	return e, ok
}

// Records returns the entries as plain records for matching.
func (idx *Index) Records() []map[string]any {
	out := make([]map[string]any, len(idx.Libraries))
	for i, e := range idx.Libraries {
		out[i] = e
	}
	return out
}
