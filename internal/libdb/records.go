package libdb

import (
	"github.com/arduino/libraries-repository-engine/internal/canon"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
)

// Library is a database library record.
type Library map[string]any

// Name returns the library name.
func (l Library) Name() string { return str(l, "Name") }

// Repository returns the repository URL.
func (l Library) Repository() string { return str(l, "Repository") }

// Release is a database release record.
type Release map[string]any

// LibraryName returns the owning library name.
func (r Release) LibraryName() string { return str(r, "LibraryName") }

// Version returns the release version.
func (r Release) Version() string { return str(r, "Version") }

// URL returns the download URL.
func (r Release) URL() string { return str(r, "URL") }

// Checksum returns the recorded checksum literal.
func (r Release) Checksum() string { return str(r, "Checksum") }

// Log returns the build/validation report.
func (r Release) Log() string { return str(r, "Log") }

// Size returns the recorded archive size.
func (r Release) Size() (int64, error) { return normalize.Int(r["Size"]) }

// Types returns the release types.
func (r Release) Types() []string { return strs(r, "Types") }

// Ref returns name@version.
func (r Release) Ref() string { return r.LibraryName() + "@" + r.Version() }

// Indexed reports whether the release belongs in the index. The engine skips
// releases with a zero or missing size or an empty checksum.
func (r Release) Indexed() bool {
	size, err := r.Size()
	return err == nil && size != 0 && r.Checksum() != ""
}

// IndexEntry is a public index record.
type IndexEntry map[string]any

// Name returns the library name.
func (e IndexEntry) Name() string { return str(e, "name") }

// Version returns the release version.
func (e IndexEntry) Version() string { return str(e, "version") }

// URL returns the download URL.
func (e IndexEntry) URL() string { return str(e, "url") }

// Checksum returns the recorded checksum literal.
func (e IndexEntry) Checksum() string { return str(e, "checksum") }

// Size returns the recorded archive size.
func (e IndexEntry) Size() (int64, error) { return normalize.Int(e["size"]) }

// Ref returns name@version.
func (e IndexEntry) Ref() string { return e.Name() + "@" + e.Version() }

// str reads a string field. Versions are strings in current engine output but
// are rendered canonically if the engine ever emits a structured value.
func str(m map[string]any, field string) string {
	switch v := m[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return canon.MustString(v)
	}
}

func strs(m map[string]any, field string) []string {
	raw, ok := m[field].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
