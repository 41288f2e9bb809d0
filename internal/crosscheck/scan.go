package crosscheck

import (
	"fmt"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// Rules describe payloads that must never be published.
type Rules struct {
	// RootFiles are forbidden directly under the library root folder.
	RootFiles []string
	// Patterns are path.Match patterns applied to the base name of every
	// entry.
	Patterns []string
}

// DefaultRules mirrors the engine's bad-file rules.
var DefaultRules = Rules{
	RootFiles: []string{".development"},
	Patterns:  []string{"*.exe"},
}

// ScanArchive opens a release archive and reports every entry matching rules.
//
// Archives wrap the library in a single top-level folder, so "root files" are
// entries one level below it.
func ScanArchive(fsys afero.Fs, archive string, rules Rules) error {
	f, err := fsys.Open(archive)
	if err != nil {
		return fmt.Errorf("open %s: %w", archive, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", archive, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("read zip %s: %w", archive, err)
	}

	var errs error
	for _, zf := range zr.File {
		name := strings.TrimSuffix(zf.Name, "/")
		if name == "" {
			continue
		}
		if rule, bad := rules.Match(name); bad {
			errs = multierr.Append(errs, &ForbiddenPayloadError{Archive: archive, Entry: zf.Name, Rule: rule})
		}
	}
	return errs
}

// Match reports the rule an archive entry name violates, if any.
func (r Rules) Match(name string) (string, bool) {
	base := path.Base(name)
	for _, p := range r.Patterns {
		if ok, _ := path.Match(p, base); ok {
			return p, true
		}
	}
	parts := strings.Split(name, "/")
	if len(parts) == 2 {
		for _, rf := range r.RootFiles {
			if parts[1] == rf {
				return rf, true
			}
		}
	}
	return "", false
}

// ScanAll scans every archive referenced by entries.
func (v *Validator) ScanAll(source string, entries []Entry, rules Rules) error {
	var errs error
	for _, e := range entries {
		p, err := v.ArchivePath(source, e)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, ScanArchive(v.FS, p, rules))
	}
	return errs
}
