package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/arduino/libraries-repository-engine/internal/config"
	"github.com/arduino/libraries-repository-engine/internal/libdb"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
	"github.com/arduino/libraries-repository-engine/internal/render"
)

// Recording describes fixtures to record from an existing output tree.
type Recording struct {
	// Config is the engine configuration that produced the output.
	Config *config.Engine
	// Values are replaced by placeholders in the recorded fixtures.
	Values render.Values
	// Out is the fixture directory, laid out as FixturesIn expects.
	Out string
	// Pass selects the log directory: PassGenerate or PassUpdate.
	Pass string
	// Logs are log paths relative to the logs folder.
	Logs []string
	// Force allows overwriting existing fixtures.
	Force bool
}

// ErrFixtureExists is returned when recording would overwrite a fixture.
var ErrFixtureExists = errors.New("fixture already exists")

// RecordFixtures writes templatized fixtures from real engine output.
// Checksums become ${checksum_placeholder}; every configured value becomes
// its placeholder. Sizes and logs are kept verbatim.
func RecordFixtures(fsys afero.Fs, rec Recording) ([]string, error) {
	if rec.Pass != PassGenerate && rec.Pass != PassUpdate {
		return nil, fmt.Errorf("record: pass must be %q or %q", PassGenerate, PassUpdate)
	}
	values := render.Values{ValueChecksumPlaceholder: normalize.ChecksumPlaceholder}
	for k, v := range rec.Values {
		values[k] = v
	}
	set := FixturesIn(rec.Out).Generate
	if rec.Pass == PassUpdate {
		set = FixturesIn(rec.Out).Update
	}

	var written []string
	write := func(path string, data []byte) error {
		if !rec.Force {
			exists, err := afero.Exists(fsys, path)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("record %s: %w", path, ErrFixtureExists)
			}
		}
		if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("record %s: %w", path, err)
		}
		if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
			return fmt.Errorf("record %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	docs := []struct {
		src, dst, collection, checksum string
	}{
		{rec.Config.LibrariesDB, set.DB, "Releases", "Checksum"},
		{rec.Config.LibrariesIndex, set.Index, "libraries", "checksum"},
	}
	for _, d := range docs {
		data, err := recordDocument(fsys, d.src, d.collection, d.checksum, values)
		if err != nil {
			return written, err
		}
		if err := write(d.dst, data); err != nil {
			return written, err
		}
	}

	for _, l := range rec.Logs {
		rel := filepath.FromSlash(l)
		data, err := afero.ReadFile(fsys, filepath.Join(rec.Config.LogsFolder, rel))
		if err != nil {
			return written, fmt.Errorf("record log: %w", err)
		}
		if err := write(filepath.Join(set.Logs, rel), render.Templatize(data, values)); err != nil {
			return written, err
		}
	}
	return written, nil
}

// recordDocument decodes a JSON document, replaces the checksum field of
// every record in collection and returns the templatized, indented result.
func recordDocument(fsys afero.Fs, path, collection, checksumField string, values render.Values) ([]byte, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	doc, err := libdb.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", path, err)
	}
	if recs, ok := doc[collection].([]any); ok {
		for _, r := range recs {
			if obj, ok := r.(map[string]any); ok {
				if _, has := obj[checksumField]; has {
					obj[checksumField] = normalize.ChecksumPlaceholder
				}
			}
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("record %s: %w", path, err)
	}
	return render.Templatize(buf.Bytes(), values, render.WithEscaper(render.JSONString)), nil
}
