// Package config models the engine's JSON configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// DefaultBaseDownloadURL is the production download host.
const DefaultBaseDownloadURL = "https://downloads.arduino.cc/libraries/"

// FileName is the config file name placed in each sandbox.
const FileName = "config.json"

// Engine is the engine configuration document. Field names are fixed by the
// engine.
type Engine struct {
	BaseDownloadUrl string //nolint:revive // engine key
	LibrariesFolder string
	LogsFolder      string
	LibrariesDB     string
	LibrariesIndex  string
	GitClonesFolder string
	DoNotRunClamav  bool
	ArduinoLintPath string
}

// ForWorkingDir returns the production-like layout rooted at dir. Lint is
// found on PATH and the antivirus scan is skipped.
func ForWorkingDir(dir string) *Engine {
	libraries := filepath.Join(dir, "libraries")
	return &Engine{
		BaseDownloadUrl: DefaultBaseDownloadURL,
		LibrariesFolder: libraries,
		LogsFolder:      filepath.Join(dir, "ci-logs", "libraries", "logs"),
		LibrariesDB:     filepath.Join(dir, "db.json"),
		LibrariesIndex:  filepath.Join(libraries, "library_index.json"),
		GitClonesFolder: filepath.Join(dir, "gitclones"),
		DoNotRunClamav:  true,
		ArduinoLintPath: "",
	}
}

// ValidationError lists the problems found in a configuration.
type ValidationError struct {
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Problem)
}

// Validate checks that every path is set and the base URL is usable as a
// prefix.
func (c *Engine) Validate() error {
	var errs error
	if c.BaseDownloadUrl == "" {
		errs = multierr.Append(errs, &ValidationError{Field: "BaseDownloadUrl", Problem: "is empty"})
	} else {
		if !strings.HasPrefix(c.BaseDownloadUrl, "http://") && !strings.HasPrefix(c.BaseDownloadUrl, "https://") {
			errs = multierr.Append(errs, &ValidationError{Field: "BaseDownloadUrl", Problem: "must be an http(s) URL"})
		}
		if !strings.HasSuffix(c.BaseDownloadUrl, "/") {
			errs = multierr.Append(errs, &ValidationError{Field: "BaseDownloadUrl", Problem: "must end with /"})
		}
	}
	for _, f := range []struct{ name, value string }{
		{"LibrariesFolder", c.LibrariesFolder},
		{"LogsFolder", c.LogsFolder},
		{"LibrariesDB", c.LibrariesDB},
		{"LibrariesIndex", c.LibrariesIndex},
		{"GitClonesFolder", c.GitClonesFolder},
	} {
		if f.value == "" {
			errs = multierr.Append(errs, &ValidationError{Field: f.name, Problem: "is empty"})
		}
	}
	return errs
}

// Write stores the configuration as indented JSON.
func (c *Engine) Write(fsys afero.Fs, path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := afero.WriteFile(fsys, path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Load reads a configuration file.
func Load(fsys afero.Fs, path string) (*Engine, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Engine
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &c, nil
}

// LogPath returns the report location of a repository:
// <LogsFolder>/<host>/<owner>/<repo>/index.html.
func (c *Engine) LogPath(host, owner, repo string) string {
	return filepath.Join(c.LogsFolder, host, owner, repo, "index.html")
}

// ArchiveDir returns the directory holding archives of a repository.
func (c *Engine) ArchiveDir(host, owner string) string {
	return filepath.Join(c.LibrariesFolder, host, owner)
}

// CloneDir returns the clone location of a repository.
func (c *Engine) CloneDir(host, owner, repo string) string {
	return filepath.Join(c.GitClonesFolder, host, owner, repo)
}
