package harness

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/arduino/libraries-repository-engine/internal/config"
)

// Sandbox is the private working directory of one scenario.
type Sandbox struct {
	Dir        string
	ConfigFile string
	Config     *config.Engine

	fs     afero.Fs
	logger *slog.Logger
}

// NewSandbox creates a uniquely named directory under parent (the system
// temp dir when empty) and writes the engine configuration into it.
func NewSandbox(fsys afero.Fs, parent string, logger *slog.Logger) (*Sandbox, error) {
	dir, err := afero.TempDir(fsys, parent, "engine-verify-")
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	// Engines resolve relative paths against their own working directory.
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	cfg := config.ForWorkingDir(dir)
	cfgPath := filepath.Join(dir, config.FileName)
	if err := cfg.Write(fsys, cfgPath); err != nil {
		_ = fsys.RemoveAll(dir)
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	logger.Debug("sandbox created", "dir", dir)
	return &Sandbox{Dir: dir, ConfigFile: cfgPath, Config: cfg, fs: fsys, logger: logger}, nil
}

// Close removes the sandbox. Failures are logged, never returned.
func (s *Sandbox) Close() {
	if err := s.fs.RemoveAll(s.Dir); err != nil {
		s.logger.Debug("sandbox cleanup failed", "dir", s.Dir, "error", err)
	}
}
