package harness

import (
	"github.com/arduino/libraries-repository-engine/internal/config"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
	"github.com/arduino/libraries-repository-engine/internal/render"
)

// Template value names every sandbox provides.
const (
	ValueGitClonesFolder     = "git_clones_folder"
	ValueBaseDownloadURL     = "base_download_url"
	ValueChecksumPlaceholder = "checksum_placeholder"
	ValueLibrariesFolder     = "libraries_folder"
	ValueLogsFolder          = "logs_folder"
	ValueTestdata            = "testdata"
	ValueConfigFile          = "config_file"
	ValueWorkingDir          = "working_dir"
)

var reservedValues = map[string]struct{}{
	ValueGitClonesFolder:     {},
	ValueBaseDownloadURL:     {},
	ValueChecksumPlaceholder: {},
	ValueLibrariesFolder:     {},
	ValueLogsFolder:          {},
	ValueTestdata:            {},
	ValueConfigFile:          {},
	ValueWorkingDir:          {},
}

// Values returns the template values of a sandbox. testdata is the fixture
// root; extra values are added unless they shadow a sandbox value.
func Values(cfg *config.Engine, configFile, workingDir, testdata string, extra map[string]string) render.Values {
	v := render.Values{
		ValueGitClonesFolder:     cfg.GitClonesFolder,
		ValueBaseDownloadURL:     cfg.BaseDownloadUrl,
		ValueChecksumPlaceholder: normalize.ChecksumPlaceholder,
		ValueLibrariesFolder:     cfg.LibrariesFolder,
		ValueLogsFolder:          cfg.LogsFolder,
		ValueTestdata:            testdata,
		ValueConfigFile:          configFile,
		ValueWorkingDir:          workingDir,
	}
	for k, val := range extra {
		if _, reserved := reservedValues[k]; !reserved {
			v[k] = val
		}
	}
	return v
}
