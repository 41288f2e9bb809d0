package testutil

import (
	"fmt"
	"strings"
)

// FakeRelease is one tagged version of a fake repository.
type FakeRelease struct {
	Version string
	// Extra files added to the generated library.properties and header.
	Extra map[string]string
}

// Files returns the library's files at this release, keyed by path relative
// to the library root.
func (r FakeRelease) Files(libraryName string) map[string]string {
	files := map[string]string{
		"library.properties": fmt.Sprintf("name=%s\nversion=%s\n", libraryName, r.Version),
		"src/" + SanitizeName(libraryName) + ".h": "#pragma once\n",
	}
	for p, body := range r.Extra {
		files[p] = body
	}
	return files
}

// FakeRepository is the content of a fake git repository.
type FakeRepository struct {
	Releases []FakeRelease
}

// Catalog maps a repository URL to its content.
type Catalog map[string]FakeRepository

// DefaultCatalog mirrors the tags of the repositories used by the
// integration scenarios.
func DefaultCatalog() Catalog {
	return Catalog{
		"https://github.com/arduino-libraries/SpacebrewYun.git": {Releases: []FakeRelease{
			{Version: "1.0.0"}, {Version: "1.0.1"}, {Version: "1.0.2"},
		}},
		"https://github.com/arduino-libraries/ArduinoCloudThing.git": {Releases: []FakeRelease{
			{Version: "1.3.1"},
		}},
		"https://github.com/arduino-libraries/ArduinoIoTCloudBearSSL.git": {Releases: []FakeRelease{
			{Version: "1.1.1"}, {Version: "1.1.2"},
		}},
		"https://github.com/arduino-libraries/UnoWiFi-Developer-Edition-Lib.git": {Releases: []FakeRelease{
			{Version: "0.0.3"},
		}},
		"https://github.com/lexus2k/ssd1306.git": {Releases: []FakeRelease{
			{Version: "1.0.0", Extra: map[string]string{"tools/sdl_flasher.exe": "MZ\n"}},
			{Version: "1.0.1"},
		}},
	}
}

// SanitizeName converts a library name to its archive file stem.
func SanitizeName(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// SplitRepositoryURL returns host, owner and repository name of an
// https://host/owner/repo.git URL.
func SplitRepositoryURL(url string) (host, owner, repo string, err error) {
	rest, ok := strings.CutPrefix(url, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(url, "http://")
	}
	parts := strings.Split(strings.TrimSuffix(rest, ".git"), "/")
	if !ok || len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%s does not have a valid format", url)
	}
	return parts[0], parts[1], parts[2], nil
}
