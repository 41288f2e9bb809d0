package testutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/arduino/libraries-repository-engine/internal/config"
	"github.com/arduino/libraries-repository-engine/internal/crosscheck"
	"github.com/arduino/libraries-repository-engine/internal/engine"
)

// FakeEngine is an in-process stand-in for the libraries-repository-engine
// binary. It implements engine.Runner.
//
// It honors the engine's command-line contract (sync, modify, remove, help)
// and its failure messages, and produces the same output layout: a database,
// an index, zip archives under LibrariesFolder, clones under GitClonesFolder
// and per-repository logs. Repository content comes from Catalog instead of
// git. Archives are stored uncompressed so their sizes are predictable.
//
// Runs are serialized; the fake holds no state between runs other than what
// it writes to FS and the clock.
type FakeEngine struct {
	FS      afero.Fs
	Catalog Catalog
	Clock   *DeterministicClock

	mu    sync.Mutex
	calls []engine.Invocation
}

// NewFakeEngine returns a fake writing to fsys with DefaultCatalog.
func NewFakeEngine(fsys afero.Fs) *FakeEngine {
	return &FakeEngine{
		FS:      fsys,
		Catalog: DefaultCatalog(),
		Clock:   NewDeterministicClock(),
	}
}

// Calls returns every invocation received so far.
func (f *FakeEngine) Calls() []engine.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Run executes one engine command line.
func (f *FakeEngine) Run(ctx context.Context, inv engine.Invocation) (*engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, inv)

	var stdout, stderr bytes.Buffer
	root := f.command(inv.Dir)
	root.SetArgs(inv.Args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	res := &engine.Result{}
	if err := root.ExecuteContext(ctx); err != nil {
		res.ExitCode = 1
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}

func (f *FakeEngine) command(dir string) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "libraries-repository-engine",
		Short:         "Arduino Library Manager backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configFile, "config-file", "config.json", "Configuration file path")

	loadConfig := func() (*config.Engine, error) {
		p := configFile
		if !filepath.IsAbs(p) && dir != "" {
			p = filepath.Join(dir, p)
		}
		return config.Load(f.FS, p)
	}

	root.AddCommand(&cobra.Command{
		Use:   "sync [LIBRARY_LIST_FILE]",
		Short: "Update the library index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return f.sync(cfg, args[0])
		},
	})

	var repoURL, types string
	modify := &cobra.Command{
		Use:   "modify [FLAG]... LIBRARY_NAME",
		Short: "Modify a library in the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			urlSet := cmd.Flags().Changed("repo-url")
			typesSet := cmd.Flags().Changed("types")
			if !urlSet && !typesSet {
				return errors.New("No modification flags provided so nothing happened. See 'libraries-repository-engine modify --help'")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var newURL, newTypes *string
			if urlSet {
				newURL = &repoURL
			}
			if typesSet {
				newTypes = &types
			}
			return f.modify(cfg, args[0], newURL, newTypes)
		},
	}
	modify.Flags().StringVar(&repoURL, "repo-url", "", "New library repository URL")
	modify.Flags().StringVar(&types, "types", "", "Comma-separated list of library types")
	root.AddCommand(modify)

	root.AddCommand(&cobra.Command{
		Use:   "remove LIBRARY_NAME[@RELEASE]...",
		Short: "Remove libraries or library releases",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("LIBRARY_NAME argument is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return f.remove(cfg, args)
		},
	})

	return root
}

type manifestEntry struct {
	URL   string
	Types []string
	Name  string
}

func (f *FakeEngine) readManifest(path string) ([]manifestEntry, error) {
	file, err := f.FS.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open library list: %w", err)
	}
	defer file.Close()

	var entries []manifestEntry
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid line format: %s", line)
		}
		entries = append(entries, manifestEntry{URL: parts[0], Types: splitTypes(parts[1]), Name: parts[2]})
	}
	return entries, sc.Err()
}

func splitTypes(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (f *FakeEngine) stamp() string {
	return f.Clock.Now().UTC().Format("2006/01/02 15:04:05")
}

func (f *FakeEngine) sync(cfg *config.Engine, manifest string) error {
	entries, err := f.readManifest(manifest)
	if err != nil {
		return err
	}
	db, err := loadFakeDB(f.FS, cfg.LibrariesDB, false)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := f.syncRepository(cfg, db, e); err != nil {
			return err
		}
	}

	if err := writeJSON(f.FS, cfg.LibrariesDB, db); err != nil {
		return fmt.Errorf("write database: %w", err)
	}
	if err := writeJSON(f.FS, cfg.LibrariesIndex, db.index()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (f *FakeEngine) syncRepository(cfg *config.Engine, db *fakeDB, e manifestEntry) error {
	var log []string
	logf := func(format string, args ...any) {
		log = append(log, f.stamp()+" "+fmt.Sprintf(format, args...))
	}

	host, owner, repoName, err := SplitRepositoryURL(e.URL)
	if err != nil {
		return err
	}
	defer func() {
		body := "<pre>\n" + strings.Join(log, "\n") + "\n</pre>\n"
		p := cfg.LogPath(host, owner, repoName)
		if mkErr := f.FS.MkdirAll(filepath.Dir(p), 0o755); mkErr == nil {
			_ = afero.WriteFile(f.FS, p, []byte(body), 0o644)
		}
	}()

	logf("Scraping %s", e.URL)
	repo, ok := f.Catalog[e.URL]
	if !ok || len(repo.Releases) == 0 {
		logf("Error fetching repository: repository not found")
		return nil
	}

	cloneDir := cfg.CloneDir(host, owner, repoName)
	if exists, _ := afero.DirExists(f.FS, cloneDir); exists {
		logf("Updating clone %s", cloneDir)
	} else {
		logf("Cloning into %s", cloneDir)
	}
	latest := repo.Releases[len(repo.Releases)-1]
	if err := f.writeTree(cloneDir, latest.Files(e.Name)); err != nil {
		return fmt.Errorf("clone %s: %w", e.URL, err)
	}

	if db.library(e.Name) == nil {
		db.Libraries = append(db.Libraries, &fakeLibrary{Name: e.Name, Repository: e.URL, Types: e.Types})
	}

	for _, rel := range repo.Releases {
		if db.release(e.Name, rel.Version) != nil {
			logf("Release %s already in database", rel.Version)
			continue
		}
		logf("Checking out tag: %s", rel.Version)
		files := rel.Files(e.Name)
		if bad, rule := forbiddenFile(files); bad != "" {
			logf("Release %s contains forbidden file %s (%s), skipping", rel.Version, bad, rule)
			continue
		}
		r, err := f.buildRelease(cfg, e, host, owner, cloneDir, rel.Version, files)
		if err != nil {
			return err
		}
		db.Releases = append(db.Releases, r)
		logf("Release %s added", rel.Version)
	}
	return nil
}

func forbiddenFile(files map[string]string) (string, string) {
	for _, p := range sortedFileNames(files) {
		if rule, bad := crosscheck.DefaultRules.Match("root/" + p); bad {
			return p, rule
		}
	}
	return "", ""
}

func (f *FakeEngine) buildRelease(cfg *config.Engine, e manifestEntry, host, owner, cloneDir, version string, files map[string]string) (*fakeRelease, error) {
	stem := SanitizeName(e.Name) + "-" + version
	fileName := stem + ".zip"
	archive := filepath.Join(cfg.ArchiveDir(host, owner), fileName)

	if err := f.writeZip(archive, stem, files); err != nil {
		return nil, fmt.Errorf("archive %s: %w", fileName, err)
	}
	info, err := f.FS.Stat(archive)
	if err != nil {
		return nil, err
	}
	sum, err := crosscheck.Checksum(f.FS, archive)
	if err != nil {
		return nil, err
	}

	// The lint table pads every cell to the column width.
	log := strings.Join([]string{
		fmt.Sprintf("%s Building archive from %s", f.stamp(), cloneDir),
		fmt.Sprintf("%-8s%-10s", "Rule", "Result"),
		fmt.Sprintf("%-8s%-10s", "LP001", "pass"),
		fmt.Sprintf("%s Archive %s created", f.stamp(), fileName),
	}, "\n")

	return &fakeRelease{
		LibraryName:     e.Name,
		Version:         version,
		URL:             cfg.BaseDownloadUrl + host + "/" + owner + "/" + fileName,
		ArchiveFileName: fileName,
		Size:            info.Size(),
		Checksum:        sum,
		Types:           e.Types,
		Log:             log,
	}, nil
}

func (f *FakeEngine) writeZip(path, root string, files map[string]string) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedFileNames(files) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: root + "/" + name, Method: zip.Store})
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, files[name]); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(f.FS, path, buf.Bytes(), 0o644)
}

func (f *FakeEngine) writeTree(dir string, files map[string]string) error {
	for _, name := range sortedFileNames(files) {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := f.FS.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(f.FS, p, []byte(files[name]), 0o644); err != nil {
			return err
		}
	}
	return nil
}

var repoURLFormat = regexp.MustCompile(`^https://[^/\s]+/[^/\s]+/[^/\s]+\.git$`)

func (f *FakeEngine) modify(cfg *config.Engine, name string, newURL, newTypes *string) error {
	db, err := loadFakeDB(f.FS, cfg.LibrariesDB, true)
	if err != nil {
		return err
	}
	lib := db.library(name)
	if lib == nil {
		return fmt.Errorf("%s not found", name)
	}

	if newURL != nil {
		if err := f.relocate(cfg, db, lib, *newURL); err != nil {
			return err
		}
	}
	if newTypes != nil {
		types := splitTypes(*newTypes)
		unchanged := true
		for _, r := range db.releasesOf(name) {
			if !slices.Equal(r.Types, types) {
				unchanged = false
			}
		}
		if unchanged {
			return fmt.Errorf("%s already has types %s", name, *newTypes)
		}
		lib.Types = types
		for _, r := range db.releasesOf(name) {
			r.Types = types
		}
	}

	return f.save(cfg, db)
}

func (f *FakeEngine) relocate(cfg *config.Engine, db *fakeDB, lib *fakeLibrary, url string) error {
	if !repoURLFormat.MatchString(url) {
		return fmt.Errorf("%s does not have a valid format", url)
	}
	if lib.Repository == url {
		return fmt.Errorf("%s already has URL %s", lib.Name, url)
	}
	oldHost, oldOwner, oldRepo, err := SplitRepositoryURL(lib.Repository)
	if err != nil {
		return err
	}
	newHost, newOwner, newRepo, err := SplitRepositoryURL(url)
	if err != nil {
		return err
	}

	if err := f.moveTree(cfg.CloneDir(oldHost, oldOwner, oldRepo), cfg.CloneDir(newHost, newOwner, newRepo)); err != nil {
		return fmt.Errorf("move clone: %w", err)
	}
	for _, r := range db.releasesOf(lib.Name) {
		oldArchive := filepath.Join(cfg.ArchiveDir(oldHost, oldOwner), r.ArchiveFileName)
		newArchive := filepath.Join(cfg.ArchiveDir(newHost, newOwner), r.ArchiveFileName)
		if err := f.moveFile(oldArchive, newArchive); err != nil {
			return fmt.Errorf("move archive: %w", err)
		}
		r.URL = cfg.BaseDownloadUrl + newHost + "/" + newOwner + "/" + r.ArchiveFileName
	}
	lib.Repository = url
	return nil
}

func (f *FakeEngine) remove(cfg *config.Engine, refs []string) error {
	db, err := loadFakeDB(f.FS, cfg.LibrariesDB, true)
	if err != nil {
		return err
	}

	type ref struct{ name, version string }
	var parsed []ref
	for _, arg := range refs {
		name, version, hasVersion := strings.Cut(arg, "@")
		if hasVersion && version == "" {
			return fmt.Errorf("Missing version for library name %s", name)
		}
		if !hasVersion {
			if db.library(name) == nil {
				return fmt.Errorf("%s not found", name)
			}
		} else if db.release(name, version) == nil {
			return fmt.Errorf("Library release %s@%s not found", name, version)
		}
		parsed = append(parsed, ref{name: name, version: version})
	}

	for _, r := range parsed {
		lib := db.library(r.name)
		host, owner, repoName, err := SplitRepositoryURL(lib.Repository)
		if err != nil {
			return err
		}
		targets := db.releasesOf(r.name)
		if r.version != "" {
			targets = []*fakeRelease{db.release(r.name, r.version)}
		}
		for _, rel := range targets {
			if err := f.FS.Remove(filepath.Join(cfg.ArchiveDir(host, owner), rel.ArchiveFileName)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove archive: %w", err)
			}
		}
		if r.version == "" {
			if err := f.FS.RemoveAll(cfg.CloneDir(host, owner, repoName)); err != nil {
				return fmt.Errorf("remove clone: %w", err)
			}
			db.removeLibrary(r.name)
		} else {
			db.removeRelease(r.name, r.version)
		}
	}

	return f.save(cfg, db)
}

func (f *FakeEngine) save(cfg *config.Engine, db *fakeDB) error {
	if err := writeJSON(f.FS, cfg.LibrariesDB, db); err != nil {
		return fmt.Errorf("write database: %w", err)
	}
	if err := writeJSON(f.FS, cfg.LibrariesIndex, db.index()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// moveTree copies src to dst file by file and removes src.
func (f *FakeEngine) moveTree(src, dst string) error {
	err := afero.Walk(f.FS, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return f.FS.MkdirAll(target, 0o755)
		}
		return f.copyFile(p, target)
	})
	if err != nil {
		return err
	}
	return f.FS.RemoveAll(src)
}

func (f *FakeEngine) moveFile(src, dst string) error {
	if err := f.copyFile(src, dst); err != nil {
		return err
	}
	return f.FS.Remove(src)
}

func (f *FakeEngine) copyFile(src, dst string) error {
	data, err := afero.ReadFile(f.FS, src)
	if err != nil {
		return err
	}
	if err := f.FS.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(f.FS, dst, data, 0o644)
}

func sortedFileNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
