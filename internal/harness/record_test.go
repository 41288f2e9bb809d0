package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arduino/libraries-repository-engine/internal/engine"
	"github.com/arduino/libraries-repository-engine/internal/libdb"
	"github.com/arduino/libraries-repository-engine/internal/match"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
	"github.com/arduino/libraries-repository-engine/internal/render"
	"github.com/arduino/libraries-repository-engine/internal/testutil"
)

func TestRecordFixtures(t *testing.T) {
	fsys := afero.NewOsFs()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sb, err := NewSandbox(fsys, t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(sb.Close)

	fake := testutil.NewFakeEngine(fsys)
	res, err := fake.Run(context.Background(), engine.Invocation{
		Args: engine.Sync(sb.ConfigFile, testdataPath(t, "repos/sync.txt")),
		Dir:  sb.Dir,
	})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Stderr)

	values := Values(sb.Config, sb.ConfigFile, sb.Dir, "", nil)
	out := t.TempDir()
	logPath := "github.com/arduino-libraries/SpacebrewYun/index.html"
	rec := Recording{Config: sb.Config, Values: values, Out: out, Pass: PassGenerate, Logs: []string{logPath}}

	written, err := RecordFixtures(fsys, rec)
	require.NoError(t, err)
	assert.Len(t, written, 3)

	fixtures := FixturesIn(out).Generate
	dbTmpl, err := os.ReadFile(fixtures.DB)
	require.NoError(t, err)
	assert.Contains(t, string(dbTmpl), "${base_download_url}github.com/arduino-libraries/SpacebrewYun-1.0.0.zip")
	assert.Contains(t, string(dbTmpl), "${checksum_placeholder}")
	assert.Contains(t, string(dbTmpl), "${git_clones_folder}/github.com/arduino-libraries/SpacebrewYun")
	assert.NotContains(t, string(dbTmpl), sb.Dir)

	logTmpl, err := os.ReadFile(filepath.Join(fixtures.Logs, filepath.FromSlash(logPath)))
	require.NoError(t, err)
	assert.Contains(t, string(logTmpl), "Cloning into ${git_clones_folder}/github.com/arduino-libraries/SpacebrewYun")

	// The recorded fixture renders back to a document equivalent to the
	// engine output.
	rendered, err := render.Render(dbTmpl, values, render.WithEscaper(render.JSONString))
	require.NoError(t, err)
	expected, err := libdb.ParseDB(rendered)
	require.NoError(t, err)
	actual, err := libdb.LoadDB(fsys, sb.Config.LibrariesDB)
	require.NoError(t, err)
	require.NoError(t, match.Records(normalize.DBRelease, actual.ReleaseRecords(), expected.ReleaseRecords(),
		match.Options{Tolerance: -1}, "LibraryName", "Version"))

	_, err = RecordFixtures(fsys, rec)
	require.ErrorIs(t, err, ErrFixtureExists)

	rec.Force = true
	_, err = RecordFixtures(fsys, rec)
	require.NoError(t, err)
}

func TestRecordFixturesRejectsUnknownPass(t *testing.T) {
	_, err := RecordFixtures(afero.NewMemMapFs(), Recording{Pass: "third"})
	require.Error(t, err)
}
