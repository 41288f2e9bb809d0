package harness

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arduino/libraries-repository-engine/internal/engine"
)

// TestEngineIntegration runs the scenarios against a real engine binary.
// Golden scenarios are skipped: their fixtures describe the in-process fake.
//
//	LIBRARIES_REPOSITORY_ENGINE=/path/to/libraries-repository-engine go test ./internal/harness -run Integration
func TestEngineIntegration(t *testing.T) {
	executable := os.Getenv("LIBRARIES_REPOSITORY_ENGINE")
	if executable == "" {
		t.Skip("LIBRARIES_REPOSITORY_ENGINE not set")
	}

	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	h, err := New(Options{
		Runner:      engine.ProcessRunner{Executable: executable},
		Testdata:    "testdata",
		SandboxRoot: t.TempDir(),
	})
	require.NoError(t, err)
	defer h.Close()

	for _, sc := range scenarios {
		if sc.HasTag("golden") {
			continue
		}
		t.Run(sc.Name, func(t *testing.T) {
			res, err := h.Run(context.Background(), sc)
			require.NoError(t, err)
			requirePass(t, res)
		})
	}
}
