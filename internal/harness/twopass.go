package harness

import (
	"context"
	"path/filepath"
	"strings"
)

// FixtureSet is the expected output of one sync pass.
type FixtureSet struct {
	DB    string // database template
	Index string // index template
	Logs  string // directory of log templates, laid out like the logs folder
}

// Fixtures holds the expectations of both passes.
type Fixtures struct {
	Generate FixtureSet
	Update   FixtureSet
}

// FixturesIn returns the conventional layout under dir: one database and
// one index template shared by both passes, and per-pass log templates under
// logs/generate and logs/update.
func FixturesIn(dir string) Fixtures {
	db := filepath.Join(dir, "db.json")
	idx := filepath.Join(dir, "library_index.json")
	return Fixtures{
		Generate: FixtureSet{DB: db, Index: idx, Logs: filepath.Join(dir, "logs", "generate")},
		Update:   FixtureSet{DB: db, Index: idx, Logs: filepath.Join(dir, "logs", "update")},
	}
}

// TwoPass describes a generate-then-update verification.
type TwoPass struct {
	// Name identifies the run in reports and the ledger.
	Name string
	// Manifest is the library list passed to sync.
	Manifest string
	Fixtures Fixtures
	// Logs are log paths relative to the logs folder, e.g.
	// github.com/arduino-libraries/SpacebrewYun/index.html.
	Logs []string
	// Tolerance overrides the harness size tolerance when set. Zero compares
	// sizes exactly.
	Tolerance *float64
}

// Pass labels.
const (
	PassGenerate = "generate"
	PassUpdate   = "update"
)

// Scenario expresses the protocol as a two-step scenario: each pass runs sync
// and is verified against its fixture set, and the update pass must publish
// what the generate pass published.
func (tp TwoPass) Scenario() *Scenario {
	name := tp.Name
	if name == "" {
		name = "two_pass"
	}
	pass := func(label string, set FixtureSet) Step {
		checks := []Check{
			{Type: CheckCrosscheck},
			{Type: CheckIntegrity},
			{Type: CheckSchema},
			{Type: CheckGoldenDB, Golden: literal(set.DB)},
			{Type: CheckGoldenIndex, Golden: literal(set.Index)},
		}
		for _, l := range tp.Logs {
			checks = append(checks, Check{Type: CheckGoldenLog, Golden: literal(set.Logs), Log: literal(l)})
		}
		checks = append(checks, Check{Type: CheckSnapshot, Label: label})
		return Step{
			Name:   label,
			Args:   []string{"sync", "--config-file", "${" + ValueConfigFile + "}", literal(tp.Manifest)},
			Checks: checks,
		}
	}

	update := pass(PassUpdate, tp.Fixtures.Update)
	update.Checks = append(update.Checks, Check{Type: CheckIdempotent, Labels: []string{PassGenerate, PassUpdate}})

	return &Scenario{
		Name:        name,
		Description: "sync twice over the same manifest and verify both passes",
		Tolerance:   tp.Tolerance,
		Steps:       []Step{pass(PassGenerate, tp.Fixtures.Generate), update},
	}
}

// RunTwoPass runs the two-pass protocol. A pass that exits unsuccessfully
// fails the run immediately.
func (h *Harness) RunTwoPass(ctx context.Context, tp TwoPass) (*Result, error) {
	return h.Run(ctx, tp.Scenario())
}

// literal escapes s so it renders to itself.
func literal(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
