package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arduino/libraries-repository-engine/internal/crosscheck"
	"github.com/arduino/libraries-repository-engine/internal/engine"
)

// Scenario defines a sequence of engine runs and the checks applied after
// each of them.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Values are extra template values. They may not shadow the sandbox
	// values.
	Values map[string]string `yaml:"values,omitempty"`

	// Tolerance overrides the relative archive size tolerance of golden
	// comparisons. Unset keeps the harness default; zero compares sizes
	// exactly.
	Tolerance *float64 `yaml:"tolerance,omitempty"`

	// Tags select scenarios from the command line.
	Tags []string `yaml:"tags,omitempty"`

	// Steps run in order in one sandbox.
	Steps []Step `yaml:"steps"`
}

// Step is one engine invocation.
type Step struct {
	Name string `yaml:"name"`

	// Args are the engine arguments, each one a template.
	Args []string `yaml:"args"`

	// Expect describes the exit. Nil means the engine must succeed.
	Expect *Expect `yaml:"expect,omitempty"`

	// Checks run after the engine exited as expected.
	Checks []Check `yaml:"checks,omitempty"`
}

// Expect is the expected engine exit.
type Expect struct {
	// Status is "success" or "failure".
	Status string `yaml:"status"`

	// Kind is the expected error class of a failure.
	Kind engine.Kind `yaml:"kind,omitempty"`

	// Stderr and Stdout list fragments the output must contain.
	Stderr []string `yaml:"stderr,omitempty"`
	Stdout []string `yaml:"stdout,omitempty"`
}

// Exit statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Check verifies the sandbox state after a step. Which fields apply depends
// on Type. String fields are templates.
type Check struct {
	Type string `yaml:"type"`

	// Golden is a fixture file (golden_db, golden_index) or a fixture log
	// directory (golden_log).
	Golden string `yaml:"golden,omitempty"`
	// Log is a log path relative to the logs folder.
	Log string `yaml:"log,omitempty"`

	// Source restricts crosscheck and payload_scan to "database" or "index".
	Source string `yaml:"source,omitempty"`

	Path    string   `yaml:"path,omitempty"`
	Library string   `yaml:"library,omitempty"`
	Version string   `yaml:"version,omitempty"`
	Value   string   `yaml:"value,omitempty"`
	Types   []string `yaml:"types,omitempty"`

	// Label names a snapshot; Labels names the two snapshots of idempotent.
	Label  string   `yaml:"label,omitempty"`
	Labels []string `yaml:"labels,omitempty"`
}

// Check types.
const (
	CheckGoldenDB          = "golden_db"
	CheckGoldenIndex       = "golden_index"
	CheckGoldenLog         = "golden_log"
	CheckCrosscheck        = "crosscheck"
	CheckIntegrity         = "integrity"
	CheckSchema            = "schema"
	CheckPayloadScan       = "payload_scan"
	CheckExcludedRelease   = "excluded_release"
	CheckPathExists        = "path_exists"
	CheckPathAbsent        = "path_absent"
	CheckLibraryPresent    = "library_present"
	CheckLibraryAbsent     = "library_absent"
	CheckReleasePresent    = "release_present"
	CheckReleaseAbsent     = "release_absent"
	CheckLibraryRepository = "library_repository"
	CheckReleaseURL        = "release_url"
	CheckReleaseTypes      = "release_types"
	CheckSnapshot          = "snapshot"
	CheckUnchanged         = "unchanged"
	CheckIdempotent        = "idempotent"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so "check:" vs "checks:" typos fail loudly.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario %q already defined in %s", p, s.Name, prev)
		}
		seen[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// HasTag reports whether the scenario carries tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if t := s.Tolerance; t != nil && (*t < 0 || *t >= 1) {
		return fmt.Errorf("tolerance must be in [0, 1), got %v", *t)
	}
	for name := range s.Values {
		if _, reserved := reservedValues[name]; reserved {
			return fmt.Errorf("values: %q is provided by the sandbox", name)
		}
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		if len(step.Args) == 0 {
			return fmt.Errorf("steps[%d]: args is required", i)
		}
		if err := validateExpect(i, step.Expect); err != nil {
			return err
		}
		for j := range step.Checks {
			if err := validateCheck(i, j, &step.Checks[j], labels); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateExpect(step int, e *Expect) error {
	if e == nil {
		return nil
	}
	switch e.Status {
	case StatusSuccess:
		if e.Kind != "" {
			return fmt.Errorf("steps[%d].expect: kind only applies to failures", step)
		}
	case StatusFailure:
		if e.Kind != "" && !e.Kind.Valid() {
			return fmt.Errorf("steps[%d].expect: unknown kind %q", step, e.Kind)
		}
	default:
		return fmt.Errorf("steps[%d].expect: status must be %q or %q", step, StatusSuccess, StatusFailure)
	}
	return nil
}

// validateCheck validates a single check based on its type. labels collects
// the snapshot labels declared so far.
func validateCheck(step, index int, c *Check, labels map[string]bool) error {
	where := fmt.Sprintf("steps[%d].checks[%d]", step, index)
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s: %s is required for %s", where, field, c.Type)
		}
		return nil
	}
	needLabel := func(label string) error {
		if err := need("label", label); err != nil {
			return err
		}
		if !labels[label] {
			return fmt.Errorf("%s: snapshot %q is not recorded by an earlier check", where, label)
		}
		return nil
	}

	switch c.Type {
	case "":
		return fmt.Errorf("%s: type is required", where)
	case CheckGoldenDB, CheckGoldenIndex:
		return need("golden", c.Golden)
	case CheckGoldenLog:
		if err := need("golden", c.Golden); err != nil {
			return err
		}
		return need("log", c.Log)
	case CheckCrosscheck, CheckPayloadScan:
		if c.Source != "" && c.Source != crosscheck.SourceDB && c.Source != crosscheck.SourceIndex {
			return fmt.Errorf("%s: source must be %q or %q", where, crosscheck.SourceDB, crosscheck.SourceIndex)
		}
	case CheckIntegrity, CheckSchema:
	case CheckPathExists, CheckPathAbsent:
		return need("path", c.Path)
	case CheckLibraryPresent, CheckLibraryAbsent:
		return need("library", c.Library)
	case CheckReleasePresent, CheckReleaseAbsent, CheckExcludedRelease:
		if err := need("library", c.Library); err != nil {
			return err
		}
		return need("version", c.Version)
	case CheckLibraryRepository:
		if err := need("library", c.Library); err != nil {
			return err
		}
		return need("value", c.Value)
	case CheckReleaseURL:
		for _, f := range [][2]string{{"library", c.Library}, {"version", c.Version}, {"value", c.Value}} {
			if err := need(f[0], f[1]); err != nil {
				return err
			}
		}
	case CheckReleaseTypes:
		if err := need("library", c.Library); err != nil {
			return err
		}
		if len(c.Types) == 0 {
			return fmt.Errorf("%s: types is required for %s", where, c.Type)
		}
	case CheckSnapshot:
		if err := need("label", c.Label); err != nil {
			return err
		}
		if labels[c.Label] {
			return fmt.Errorf("%s: snapshot %q recorded twice", where, c.Label)
		}
		labels[c.Label] = true
	case CheckUnchanged:
		if err := need("library", c.Library); err != nil {
			return err
		}
		return needLabel(c.Label)
	case CheckIdempotent:
		if len(c.Labels) != 2 {
			return fmt.Errorf("%s: labels must name exactly two snapshots", where)
		}
		for _, l := range c.Labels {
			if err := needLabel(l); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: unknown check type %q", where, c.Type)
	}
	return nil
}

// describeArgs formats engine arguments for messages.
func describeArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t") {
			a = fmt.Sprintf("%q", a)
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
