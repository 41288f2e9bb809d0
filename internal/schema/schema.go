// Package schema validates engine documents against embedded CUE
// definitions.
package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed documents.cue
var documentsCUE string

// Definitions understood by Validate.
const (
	DB    = "#DB"
	Index = "#Index"
)

// ValidationError wraps every schema violation found in a document.
type ValidationError struct {
	Document   string
	Definition string
	Details    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s does not satisfy %s:\n%s", e.Document, e.Definition, e.Details)
}

// Validator holds the compiled schema. A cue.Context is not safe for
// concurrent use, so access is serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// New compiles the embedded definitions.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(documentsCUE, cue.Filename("documents.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: v}, nil
}

// Validate checks JSON document bytes against definition. name labels the
// document in errors.
func (s *Validator) Validate(definition, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def := s.schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("unknown schema definition %s", definition)
	}

	doc := s.ctx.CompileBytes(data, cue.Filename(name))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{
			Document:   name,
			Definition: definition,
			Details:    cueerrors.Details(err, nil),
		}
	}
	return nil
}

// ValidateDB checks a database document.
func (s *Validator) ValidateDB(name string, data []byte) error {
	return s.Validate(DB, name, data)
}

// ValidateIndex checks an index document.
func (s *Validator) ValidateIndex(name string, data []byte) error {
	return s.Validate(Index, name, data)
}
