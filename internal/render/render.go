// Package render resolves named placeholders in recorded expectation documents.
//
// Golden fixtures never carry run-specific literals such as the clone cache
// path or the download base URL. They carry placeholders instead, and every
// comparison renders the fixture against the values of the current run first.
// Rendering is a pure function of (template, values).
//
// Placeholder syntax is $name or ${name}, where name matches
// [_A-Za-z][_A-Za-z0-9]*. A literal dollar sign is written $$.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Values maps placeholder names to their resolved values.
type Values map[string]string

// Names returns the placeholder names in sorted order.
func (v Values) Names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Escaper transforms a value before it is inserted into the document.
type Escaper func(string) string

// JSONString escapes a value for insertion inside a JSON string literal.
// Without it a Windows path or a quote in a value would corrupt a JSON fixture.
func JSONString(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

type options struct {
	escape Escaper
}

// Option configures Render.
type Option func(*options)

// WithEscaper applies e to every substituted value.
func WithEscaper(e Escaper) Option {
	return func(o *options) { o.escape = e }
}

// UnresolvedPlaceholderError is returned when the template references a name
// that has no value.
type UnresolvedPlaceholderError struct {
	Name   string
	Offset int
}

func (e *UnresolvedPlaceholderError) Error() string {
	return fmt.Sprintf("unresolved placeholder %q at offset %d", e.Name, e.Offset)
}

// MalformedPlaceholderError is returned for a $ that does not start a valid
// placeholder or escape.
type MalformedPlaceholderError struct {
	Offset int
	Text   string
}

func (e *MalformedPlaceholderError) Error() string {
	return fmt.Sprintf("malformed placeholder %q at offset %d", e.Text, e.Offset)
}

// Render substitutes every placeholder in tmpl exactly once. Substituted text
// is never scanned again, so a value containing $ is inserted verbatim.
func Render(tmpl []byte, values Values, opts ...Option) ([]byte, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var out bytes.Buffer
	out.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}

		name, width, err := parsePlaceholder(tmpl, i)
		if err != nil {
			return nil, err
		}
		if name == "" {
			// $$ escape
			out.WriteByte('$')
			i += width
			continue
		}

		value, ok := values[name]
		if !ok {
			return nil, &UnresolvedPlaceholderError{Name: name, Offset: i}
		}
		if o.escape != nil {
			value = o.escape(value)
		}
		out.WriteString(value)
		i += width
	}

	return out.Bytes(), nil
}

// RenderString is Render for string templates.
func RenderString(tmpl string, values Values, opts ...Option) (string, error) {
	out, err := Render([]byte(tmpl), values, opts...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Placeholders lists the distinct names referenced by tmpl, in order of first
// appearance.
func Placeholders(tmpl []byte) ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	for i := 0; i < len(tmpl); {
		if tmpl[i] != '$' {
			i++
			continue
		}
		name, width, err := parsePlaceholder(tmpl, i)
		if err != nil {
			return nil, err
		}
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i += width
	}
	return names, nil
}

// parsePlaceholder parses the placeholder starting at tmpl[at] == '$'. It
// returns the name (empty for the $$ escape) and the number of bytes consumed.
func parsePlaceholder(tmpl []byte, at int) (string, int, error) {
	rest := tmpl[at+1:]
	if len(rest) == 0 {
		return "", 0, &MalformedPlaceholderError{Offset: at, Text: "$"}
	}

	switch {
	case rest[0] == '$':
		return "", 2, nil
	case rest[0] == '{':
		end := bytes.IndexByte(rest, '}')
		if end < 0 {
			return "", 0, &MalformedPlaceholderError{Offset: at, Text: snippet(tmpl[at:])}
		}
		name := string(rest[1:end])
		if !isIdentifier(name) {
			return "", 0, &MalformedPlaceholderError{Offset: at, Text: string(tmpl[at : at+end+2])}
		}
		return name, end + 2, nil
	case isIdentStart(rest[0]):
		n := 1
		for n < len(rest) && isIdentPart(rest[n]) {
			n++
		}
		return string(rest[:n]), n + 1, nil
	default:
		return "", 0, &MalformedPlaceholderError{Offset: at, Text: snippet(tmpl[at:])}
	}
}

func snippet(b []byte) string {
	if len(b) > 12 {
		b = b[:12]
	}
	return string(b)
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Templatize is the inverse of Render: it escapes every $ in doc and replaces
// each occurrence of a value with its ${name} placeholder. Longer values are
// replaced first so a path is not split by one of its own prefixes. Empty
// values are ignored.
//
// Templatize is used when recording a new fixture from real engine output so
// the fixture stays portable across machines.
func Templatize(doc []byte, values Values, opts ...Option) []byte {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	type pair struct{ name, value string }
	pairs := make([]pair, 0, len(values))
	for _, name := range values.Names() {
		v := values[name]
		if o.escape != nil {
			v = o.escape(v)
		}
		if v == "" {
			continue
		}
		pairs = append(pairs, pair{name, strings.ReplaceAll(v, "$", "$$")})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return len(pairs[i].value) > len(pairs[j].value)
	})

	replacements := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		replacements = append(replacements, p.value, "${"+p.name+"}")
	}

	escaped := strings.ReplaceAll(string(doc), "$", "$$")
	return []byte(strings.NewReplacer(replacements...).Replace(escaped))
}
