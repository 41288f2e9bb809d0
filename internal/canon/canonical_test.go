package canon

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"json number", json.Number("10597"), "10597"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"string slice", []string{"Arduino", "Retired"}, `["Arduino","Retired"]`},
		{"simple object", map[string]any{"a": 1}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"Version":     "1.0.0",
		"LibraryName": "SpacebrewYun",
		"Checksum":    "CHECKSUM_PLACEHOLDER",
	}

	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"Checksum":"CHECKSUM_PLACEHOLDER","LibraryName":"SpacebrewYun","Version":"1.0.0"}`, string(result))
}

func TestMarshalUTF16Ordering(t *testing.T) {
	// U+1F600 encodes to a surrogate pair starting 0xD83D, which sorts before
	// U+FF61 in UTF-16 but after it in UTF-8.
	obj := map[string]any{
		"\uff61":     1,
		"\U0001F600": 2,
	}

	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff61\":1}", string(result))
}

func TestMarshalNoHTMLEscape(t *testing.T) {
	result, err := Marshal("<pre>a & b</pre>")
	require.NoError(t, err)
	assert.Equal(t, `"<pre>a & b</pre>"`, string(result))
}

func TestMarshalRejectsFloats(t *testing.T) {
	_, err := Marshal(3.14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = Marshal(json.Number("1.5x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number")

	_, err = Marshal(map[string]any{"Size": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `value for key "Size"`)
}

func TestMarshalKeepsNormalizationForm(t *testing.T) {
	// "e" + combining acute accent and the precomposed U+00E9 render alike
	// but are different strings.
	a, err := Marshal("cafe\u0301")
	require.NoError(t, err)
	b, err := Marshal("caf\u00e9")
	require.NoError(t, err)
	assert.Equal(t, "\"cafe\u0301\"", string(a))
	assert.NotEqual(t, string(b), string(a))
}

func TestMarshalDecimalNumbers(t *testing.T) {
	tests := []struct {
		in   json.Number
		want string
	}{
		{"4.5", "4.5"},
		{"4.50", "4.50"},
		{"-1e3", "-1e3"},
		{"1.", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := Marshal(tt.in)
			if tt.want == "" {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalLineSeparatorsNotEscaped(t *testing.T) {
	result, err := Marshal("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))
}

func TestMarshalLiteralBackslashU2028(t *testing.T) {
	// The text \u2028 (backslash, u, 2, 0, 2, 8) must stay escaped.
	result, err := Marshal(`\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(result))
}

func TestMarshalIdempotentAcrossDecodes(t *testing.T) {
	doc := []byte(`{"Releases":[{"Size":1024,"Types":null,"LibraryName":"ssd1306"}]}`)

	var first any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&first))

	a, err := Marshal(first)
	require.NoError(t, err)

	var second any
	dec = json.NewDecoder(bytes.NewReader(a))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&second))

	b, err := Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"Releases":[{"LibraryName":"ssd1306","Size":1024,"Types":null}]}`, string(a))
}

func TestMustStringFallsBack(t *testing.T) {
	assert.Equal(t, `"x"`, MustString("x"))
	assert.Equal(t, "1.5", MustString(1.5))
}
