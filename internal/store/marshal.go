package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/arduino/libraries-repository-engine/internal/canon"
)

// marshalRecord converts a record to canonical JSON TEXT for storage.
func marshalRecord(rec map[string]any) (string, error) {
	data, err := canon.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses stored JSON keeping numbers as json.Number so sizes
// above 2^53 survive.
func unmarshalRecord(data string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec == nil {
		rec = map[string]any{}
	}
	return rec, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
