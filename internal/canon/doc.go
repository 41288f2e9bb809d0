// Package canon produces canonical JSON for engine documents.
//
// Canonical bytes are used wherever the harness needs a stable textual form of
// a decoded value: field-level mismatch reports, snapshot records stored in the
// ledger, and golden report output. Equality checks compare decoded values
// directly; the encoding is for storage and display.
//
// The encoding follows RFC 8785 ordering rules:
//   - object keys sorted by UTF-16 code units
//   - no HTML escaping, U+2028/U+2029 emitted literally
//   - strings kept byte for byte, never Unicode normalized
//   - integers emitted in their decoded form, other numbers as decoded text
//
// Engine documents legitimately contain JSON null (e.g. a release without
// Types), so null is accepted. Binary floating point is rejected: decoding
// with json.Decoder.UseNumber never produces one, so a float indicates a
// decoding mistake upstream.
package canon
