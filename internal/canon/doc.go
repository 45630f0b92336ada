// Package canon produces canonical JSON (RFC 8785) and content hashes.
//
// Canonical bytes are used wherever the engine needs a stable identity for
// a value: cell hashes, golden traces and journal digests. The encoder
// accepts plain Go values only:
//   - nil, bool, string
//   - int, int32, int64 (floats are rejected, their text form is not stable)
//   - []string, []any
//   - map[string]any (keys ordered by UTF-16 code units)
//
// Strings are NFC normalized before encoding.
package canon
