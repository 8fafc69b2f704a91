// Package codec converts cached values to and from the host store's string form.
package codec

import (
	"encoding/json"

	"github.com/jmgilman/go/errors"
)

// CodeSerialization marks a value that could not be encoded.
const CodeSerialization errors.ErrorCode = "SERIALIZATION_FAILED"

// Encode serializes v as JSON. Values JSON cannot represent, including cyclic
// maps, slices and pointers, return a CodeSerialization error.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, CodeSerialization, "cannot encode value")
	}
	return string(b), nil
}

// Decode parses raw as JSON and falls back to raw itself when it does not parse.
// A raw string that happens to be a JSON literal (123, true) decodes to that literal.
func Decode(raw string) any {
	if raw == "" {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// DecodeInto unmarshals raw into dst. A raw string that is not JSON is assigned
// directly when dst is a *string.
func DecodeInto(raw string, dst any) error {
	err := json.Unmarshal([]byte(raw), dst)
	if err == nil {
		return nil
	}
	if s, ok := dst.(*string); ok {
		*s = raw
		return nil
	}
	return errors.Wrap(err, CodeSerialization, "cannot decode value")
}
