package jsonx

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
)

// Thin wrapper so every package encodes through the same implementation.
var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
)

type RawMessage = json.RawMessage
type Number = json.Number

// MarshalString encodes v without HTML escaping, so tags such as <tool_call>
// survive verbatim inside prompts and observations.
func MarshalString(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// MustString is MarshalString for values that are known to encode.
func MustString(v any) string {
	s, err := MarshalString(v)
	if err != nil {
		return "{}"
	}
	return s
}
