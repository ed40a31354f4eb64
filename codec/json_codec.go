package codec

import (
	"bytes"
	"encoding/json"
)

// JSONCodec writes the task document vPoller expects.
// HTML escaping is off so '<', '>' and '&' in property names reach the worker
// untouched; string escaping ('"', '\', control characters) still applies.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder terminates every value with '\n'; the wire document does not carry it.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
