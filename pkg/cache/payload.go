package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is a raw response dictionary as decoded from the API.
// Nested values are Payload-compatible maps, []any, string, bool, nil or
// json.Number.
type Payload = map[string]any

// DecodePayload decodes a JSON object. Numbers are kept as json.Number so a
// payload read back from disk is identical to the one decoded from the wire.
func DecodePayload(data []byte) (Payload, error) {
	var payload Payload
	if err := decodeJSON(data, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return payload, nil
}

// ClonePayload returns a deep copy of p.
func ClonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	return cloneValue(p).(Payload)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}
