// Package mapping converts raw response payloads into typed models.
//
// Models declare their fields with json tags. Decoding is strict about
// types: a string never fills an int field. Models implementing Validator
// are validated after decoding.
package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

var (
	// ErrShapeInvalid matches every mapping failure.
	ErrShapeInvalid = errors.New("payload shape invalid")

	// ErrKeyNotFound indicates a missing key path segment.
	ErrKeyNotFound = errors.New("key not found")

	// ErrNotObject indicates a model was mapped from a non-object value.
	ErrNotObject = errors.New("value is not an object")
)

// MappingError describes why a payload could not be mapped.
type MappingError struct {
	KeyPath string
	Err     error
}

func (e *MappingError) Error() string {
	path := e.KeyPath
	if path == "" {
		path = "<root>"
	}
	return fmt.Sprintf("map %s: %v", path, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Is reports ErrShapeInvalid as a match.
func (e *MappingError) Is(target error) bool {
	return target == ErrShapeInvalid
}

// Validator is implemented by models that check their own invariants.
type Validator interface {
	Validate() error
}

// Map decodes the value at keyPath of payload into a T. keyPath is
// dot-separated; an empty path maps the whole payload.
func Map[T any](payload map[string]any, keyPath string) (T, error) {
	var out T

	value, err := lookup(payload, keyPath)
	if err != nil {
		return out, &MappingError{KeyPath: keyPath, Err: err}
	}

	switch reflect.TypeFor[T]().Kind() {
	case reflect.Struct, reflect.Map:
		if _, ok := value.(map[string]any); !ok {
			return out, &MappingError{KeyPath: keyPath, Err: fmt.Errorf("%w: got %T", ErrNotObject, value)}
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return out, &MappingError{KeyPath: keyPath, Err: err}
	}

	if err := decoder.Decode(value); err != nil {
		return out, &MappingError{KeyPath: keyPath, Err: err}
	}

	if err := validate(&out); err != nil {
		return out, &MappingError{KeyPath: keyPath, Err: err}
	}

	return out, nil
}

// Mapper maps payloads to T with Map.
type Mapper[T any] struct{}

// Map implements the client's mapper contract.
func (Mapper[T]) Map(payload map[string]any, keyPath string) (T, error) {
	return Map[T](payload, keyPath)
}

func lookup(payload map[string]any, keyPath string) (any, error) {
	if payload == nil {
		return nil, ErrNotObject
	}
	if keyPath == "" {
		return payload, nil
	}

	var current any = payload
	for _, segment := range strings.Split(keyPath, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is inside a non-object value", ErrKeyNotFound, segment)
		}
		current, ok = obj[segment]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, segment)
		}
	}
	return current, nil
}

func validate[T any](out *T) error {
	if v, ok := any(*out).(Validator); ok {
		return v.Validate()
	}
	if v, ok := any(out).(Validator); ok {
		return v.Validate()
	}
	return nil
}
