// Package codec provides the serialization strategies persisted state uses to
// turn in-memory values into storable bytes and back.
//
// A Serializer must satisfy the round-trip law Decode(Encode(v)) == v for
// every value in its supported domain. JSON is the default; Canonical gives
// byte-stable output for identical values; YAML stores human-editable text.
package codec

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Serializer converts between T and its storable representation.
type Serializer[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// Funcs adapts a pair of functions to Serializer.
type Funcs[T any] struct {
	EncodeFunc func(T) ([]byte, error)
	DecodeFunc func([]byte) (T, error)
}

func (f Funcs[T]) Encode(v T) ([]byte, error) { return f.EncodeFunc(v) }

func (f Funcs[T]) Decode(data []byte) (T, error) { return f.DecodeFunc(data) }

// JSON encodes with encoding/json.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return data, nil
}

func (JSON[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("json decode: %w", err)
	}
	return v, nil
}

// YAML encodes with gopkg.in/yaml.v3.
//
// yaml.v3 decodes untyped integers as int, so for T=any the supported domain
// is YAML-native scalars rather than JSON's float64.
type YAML[T any] struct{}

func (YAML[T]) Encode(v T) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml encode: %w", err)
	}
	return data, nil
}

func (YAML[T]) Decode(data []byte) (T, error) {
	var v T
	if err := yaml.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("yaml decode: %w", err)
	}
	return v, nil
}

// Named returns the serializer registered under name: "json", "canonical"
// or "yaml".
func Named[T any](name string) (Serializer[T], error) {
	switch name {
	case "", "json":
		return JSON[T]{}, nil
	case "canonical":
		return Canonical[T]{}, nil
	case "yaml":
		return YAML[T]{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
