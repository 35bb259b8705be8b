package bson

import (
	"reflect"

	"github.com/puzpuzpuz/xsync/v4"
)

// EncodeFunc converts a host value into a value the encoder writes natively
// (any type WriteValue accepts).
type EncodeFunc func(v any) (any, error)

// DecodeFunc converts a natively decoded value into a host value.
type DecodeFunc func(v any) (any, error)

// The registries are process-wide and safe for concurrent use.
var (
	encodeAdapters = xsync.NewMap[reflect.Type, EncodeFunc]()
	decodeAdapters = xsync.NewMap[Type, DecodeFunc]()
)

// RegisterEncoder makes WriteValue accept values of type t by converting
// them with fn first. Types WriteValue handles natively never reach fn.
func RegisterEncoder(t reflect.Type, fn EncodeFunc) {
	if fn == nil {
		encodeAdapters.Delete(t)
		return
	}
	encodeAdapters.Store(t, fn)
}

// RegisterEncoderFor is the typed form of RegisterEncoder.
func RegisterEncoderFor[T any](fn func(T) (any, error)) {
	if fn == nil {
		RegisterEncoder(reflect.TypeFor[T](), nil)
		return
	}
	RegisterEncoder(reflect.TypeFor[T](), func(v any) (any, error) {
		return fn(v.(T))
	})
}

// RegisterDecoder converts every decoded value of element type t with fn when
// documents are materialized by ReadDocument or Unmarshal. Token-level access
// through Decoder.Value is not affected.
func RegisterDecoder(t Type, fn DecodeFunc) {
	if fn == nil {
		decodeAdapters.Delete(t)
		return
	}
	decodeAdapters.Store(t, fn)
}

func lookupEncoder(v any) (EncodeFunc, bool) {
	return encodeAdapters.Load(reflect.TypeOf(v))
}

func applyDecoder(t Type, v any) (any, error) {
	fn, ok := decodeAdapters.Load(t)
	if !ok {
		return v, nil
	}
	return fn(v)
}
