// Package jsoncodec provides a pluggable encode/decode abstraction used for
// the /v1/models cache payload and for diagnose_worker's optional snapshot
// dump. Build-tag selected, same pattern as the teacher's pkg/pyproc codec
// family: stdlib by default, goccy/go-json or segmentio/encoding/json when
// built with the matching tag, plus an always-available msgpack codec for
// the diagnostic dump.
package jsoncodec

import "fmt"

// Codec defines the interface for encoding/decoding values.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// Type names a codec implementation.
type Type string

const (
	TypeJSON    Type = "json"
	TypeMsgpack Type = "msgpack"
)

// New creates a new codec based on the type. TypeJSON resolves to whichever
// JSONCodec implementation was selected at build time.
func New(t Type) (Codec, error) {
	switch t {
	case TypeJSON, "":
		return &JSONCodec{}, nil
	case TypeMsgpack:
		return &MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("jsoncodec: unknown codec type %q", t)
	}
}
