//go:build json_goccy

package jsoncodec

import "github.com/goccy/go-json"

// JSONCodec implements Codec using goccy/go-json for high-throughput model
// list cache refreshes under concurrent dispatch.
type JSONCodec struct{}

func (c *JSONCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (c *JSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (c *JSONCodec) Name() string { return "json-goccy" }
