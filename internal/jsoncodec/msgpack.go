package jsoncodec

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec implements Codec using MessagePack, used by
// (*pool.Pool).DiagnoseEncoded for an offline-tooling-friendly dump of a
// worker's metrics.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Marshal(v interface{}) ([]byte, error) { return msgpack.Marshal(v) }

func (c *MsgpackCodec) Unmarshal(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }

func (c *MsgpackCodec) Name() string { return "msgpack" }
