package jsoncodec

import (
	"reflect"
	"testing"
)

func TestNew_TypeSelection(t *testing.T) {
	cases := []struct {
		typ      Type
		wantErr  bool
		wantName string
	}{
		{TypeJSON, false, ""},
		{"", false, ""},
		{TypeMsgpack, false, "msgpack"},
		{"bogus", true, ""},
	}

	for _, c := range cases {
		codec, err := New(c.typ)
		if c.wantErr {
			if err == nil {
				t.Errorf("New(%q): expected error, got nil", c.typ)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%q): unexpected error: %v", c.typ, err)
		}
		if c.wantName != "" && codec.Name() != c.wantName {
			t.Errorf("New(%q).Name() = %q, want %q", c.typ, codec.Name(), c.wantName)
		}
	}
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	codec := &JSONCodec{}

	tests := []struct {
		name  string
		input interface{}
	}{
		{"string", "hello"},
		{"int", 42},
		{"slice", []int{1, 2, 3}},
		{"map", map[string]interface{}{"a": "b", "c": float64(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := codec.Marshal(tt.input)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			var out interface{}
			if err := codec.Unmarshal(data, &out); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}

			roundTripped, err := codec.Marshal(out)
			if err != nil {
				t.Fatalf("re-Marshal: %v", err)
			}
			original, _ := codec.Marshal(tt.input)
			if !reflect.DeepEqual(roundTripped, original) {
				t.Errorf("round-trip mismatch: got %s, want %s", roundTripped, original)
			}
		})
	}
}

func TestMsgpackCodec_RoundTrip(t *testing.T) {
	codec := &MsgpackCodec{}

	type snapshot struct {
		ID    int      `msgpack:"id"`
		State string   `msgpack:"state"`
		Tags  []string `msgpack:"tags"`
	}

	in := snapshot{ID: 3, State: "Idle", Tags: []string{"a", "b"}}
	data, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out snapshot
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}
