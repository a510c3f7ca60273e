package frame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	Name  string         `cbor:"name"`
	Count int            `cbor:"count"`
	Extra map[string]any `cbor:"extra,omitempty"`
}

func TestEncodeDecode(t *testing.T) {
	in := message{Name: "render", Count: 3, Extra: map[string]any{"k": "v"}}
	b, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(b)-HeaderSize), binary.BigEndian.Uint32(b))

	var out message
	require.NoError(t, Decode(b, 1<<10, &out))
	assert.Equal(t, in, out)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "hello"))

	var s string
	require.NoError(t, Decode(buf.Bytes(), 64, &s))
	assert.Equal(t, "hello", s)
}

func TestDecode_Errors(t *testing.T) {
	valid, err := Encode(message{Name: "x"})
	require.NoError(t, err)

	header := func(n uint32, body []byte) []byte {
		b := binary.BigEndian.AppendUint32(nil, n)
		return append(b, body...)
	}
	body := valid[HeaderSize:]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"Empty", nil, ErrTruncated},
		{"ShortHeader", []byte{0, 0}, ErrTruncated},
		{"ShortBody", valid[:len(valid)-1], ErrTruncated},
		{"TrailingAfterFrame", append(append([]byte{}, valid...), 0xff), ErrTrailingData},
		{"TrailingInBody", header(uint32(len(body)+1), append(append([]byte{}, body...), 0x01)), ErrTrailingData},
		{"TooLarge", header(1<<20, nil), ErrTooLarge},
		{"CutItem", header(uint32(len(body)-1), body[:len(body)-1]), ErrTruncated},
		{"Garbage", header(1, []byte{0xff}), ErrMalformed},
		{"UnknownField", mustEncode(t, map[string]any{"name": "x", "bogus": 1}), ErrMalformed},
		{"DuplicateKey", header(7, []byte{0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02}), ErrMalformed},
		{"IndefiniteLength", header(3, []byte{0x9f, 0x01, 0xff}), ErrMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out message
			err := Decode(tc.data, 1<<10, &out)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecode_Budget(t *testing.T) {
	b, err := Encode(bytes.Repeat([]byte{'a'}, 100))
	require.NoError(t, err)

	var out []byte
	assert.ErrorIs(t, Decode(b, 50, &out), ErrTooLarge)
	require.NoError(t, Decode(b, -1, &out))
	assert.Len(t, out, 100)
}

func TestUnmarshal_AnyMap(t *testing.T) {
	b, err := Marshal(map[string]any{"a": []any{uint64(1), "b"}})
	require.NoError(t, err)

	var v any
	require.NoError(t, Unmarshal(b, &v))
	assert.Equal(t, map[string]any{"a": []any{uint64(1), "b"}}, v)
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := Encode(v)
	require.NoError(t, err)
	return b
}
