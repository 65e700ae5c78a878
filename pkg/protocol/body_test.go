package protocol

import (
    "bytes"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "google.golang.org/protobuf/types/known/structpb"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol/codec"
)

func TestEncodeDecodeBodyJSON(t *testing.T) {
    reg := codec.NewRegistry()
    b, err := EncodeBody(reg, FormatJSON, map[string]any{"x": 1, "y": "z"})
    require.NoError(t, err)
    assert.Equal(t, byte(FormatJSON), b[0])
    var out map[string]any
    f, err := DecodeBody(reg, b, &out)
    require.NoError(t, err)
    assert.Equal(t, FormatJSON, f)
    assert.Equal(t, "z", out["y"])
}

func TestEncodeDecodeBodyCBOR(t *testing.T) {
    // CBOR is not preloaded; CodecFor falls back to a fresh codec
    reg := codec.NewRegistry()
    buf := bytes.Repeat([]byte{0xAA}, 16)
    b, err := EncodeBody(reg, FormatCBOR, map[string][]byte{"buf": buf})
    require.NoError(t, err)
    var out map[string][]byte
    _, err = DecodeBody(reg, b, &out)
    require.NoError(t, err)
    assert.Equal(t, buf, out["buf"])
}

func TestEncodeDecodeBodyProto(t *testing.T) {
    reg := codec.NewRegistry()
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    require.NoError(t, err)
    b, err := EncodeBody(reg, FormatProto, s)
    require.NoError(t, err)
    var out structpb.Struct
    _, err = DecodeBody(reg, b, &out)
    require.NoError(t, err)
    assert.Equal(t, "v", out.Fields["k"].GetStringValue())
}

func TestDecodeBodyErrors(t *testing.T) {
    reg := codec.NewRegistry()
    var out any
    _, err := DecodeBody(reg, nil, &out)
    assert.Error(t, err)
    _, err = DecodeBody(reg, []byte{0x7f, 1, 2}, &out)
    assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
    for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "cbor": FormatCBOR, "protobuf": FormatProto} {
        f, err := ParseFormat(in)
        require.NoError(t, err)
        assert.Equal(t, want, f, in)
    }
    _, err := ParseFormat("xml")
    assert.Error(t, err)
}
