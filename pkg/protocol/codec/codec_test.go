package codec

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "google.golang.org/protobuf/types/known/structpb"
)

func TestJSONCodec(t *testing.T) {
    c := JSON()
    b, err := c.Marshal(map[string]any{"a": 1, "b": "x"})
    require.NoError(t, err)
    var out map[string]any
    require.NoError(t, c.Unmarshal(b, &out))
    assert.Equal(t, float64(1), out["a"])
    assert.Equal(t, "x", out["b"])
}

func TestCBORCodecIsDeterministic(t *testing.T) {
    c, err := CBOR()
    require.NoError(t, err)
    in := map[string]int{"z": 1, "a": 2, "m": 3}
    b1, err := c.Marshal(in)
    require.NoError(t, err)
    b2, err := c.Marshal(in)
    require.NoError(t, err)
    assert.Equal(t, b1, b2)

    var out map[string]int
    require.NoError(t, c.Unmarshal(b1, &out))
    assert.Equal(t, in, out)
}

func TestProtoCodec(t *testing.T) {
    c := Proto()
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    require.NoError(t, err)
    b, err := c.Marshal(s)
    require.NoError(t, err)
    var out structpb.Struct
    require.NoError(t, c.Unmarshal(b, &out))
    assert.Equal(t, "v", out.Fields["k"].GetStringValue())

    _, err = c.Marshal("not a proto")
    assert.Error(t, err)
}

func TestDefaultRegistry(t *testing.T) {
    r, err := Default()
    require.NoError(t, err)
    for _, ct := range []string{"application/json", "application/cbor", "application/x-protobuf"} {
        assert.NotNil(t, r.Get(ct), ct)
    }
    assert.Nil(t, NewRegistry().Get("application/cbor"))
}
