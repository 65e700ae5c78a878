package protocol

import (
    "fmt"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol/codec"
)

var wireCodec = mustCBOR()

func mustCBOR() codec.Codec {
    c, err := codec.CBOR()
    if err != nil {
        panic(err)
    }
    return c
}

// Marshal encodes m for a message frame.
func Marshal(m *Message) ([]byte, error) {
    b, err := wireCodec.Marshal(m)
    if err != nil { return nil, fmt.Errorf("encode message: %w", err) }
    return b, nil
}

// Unmarshal decodes a message frame payload.
func Unmarshal(b []byte) (*Message, error) {
    var m Message
    if err := wireCodec.Unmarshal(b, &m); err != nil {
        return nil, fmt.Errorf("decode message: %w", err)
    }
    return &m, nil
}
