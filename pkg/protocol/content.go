package protocol

import (
    "encoding/json"
    "fmt"

    "google.golang.org/protobuf/types/known/structpb"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol/codec"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// EncodeValue encodes an application value as message content. Plain Go
// values are carried as structpb.Value under FormatProto, so any format can
// hold any JSON-shaped value.
func EncodeValue(r *codec.Registry, f Format, v any) ([]byte, error) {
    if f != FormatProto {
        return EncodeBody(r, f, v)
    }
    pv, err := toStructValue(v)
    if err != nil { return nil, err }
    return EncodeBody(r, f, pv)
}

// DecodeValue decodes content produced by EncodeValue into out.
func DecodeValue(r *codec.Registry, content []byte, out any) (Format, error) {
    if len(content) > 0 && Format(content[0]) == FormatProto {
        var pv structpb.Value
        f, err := DecodeBody(r, content, &pv)
        if err != nil { return f, err }
        b, err := json.Marshal(pv.AsInterface())
        if err != nil { return f, err }
        return f, json.Unmarshal(b, out)
    }
    return DecodeBody(r, content, out)
}

func toStructValue(v any) (*structpb.Value, error) {
    // round-trip through JSON to reduce v to maps, slices and scalars
    b, err := json.Marshal(v)
    if err != nil { return nil, err }
    var generic any
    if err := json.Unmarshal(b, &generic); err != nil { return nil, err }
    pv, err := structpb.NewValue(generic)
    if err != nil { return nil, fmt.Errorf("proto value: %w", err) }
    return pv, nil
}

// EncodeSnapshot encodes a topology update. Snapshots always travel as CBOR.
func EncodeSnapshot(r *codec.Registry, s tree.Snapshot) ([]byte, error) {
    return EncodeBody(r, FormatCBOR, s)
}

// DecodeSnapshot decodes and validates a topology update.
func DecodeSnapshot(r *codec.Registry, content []byte) (tree.Snapshot, error) {
    var s tree.Snapshot
    if _, err := DecodeBody(r, content, &s); err != nil {
        return tree.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
    }
    if err := s.Validate(); err != nil { return tree.Snapshot{}, err }
    return s, nil
}
