package tree

import (
    "fmt"

    "github.com/google/uuid"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol/codec"
)

// SnapshotVersion is the schema version written into every snapshot.
const SnapshotVersion = 1

// Record is one row of the tree table.
type Record struct {
    Node     Node        `cbor:"node" json:"node"`
    Parent   uuid.UUID   `cbor:"parent" json:"parent"`
    Children []uuid.UUID `cbor:"children,omitempty" json:"children,omitempty"`
}

// HasParent reports whether the record links upstream.
func (r Record) HasParent() bool { return r.Parent != uuid.Nil }

func (r Record) clone() Record {
    out := r
    out.Children = append([]uuid.UUID(nil), r.Children...)
    return out
}

// Snapshot is the serializable form of a view as seen from Root: every
// record reachable from Root, with live links.
type Snapshot struct {
    Version int       `cbor:"v" json:"version"`
    Root    uuid.UUID `cbor:"root" json:"root"`
    Records []Record  `cbor:"records" json:"records"`
}

// Node returns the identity of the node the snapshot describes.
func (s Snapshot) Node() Node {
    if r, ok := s.Lookup(s.Root); ok {
        return r.Node
    }
    return Node{UniqueID: s.Root}
}

// Lookup returns the record for uid.
func (s Snapshot) Lookup(uid uuid.UUID) (Record, bool) {
    for _, r := range s.Records {
        if r.Node.UniqueID == uid {
            return r, true
        }
    }
    return Record{}, false
}

// Ancestors returns the unique ids above uid, nearest first.
func (s Snapshot) Ancestors(uid uuid.UUID) []uuid.UUID {
    idx := s.index()
    var out []uuid.UUID
    seen := map[uuid.UUID]bool{uid: true}
    for r, ok := idx[uid]; ok && r.HasParent(); r, ok = idx[r.Parent] {
        if seen[r.Parent] {
            break
        }
        seen[r.Parent] = true
        out = append(out, r.Parent)
    }
    return out
}

func (s Snapshot) index() map[uuid.UUID]Record {
    idx := make(map[uuid.UUID]Record, len(s.Records))
    for _, r := range s.Records {
        idx[r.Node.UniqueID] = r
    }
    return idx
}

// Validate checks that the snapshot is a well-formed tree containing Root.
func (s Snapshot) Validate() error {
    if s.Version != SnapshotVersion {
        return fmt.Errorf("%w: version %d", ErrBadSnapshot, s.Version)
    }
    idx := s.index()
    if len(idx) != len(s.Records) {
        return fmt.Errorf("%w: duplicate records", ErrBadSnapshot)
    }
    if _, ok := idx[s.Root]; !ok {
        return fmt.Errorf("%w: root %s missing", ErrBadSnapshot, s.Root)
    }
    for _, r := range s.Records {
        if r.Node.UniqueID == uuid.Nil {
            return fmt.Errorf("%w: record without unique id", ErrBadSnapshot)
        }
        // walking up must terminate within the record count
        steps := 0
        for cur, ok := r, true; ok && cur.HasParent(); cur, ok = idx[cur.Parent] {
            steps++
            if steps > len(s.Records) {
                return fmt.Errorf("%w: parent cycle at %s", ErrBadSnapshot, r.Node.UniqueID)
            }
        }
    }
    return nil
}

var snapshotCodec = mustCBOR()

func mustCBOR() codec.Codec {
    c, err := codec.CBOR()
    if err != nil {
        panic(err)
    }
    return c
}

// Marshal encodes the snapshot in its versioned binary schema.
func (s Snapshot) Marshal() ([]byte, error) { return snapshotCodec.Marshal(s) }

// UnmarshalSnapshot decodes and validates a snapshot produced by Marshal.
func UnmarshalSnapshot(b []byte) (Snapshot, error) {
    var s Snapshot
    if err := snapshotCodec.Unmarshal(b, &s); err != nil {
        return Snapshot{}, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
    }
    if err := s.Validate(); err != nil {
        return Snapshot{}, err
    }
    return s, nil
}
