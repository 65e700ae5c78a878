// Package peers keeps per-link metadata and traffic counters for the
// neighbors of the local node.
package peers

import (
    "encoding/json"
    "sort"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/memkv"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// downTTL is how long a torn-down link stays listed.
const downTTL = 10 * time.Minute

// Role is the position of a neighbor relative to the local node.
type Role string

const (
    RoleParent Role = "parent"
    RoleChild  Role = "child"
)

// PeerMeta is what the node remembers about one link.
type PeerMeta struct {
    Node      tree.Node `json:"node"`
    Address   string    `json:"address,omitempty"`
    Role      Role      `json:"role"`
    Connected bool      `json:"connected"`
    Since     int64     `json:"since_unix_ms"`
    LastSeen  int64     `json:"last_seen_unix_ms"`
    DownError string    `json:"down_error,omitempty"`
    // Counters
    MsgsIn        uint64 `json:"msgs_in"`
    MsgsOut       uint64 `json:"msgs_out"`
    BytesIn       uint64 `json:"bytes_in"`
    BytesOut      uint64 `json:"bytes_out"`
    KeepAlivesIn  uint64 `json:"keepalives_in"`
    KeepAlivesOut uint64 `json:"keepalives_out"`
}

// Store persists peer metadata in the in-memory KV as JSON documents.
type Store struct {
    kv *memkv.Store
}

func NewStore(kv *memkv.Store) *Store { return &Store{kv: kv} }

func keyPeer(uid uuid.UUID) string { return "peer:" + uid.String() }

// Connected records a freshly established link.
func (s *Store) Connected(n tree.Node, addr string, role Role) {
    now := time.Now().UnixMilli()
    meta := PeerMeta{Node: n, Address: addr, Role: role, Connected: true, Since: now, LastSeen: now}
    b, _ := json.Marshal(meta)
    s.kv.Set(keyPeer(n.UniqueID), b, 0)
    zap.L().Debug("peer connected", zap.Stringer("peer", n), zap.String("addr", addr), zap.String("role", string(role)))
}

// Get returns the metadata of the link to uid.
func (s *Store) Get(uid uuid.UUID) (PeerMeta, bool) {
    b, ok := s.kv.Get(keyPeer(uid))
    if !ok { return PeerMeta{}, false }
    var pm PeerMeta
    if err := json.Unmarshal(b, &pm); err != nil { return PeerMeta{}, false }
    return pm, true
}

func (s *Store) update(uid uuid.UUID, fn func(*PeerMeta)) {
    _ = s.kv.Update(keyPeer(uid), func(old []byte) []byte {
        var pm PeerMeta
        _ = json.Unmarshal(old, &pm)
        fn(&pm)
        b, _ := json.Marshal(pm)
        return b
    })
}

// RecordExchange adds frame and byte counters and refreshes last-seen when
// anything arrived.
func (s *Store) RecordExchange(uid uuid.UUID, inBytes, outBytes, inMsgs, outMsgs uint64) {
    s.update(uid, func(pm *PeerMeta) {
        pm.MsgsIn += inMsgs
        pm.MsgsOut += outMsgs
        pm.BytesIn += inBytes
        pm.BytesOut += outBytes
        if inBytes > 0 {
            pm.LastSeen = time.Now().UnixMilli()
        }
    })
}

// RecordKeepAlive counts keep-alive bytes in each direction.
func (s *Store) RecordKeepAlive(uid uuid.UUID, in, out uint64) {
    s.update(uid, func(pm *PeerMeta) {
        pm.KeepAlivesIn += in
        pm.KeepAlivesOut += out
        if in > 0 {
            pm.LastSeen = time.Now().UnixMilli()
        }
    })
}

// Disconnected marks the link as down; the entry expires after a while.
func (s *Store) Disconnected(uid uuid.UUID, cause error) {
    s.update(uid, func(pm *PeerMeta) {
        pm.Connected = false
        if cause != nil {
            pm.DownError = cause.Error()
        }
    })
    _ = s.kv.Expire(keyPeer(uid), downTTL)
    zap.L().Debug("peer disconnected", zap.String("peer", uid.String()), zap.Error(cause))
}

// List returns every known link, connected ones first, then by node id.
func (s *Store) List() []PeerMeta {
    var out []PeerMeta
    for _, k := range s.kv.Keys("peer:") {
        b, ok := s.kv.Get(k)
        if !ok { continue }
        var pm PeerMeta
        if json.Unmarshal(b, &pm) == nil {
            out = append(out, pm)
        }
    }
    sort.SliceStable(out, func(i, j int) bool {
        if out[i].Connected != out[j].Connected {
            return out[i].Connected
        }
        return out[i].Node.ID < out[j].Node.ID
    })
    return out
}
