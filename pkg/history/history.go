// Package history records the messages this node originated so other nodes
// can ask for them.
package history

import (
    "encoding/json"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/memkv"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
)

// Entry is one sent message as listed to other nodes.
type Entry struct {
    Seq      uint64    `json:"seq" cbor:"seq"`
    ID       uuid.UUID `json:"id" cbor:"id"`
    Code     string    `json:"code" cbor:"code"`
    Target   string    `json:"target" cbor:"target"`
    Transfer string    `json:"transfer" cbor:"transfer"`
    Text     string    `json:"text,omitempty" cbor:"text,omitempty"`
    Status   string    `json:"status" cbor:"status"`
    SentAt   int64     `json:"sent_unix_ms" cbor:"sent_unix_ms"`
}

// Store keeps at most max entries, each for at most ttl.
type Store struct {
    kv  *memkv.Store
    max int
    ttl time.Duration

    mu  sync.Mutex
    seq uint64
}

// New creates a history backed by kv. max <= 0 keeps everything.
func New(kv *memkv.Store, max int, ttl time.Duration) *Store {
    return &Store{kv: kv, max: max, ttl: ttl}
}

func key(id uuid.UUID) string { return "msg:" + id.String() }

// Record stores m with a human-readable summary of its content.
func (s *Store) Record(m *protocol.Message, text string) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.seq++
    target := "*"
    if m.Target != nil {
        target = m.Target.String()
    }
    e := Entry{
        Seq:      s.seq,
        ID:       m.ID,
        Code:     m.Code.String(),
        Target:   target,
        Transfer: m.Transfer.String(),
        Text:     text,
        Status:   m.Status.String(),
        SentAt:   time.Now().UnixMilli(),
    }
    b, _ := json.Marshal(e)
    s.kv.Set(key(m.ID), b, s.ttl)
    s.trimLocked()
}

// Resolve stores the outcome reported by an acknowledgement or failure.
func (s *Store) Resolve(id uuid.UUID, status protocol.Status) bool {
    return s.kv.Update(key(id), func(old []byte) []byte {
        var e Entry
        if json.Unmarshal(old, &e) != nil {
            return old
        }
        e.Status = status.String()
        b, _ := json.Marshal(e)
        return b
    })
}

// List returns the recorded entries, oldest first.
func (s *Store) List() []Entry {
    var out []Entry
    for _, k := range s.kv.Keys("msg:") {
        b, ok := s.kv.Get(k)
        if !ok {
            continue
        }
        var e Entry
        if json.Unmarshal(b, &e) == nil {
            out = append(out, e)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
    return out
}

func (s *Store) trimLocked() {
    if s.max <= 0 {
        return
    }
    all := s.List()
    for i := 0; i < len(all)-s.max; i++ {
        s.kv.Delete(key(all[i].ID))
    }
}
