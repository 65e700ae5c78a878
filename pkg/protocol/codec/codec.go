// Package codec provides the payload codecs messages may carry: JSON, CBOR
// and Protocol Buffers.
package codec

import "sync"

// Codec defines a simple interface for marshaling typed messages.
// Implementations should be deterministic and safe for cross-node exchange.
type Codec interface {
    ContentType() string
    Marshal(v any) ([]byte, error)
    Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct {
    mu     sync.RWMutex
    byType map[string]Codec
}

// NewRegistry constructs a registry preloaded with the codecs that need no
// initialization: JSON and Protobuf. CBOR is added by Default or Register.
func NewRegistry() *Registry {
    r := &Registry{byType: make(map[string]Codec)}
    r.Register(JSON())
    r.Register(Proto())
    return r
}

// Default returns a registry holding every built-in codec.
func Default() (*Registry, error) {
    r := NewRegistry()
    c, err := CBOR()
    if err != nil { return nil, err }
    r.Register(c)
    return r, nil
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) {
    r.mu.Lock(); defer r.mu.Unlock()
    r.byType[c.ContentType()] = c
}

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec {
    r.mu.RLock(); defer r.mu.RUnlock()
    return r.byType[contentType]
}
