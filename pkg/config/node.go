package config

import "time"

// NodeConfig is the local identity. The unique id is generated per process.
type NodeConfig struct {
    ID int `mapstructure:"id"`
    // Cluster defaults to the host name
    Cluster string `mapstructure:"cluster"`
}

// ListenConfig describes the inbound listener.
type ListenConfig struct {
    Host string `mapstructure:"host"`
    Port int    `mapstructure:"port"`
}

// TreeConfig is the admission policy.
type TreeConfig struct {
    Ceiling int `mapstructure:"ceiling"`
}

// ContentConfig selects the application payload encoding: json, cbor or proto.
type ContentConfig struct {
    Format string `mapstructure:"format"`
}

// HistoryConfig bounds the sent-message history served to other nodes.
type HistoryConfig struct {
    MaxEntries int `mapstructure:"max_entries"`
    TTLSec     int `mapstructure:"ttl_sec"`
}

// TTL is the lifetime of one history entry; 0 keeps entries until trimmed.
func (h HistoryConfig) TTL() time.Duration { return time.Duration(h.TTLSec) * time.Second }

// PrimeConfig locates the prime worker executable.
type PrimeConfig struct {
    Path string `mapstructure:"path"`
}
