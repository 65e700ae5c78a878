// Package memkv is a sharded, thread-safe in-memory key/value store with
// per-key TTL. A background goroutine evicts expired keys; reads also treat
// expired keys as missing. An optional byte budget (Options.MaxBytes) makes
// writes fail instead of growing past it.
//
// The node keeps its link registry and sent-message history here.
package memkv
