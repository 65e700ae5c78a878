// Package transport carries the tree protocol over TCP byte streams.
//
// Every frame starts with one code byte:
//
//   1   connect request, followed by a length-prefixed snapshot
//   2   connect accepted, followed by a length-prefixed snapshot
//   3   connect denied: the link would create a cycle
//   4   connect denied: the tree would exceed its ceiling
//   6   message, followed by a length-prefixed encoded message
//   92  keep-alive, no payload
//
// Lengths are u32 little-endian. A Link owns an established connection: one
// goroutine reads, one writes queued frames in order, one runs the
// keep-alive cycle.
package transport
