package router

import (
    "sync/atomic"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// Observer is notified of routing and topology events. Callbacks run on the
// goroutine that handled the message and must not block.
type Observer interface {
    // OnReceived is called for messages passing through without being delivered.
    OnReceived(msg *protocol.Message)
    // OnDelivered is called for messages addressed to this node, including
    // acknowledgements and failure reports.
    OnDelivered(msg *protocol.Message)
    OnForwarded(msg *protocol.Message, copies int)
    OnTopologyChanged(s tree.Snapshot)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnReceived(*protocol.Message)       {}
func (NopObserver) OnDelivered(*protocol.Message)      {}
func (NopObserver) OnForwarded(*protocol.Message, int) {}
func (NopObserver) OnTopologyChanged(tree.Snapshot)    {}

// EventKind identifies an Event.
type EventKind uint8

const (
    EventReceived EventKind = iota + 1
    EventDelivered
    EventForwarded
    EventTopologyChanged
)

// Event is one observer callback captured as a value.
type Event struct {
    Kind     EventKind
    Message  *protocol.Message
    Copies   int
    Snapshot tree.Snapshot
}

// ChanObserver publishes events on a bounded channel. Events are dropped
// when the channel is full.
type ChanObserver struct {
    ch      chan Event
    dropped atomic.Uint64
}

// NewChanObserver creates an observer with a channel of the given capacity.
func NewChanObserver(size int) *ChanObserver {
    if size <= 0 {
        size = 64
    }
    return &ChanObserver{ch: make(chan Event, size)}
}

// Events returns the channel events are published on.
func (c *ChanObserver) Events() <-chan Event { return c.ch }

// Dropped returns how many events did not fit into the channel.
func (c *ChanObserver) Dropped() uint64 { return c.dropped.Load() }

func (c *ChanObserver) publish(e Event) {
    select {
    case c.ch <- e:
    default:
        c.dropped.Add(1)
    }
}

func (c *ChanObserver) OnReceived(msg *protocol.Message) {
    c.publish(Event{Kind: EventReceived, Message: msg})
}

func (c *ChanObserver) OnDelivered(msg *protocol.Message) {
    c.publish(Event{Kind: EventDelivered, Message: msg})
}

func (c *ChanObserver) OnForwarded(msg *protocol.Message, copies int) {
    c.publish(Event{Kind: EventForwarded, Message: msg, Copies: copies})
}

func (c *ChanObserver) OnTopologyChanged(s tree.Snapshot) {
    c.publish(Event{Kind: EventTopologyChanged, Snapshot: s})
}
