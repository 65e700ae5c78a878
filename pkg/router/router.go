// Package router dispatches messages through the tree: it decides whether a
// message is delivered locally, picks the neighbors that receive a copy and
// turns dead ends into failure reports.
package router

import (
    "errors"
    "fmt"
    "sync"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol/codec"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// ErrUnknownPeer is returned when a peer is not registered with the router.
var ErrUnknownPeer = errors.New("router: unknown peer")

// Peer is a neighbor the router can hand messages to. Implementations are an
// in-process router (LocalPeer) or a socket-backed link.
type Peer interface {
    Node() tree.Node
    Send(msg *protocol.Message) error
}

// Result describes what happened to a message at this node.
type Result struct {
    Delivered bool
    Forwarded int
}

// Router is the per-node message dispatcher. Neighbors are registered
// together with the tree link they represent.
type Router struct {
    view *tree.View
    reg  *codec.Registry

    mu    sync.RWMutex
    peers map[uuid.UUID]Peer

    obsMu     sync.RWMutex
    observers []Observer
}

// New creates a router over view. reg encodes topology updates.
func New(view *tree.View, reg *codec.Registry) *Router {
    if reg == nil {
        reg = codec.NewRegistry()
    }
    return &Router{view: view, reg: reg, peers: make(map[uuid.UUID]Peer)}
}

func (r *Router) Self() tree.Node          { return r.view.Self() }
func (r *Router) View() *tree.View         { return r.view }
func (r *Router) Snapshot() tree.Snapshot  { return r.view.Snapshot() }
func (r *Router) Registry() *codec.Registry { return r.reg }

// Subscribe registers an observer for routing and topology events.
func (r *Router) Subscribe(o Observer) {
    r.obsMu.Lock(); defer r.obsMu.Unlock()
    r.observers = append(r.observers, o)
}

// Peer returns the registered neighbor with the given unique id.
func (r *Router) Peer(uid uuid.UUID) (Peer, bool) {
    r.mu.RLock(); defer r.mu.RUnlock()
    p, ok := r.peers[uid]
    return p, ok
}

// Peers returns the registered neighbors, parent first.
func (r *Router) Peers() []Peer {
    var out []Peer
    for _, n := range r.view.Neighbors() {
        if p, ok := r.Peer(n.UniqueID); ok {
            out = append(out, p)
        }
    }
    return out
}

// AttachParent links the node described by s as parent and registers p as
// its neighbor. With notify set, the new shape is broadcast.
func (r *Router) AttachParent(p Peer, s tree.Snapshot, notify bool) error {
    if err := r.view.SetParent(s); err != nil { return err }
    r.register(p, s.Root)
    zap.L().Info("parent attached", zap.Stringer("parent", s.Node()))
    r.changed(notify)
    return nil
}

// AttachChild links the node described by s as child and registers p as its
// neighbor. With notify set, the new shape is broadcast.
func (r *Router) AttachChild(p Peer, s tree.Snapshot, notify bool) error {
    if err := r.view.AddChild(s); err != nil { return err }
    r.register(p, s.Root)
    zap.L().Info("child attached", zap.Stringer("child", s.Node()))
    r.changed(notify)
    return nil
}

// Detach removes the tree edge represented by p. Detaching a peer that was
// replaced or never registered is a no-op.
func (r *Router) Detach(p Peer, notify bool) bool {
    uid := p.Node().UniqueID
    r.mu.Lock()
    if cur, ok := r.peers[uid]; !ok || cur != p {
        r.mu.Unlock()
        return false
    }
    delete(r.peers, uid)
    r.mu.Unlock()

    var removed bool
    if parent, ok := r.view.Parent(); ok && parent.UniqueID == uid {
        removed = r.view.RemoveParent()
    } else {
        removed = r.view.RemoveChild(uid)
    }
    if removed {
        zap.L().Info("neighbor detached", zap.Stringer("peer", p.Node()))
        r.changed(notify)
    }
    return removed
}

func (r *Router) register(p Peer, uid uuid.UUID) {
    r.mu.Lock(); defer r.mu.Unlock()
    r.peers[uid] = p
}

func (r *Router) changed(notify bool) {
    r.emitTopology(r.view.Snapshot())
    if notify {
        r.NotifyUpdated()
    }
}

// NotifyUpdated broadcasts the local snapshot to every node of the tree by
// sending a node update to itself.
func (r *Router) NotifyUpdated() {
    self := r.Self()
    msg := protocol.New(self, nil, protocol.CodeNodesUpdate)
    msg.ExpectsResponse = false
    content, err := protocol.EncodeSnapshot(r.reg, r.view.Snapshot())
    if err != nil {
        zap.L().Error("encode snapshot", zap.Error(err))
        return
    }
    msg.Content = content
    r.Receive(msg)
}

// Originate injects a message created by this node. The sender is stamped
// and the message takes the same path as one received from a neighbor.
func (r *Router) Originate(msg *protocol.Message) Result {
    self := r.Self()
    if msg.Source.IsZero() {
        msg.Source = self
    }
    msg.Sender = self
    return r.Receive(msg)
}

// Receive runs the dispatch state machine for msg: deliver when this node is
// a recipient, forward a copy, then acknowledge or report a dead end.
func (r *Router) Receive(msg *protocol.Message) Result {
    self := r.Self()
    cmp := msg.Addressing.Comparator()
    terminal := (msg.Target != nil && cmp(self, *msg.Target)) ||
        (msg.Target == nil && msg.Transfer == protocol.Broadcast)
    local := msg.Source.UniqueID == self.UniqueID

    out := msg.Copy()
    var res Result
    if terminal {
        r.deliver(self, msg, out)
        res.Delivered = true
    } else {
        r.emit(func(o Observer) { o.OnReceived(msg) })
    }

    res.Forwarded = r.Transfer(out)
    if res.Forwarded > 0 {
        r.emit(func(o Observer) { o.OnForwarded(msg, res.Forwarded) })
    }

    switch {
    case terminal && msg.ExpectsResponse && !local:
        r.respond(self, msg.Reply(self, false))
    case !terminal && res.Forwarded == 0 && msg.ExpectsResponse:
        zap.L().Debug("dead end", zap.Stringer("msg", msg))
        r.respond(self, msg.Reply(self, true))
    }
    return res
}

func (r *Router) deliver(self tree.Node, msg, out *protocol.Message) {
    if msg.Code == protocol.CodeNodesUpdate && msg.Status == protocol.StatusTransfer {
        r.merge(self, msg, out)
    }
    zap.L().Debug("deliver", zap.Stringer("msg", msg))
    r.emit(func(o Observer) { o.OnDelivered(msg) })
}

// merge absorbs a node update. On success the forwarded copy carries this
// node's own snapshot, so every hop hands its direct neighbors an update
// about a direct neighbor. The root restarts the flood towards all of its
// neighbors.
func (r *Router) merge(self tree.Node, msg, out *protocol.Message) {
    s, err := protocol.DecodeSnapshot(r.reg, msg.Content)
    if err != nil {
        zap.L().Warn("bad node update", zap.Stringer("from", msg.Sender), zap.Error(err))
        return
    }
    if !r.view.Merge(s) {
        return
    }
    snap := r.view.Snapshot()
    content, err := protocol.EncodeSnapshot(r.reg, snap)
    if err != nil {
        zap.L().Error("encode snapshot", zap.Error(err))
        return
    }
    out.Content = content
    if r.view.IsRoot() {
        out.Sender = self
    }
    r.emitTopology(snap)
}

// respond routes an acknowledgement or failure report. Replies addressed to
// this node itself are delivered in place.
func (r *Router) respond(self tree.Node, reply *protocol.Message) {
    if reply.Target != nil && reply.Target.UniqueID == self.UniqueID {
        r.emit(func(o Observer) { o.OnDelivered(reply) })
        return
    }
    if n := r.Transfer(reply); n == 0 {
        zap.L().Debug("reply dropped", zap.Stringer("msg", reply))
    }
}

// Transfer forwards msg to the neighbors selected by its transfer type and
// returns the number of copies handed off. msg is consumed.
func (r *Router) Transfer(msg *protocol.Message) int {
    self := r.Self()
    switch msg.Transfer {
    case protocol.UseRoute:
        next, ok := msg.Route.Pop()
        if !ok {
            return 0
        }
        p, ok := r.neighbor(next)
        if !ok {
            return 0
        }
        c := msg.Copy()
        c.Sender = self
        return r.send(p, c)

    case protocol.Broadcast:
        n := 0
        for _, p := range r.Peers() {
            if p.Node().UniqueID == msg.Sender.UniqueID {
                continue
            }
            n += r.send(p, r.hop(self, msg))
        }
        return n

    case protocol.LookForChildren:
        if msg.Target == nil {
            return 0
        }
        cmp := msg.Addressing.Comparator()
        n := 0
        for _, p := range r.Peers() {
            uid := p.Node().UniqueID
            if uid == msg.Sender.UniqueID {
                continue
            }
            if !r.view.Contains(uid, *msg.Target, cmp, self.UniqueID) {
                continue
            }
            n += r.send(p, r.hop(self, msg))
        }
        return n

    default:
        zap.L().Warn("unknown transfer type", zap.Stringer("transfer", msg.Transfer))
        return 0
    }
}

// hop prepares the copy handed to one neighbor.
func (r *Router) hop(self tree.Node, msg *protocol.Message) *protocol.Message {
    c := msg.Copy()
    c.Route.Push(self.UniqueID)
    c.Sender = self
    return c
}

func (r *Router) neighbor(uid uuid.UUID) (Peer, bool) {
    for _, n := range r.view.Neighbors() {
        if n.UniqueID == uid {
            return r.Peer(uid)
        }
    }
    return nil, false
}

func (r *Router) send(p Peer, msg *protocol.Message) int {
    if err := p.Send(msg); err != nil {
        zap.L().Warn("send failed", zap.Stringer("peer", p.Node()), zap.Stringer("msg", msg), zap.Error(err))
        return 0
    }
    return 1
}

func (r *Router) emit(fn func(Observer)) {
    r.obsMu.RLock()
    obs := append([]Observer(nil), r.observers...)
    r.obsMu.RUnlock()
    for _, o := range obs {
        fn(o)
    }
}

func (r *Router) emitTopology(s tree.Snapshot) {
    r.emit(func(o Observer) { o.OnTopologyChanged(s) })
}

func (res Result) String() string {
    return fmt.Sprintf("delivered=%t forwarded=%d", res.Delivered, res.Forwarded)
}
