package router

import (
    "sync"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol/codec"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

type recorder struct {
    NopObserver
    mu        sync.Mutex
    delivered []*protocol.Message
    received  []*protocol.Message
    forwarded []int
}

func (r *recorder) OnDelivered(m *protocol.Message) {
    r.mu.Lock(); defer r.mu.Unlock()
    r.delivered = append(r.delivered, m)
}

func (r *recorder) OnReceived(m *protocol.Message) {
    r.mu.Lock(); defer r.mu.Unlock()
    r.received = append(r.received, m)
}

func (r *recorder) OnForwarded(_ *protocol.Message, n int) {
    r.mu.Lock(); defer r.mu.Unlock()
    r.forwarded = append(r.forwarded, n)
}

// deliveredCode returns the delivered messages with the given code and status.
func (r *recorder) deliveredCode(c protocol.Code, s protocol.Status) []*protocol.Message {
    r.mu.Lock(); defer r.mu.Unlock()
    var out []*protocol.Message
    for _, m := range r.delivered {
        if m.Code == c && m.Status == s {
            out = append(out, m)
        }
    }
    return out
}

func (r *recorder) reset() {
    r.mu.Lock(); defer r.mu.Unlock()
    r.delivered, r.received, r.forwarded = nil, nil, nil
}

type node struct {
    *Router
    rec *recorder
}

func newNode(t *testing.T, id int) node {
    t.Helper()
    reg, err := codec.Default()
    require.NoError(t, err)
    r := New(tree.NewView(tree.NewNode(id, "test")), reg)
    rec := &recorder{}
    r.Subscribe(rec)
    return node{Router: r, rec: rec}
}

// chain builds a(root) - b - c.
func chain(t *testing.T) (a, b, c node) {
    a, b, c = newNode(t, 1), newNode(t, 2), newNode(t, 3)
    require.NoError(t, Join(a.Router, b.Router))
    require.NoError(t, Join(b.Router, c.Router))
    for _, n := range []node{a, b, c} {
        n.rec.reset()
    }
    return a, b, c
}

func text(from node, target *tree.Node) *protocol.Message {
    m := protocol.New(from.Self(), target, protocol.CodeText)
    m.Content = []byte("hi")
    return m
}

func TestJoinConvergesTopology(t *testing.T) {
    a, b, c := chain(t)
    for _, n := range []node{a, b, c} {
        assert.Equal(t, 3, n.View().Size(), "node %d", n.Self().ID)
        assert.Equal(t, 2, n.View().TotalConnections())
    }
    assert.True(t, a.View().Contains(b.Self().UniqueID, c.Self(), tree.ByUniqueID, a.Self().UniqueID))
}

func TestBroadcastReachesEveryNodeOnce(t *testing.T) {
    a, b, c := chain(t)
    m := text(a, nil)
    m.ExpectsResponse = false

    res := a.Originate(m)
    assert.True(t, res.Delivered)
    assert.Equal(t, 1, res.Forwarded)

    for _, n := range []node{a, b, c} {
        assert.Len(t, n.rec.deliveredCode(protocol.CodeText, protocol.StatusTransfer), 1, "node %d", n.Self().ID)
    }
    assert.Equal(t, []int{1}, b.rec.forwarded)
    assert.Empty(t, c.rec.forwarded)

    got := c.rec.deliveredCode(protocol.CodeText, protocol.StatusTransfer)[0]
    assert.Equal(t, protocol.Route{a.Self().UniqueID, b.Self().UniqueID}, got.Route)
    assert.Equal(t, b.Self(), got.Sender)
}

func TestBroadcastAcksReturnToOriginator(t *testing.T) {
    a, _, c := chain(t)
    a.Originate(text(a, nil))

    acks := a.rec.deliveredCode(protocol.CodeText, protocol.StatusReceived)
    require.Len(t, acks, 2)
    assert.Empty(t, c.rec.deliveredCode(protocol.CodeText, protocol.StatusReceived))
}

func TestLookForChildrenFollowsTarget(t *testing.T) {
    a, b, c := chain(t)
    d := newNode(t, 4)
    require.NoError(t, Join(a.Router, d.Router))
    for _, n := range []node{a, b, c, d} {
        n.rec.reset()
    }

    target := c.Self()
    m := text(d, &target)
    m.Transfer = protocol.LookForChildren
    m.Addressing = protocol.ByUniqueID
    res := d.Originate(m)
    assert.False(t, res.Delivered)
    assert.Equal(t, 1, res.Forwarded)

    assert.Len(t, c.rec.deliveredCode(protocol.CodeText, protocol.StatusTransfer), 1)
    assert.Empty(t, b.rec.deliveredCode(protocol.CodeText, protocol.StatusTransfer))
    assert.Len(t, b.rec.received, 2) // request and ack
    assert.Len(t, d.rec.deliveredCode(protocol.CodeText, protocol.StatusReceived), 1)
}

func TestLookForChildrenByID(t *testing.T) {
    a, _, c := chain(t)
    m := text(a, &tree.Node{ID: 3})
    m.Transfer = protocol.LookForChildren
    m.ExpectsResponse = false
    a.Originate(m)
    assert.Len(t, c.rec.deliveredCode(protocol.CodeText, protocol.StatusTransfer), 1)
}

func TestLookForChildrenUnknownTargetFailsAtOrigin(t *testing.T) {
    a, b, _ := chain(t)
    m := text(a, &tree.Node{ID: 42})
    m.Transfer = protocol.LookForChildren
    res := a.Originate(m)
    assert.Equal(t, 0, res.Forwarded)

    nacks := a.rec.deliveredCode(protocol.CodeText, protocol.StatusFailed)
    require.Len(t, nacks, 1)
    assert.Equal(t, m.ID, nacks[0].ID)
    assert.Empty(t, b.rec.received)
}

func TestDeadEndReturnsOneNack(t *testing.T) {
    a, b, c := chain(t)
    // broadcast towards a node nobody is: c is the dead end
    m := text(a, &tree.Node{ID: 42})
    a.Originate(m)

    nacks := a.rec.deliveredCode(protocol.CodeText, protocol.StatusFailed)
    require.Len(t, nacks, 1)
    assert.Equal(t, c.Self(), nacks[0].Source)
    assert.Empty(t, b.rec.deliveredCode(protocol.CodeText, protocol.StatusFailed))
}

func TestUseRouteReplaysPath(t *testing.T) {
    a, b, c := chain(t)
    target := a.Self()
    m := text(c, &target)
    m.Transfer = protocol.UseRoute
    m.Addressing = protocol.ByUniqueID
    m.ExpectsResponse = false
    m.Route = protocol.Route{a.Self().UniqueID, b.Self().UniqueID}

    res := c.Originate(m)
    assert.Equal(t, 1, res.Forwarded)
    assert.Len(t, a.rec.deliveredCode(protocol.CodeText, protocol.StatusTransfer), 1)

    // a route naming a non-neighbor goes nowhere
    bad := text(c, &target)
    bad.Transfer = protocol.UseRoute
    bad.ExpectsResponse = false
    bad.Route = protocol.Route{a.Self().UniqueID}
    assert.Equal(t, 0, c.Originate(bad).Forwarded)
}

func TestDetachPropagates(t *testing.T) {
    a, b, c := chain(t)
    p, ok := b.Peer(c.Self().UniqueID)
    require.True(t, ok)
    require.True(t, b.Detach(p, true))

    assert.Equal(t, 2, a.View().Size())
    assert.Equal(t, 2, b.View().Size())
    assert.False(t, b.Detach(p, true))

    // c's side of the link is gone once its own link is torn down
    up, ok := c.Peer(b.Self().UniqueID)
    require.True(t, ok)
    require.True(t, c.Detach(up, true))
    assert.True(t, c.View().IsRoot())
    assert.Equal(t, 1, c.View().Size())
}

func TestJoinRejectsCycle(t *testing.T) {
    a, _, c := chain(t)
    err := Join(c.Router, a.Router)
    require.ErrorIs(t, err, tree.ErrCycleDetected)
    assert.Equal(t, 3, c.View().Size())
}

func TestChanObserverDropsWhenFull(t *testing.T) {
    obs := NewChanObserver(1)
    obs.OnDelivered(&protocol.Message{})
    obs.OnDelivered(&protocol.Message{})
    assert.Equal(t, uint64(1), obs.Dropped())
    ev := <-obs.Events()
    assert.Equal(t, EventDelivered, ev.Kind)
}
