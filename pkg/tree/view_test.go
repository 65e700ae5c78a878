package tree

import (
    "testing"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func newView(id int, opts ...Option) *View {
    return NewView(NewNode(id, "host"), opts...)
}

// link performs both sides of a handshake: the parent adopts the child, then
// the child attaches to the parent's post-adoption snapshot.
func link(t *testing.T, parent, child *View) {
    t.Helper()
    require.NoError(t, parent.AddChild(child.Snapshot()))
    require.NoError(t, child.SetParent(parent.Snapshot()))
}

func TestLinkBothSides(t *testing.T) {
    a, b := newView(1), newView(2)
    link(t, a, b)

    p, ok := b.Parent()
    require.True(t, ok)
    assert.Equal(t, a.Self(), p)
    assert.Equal(t, []Node{b.Self()}, a.Children())
    assert.True(t, a.IsRoot())
    assert.False(t, b.IsRoot())
    assert.Equal(t, 1, a.TotalConnections())
    assert.Equal(t, 1, b.TotalConnections())
}

func TestSetParentRejectsCycle(t *testing.T) {
    a, b := newView(1), newView(2)
    link(t, a, b)
    before := a.Snapshot()

    err := a.SetParent(b.Snapshot())
    require.ErrorIs(t, err, ErrCycleDetected)
    assert.Equal(t, before, a.Snapshot())
}

func TestSetParentRejectsSecondParent(t *testing.T) {
    a, b, c := newView(1), newView(2), newView(3)
    link(t, a, b)
    err := b.SetParent(c.Snapshot())
    require.ErrorIs(t, err, ErrParentExists)
}

func TestAddChildRejectsAncestor(t *testing.T) {
    a, b, c := newView(1), newView(2), newView(3)
    link(t, a, b)
    link(t, b, c)
    before := c.Snapshot()

    err := c.AddChild(a.Snapshot())
    require.ErrorIs(t, err, ErrCycleDetected)
    assert.Equal(t, before, c.Snapshot())

    err = c.AddChild(c.Snapshot())
    require.ErrorIs(t, err, ErrCycleDetected)
}

func TestAddChildRejectsKnownNode(t *testing.T) {
    a, b := newView(1), newView(2)
    link(t, a, b)
    err := a.AddChild(b.Snapshot())
    require.ErrorIs(t, err, ErrCycleDetected)
    assert.Len(t, a.Children(), 1)
}

func TestCapacityCeiling(t *testing.T) {
    root := newView(0, WithCeiling(DefaultCeiling))
    for i := 1; i < DefaultCeiling; i++ {
        require.NoError(t, root.AddChild(newView(i).Snapshot()), "child %d", i)
    }
    assert.Equal(t, DefaultCeiling, root.Size())
    assert.Equal(t, DefaultCeiling-1, root.TotalConnections())

    before := root.Snapshot()
    err := root.AddChild(newView(99).Snapshot())
    require.ErrorIs(t, err, ErrCapacityExceeded)
    assert.Equal(t, before, root.Snapshot())
}

func TestCapacityCountsCandidateTree(t *testing.T) {
    big := newView(0, WithCeiling(4))
    big.AddChild(newView(1).Snapshot())
    big.AddChild(newView(2).Snapshot())

    other := newView(10, WithCeiling(4))
    require.NoError(t, other.AddChild(newView(11).Snapshot()))

    // 3 local + 2 incoming > 4
    err := big.AddChild(other.Snapshot())
    require.ErrorIs(t, err, ErrCapacityExceeded)
    err = other.SetParent(big.Snapshot())
    require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestTotalConnectionsFromAnyNode(t *testing.T) {
    a, b, c := newView(1), newView(2), newView(3)
    link(t, a, b)
    link(t, b, c)

    assert.Equal(t, 2, c.TotalConnections())
    assert.Equal(t, 2, b.TotalConnections())
    // a has not heard about c yet
    assert.Equal(t, 1, a.TotalConnections())
    require.True(t, a.Merge(b.Snapshot()))
    assert.Equal(t, 2, a.TotalConnections())
}

func TestContainsWalksBothDirections(t *testing.T) {
    a, b, c, d := newView(1), newView(2), newView(3), newView(4)
    link(t, a, b)
    link(t, b, c)
    link(t, a, d)
    require.True(t, b.Merge(a.Snapshot()))

    self := b.Self().UniqueID
    pa, _ := b.Parent()
    assert.True(t, b.Contains(pa.UniqueID, d.Self(), ByUniqueID, self))
    assert.True(t, b.Contains(pa.UniqueID, a.Self(), ByUniqueID, self))
    assert.False(t, b.Contains(pa.UniqueID, c.Self(), ByUniqueID, self))
    assert.True(t, b.Contains(c.Self().UniqueID, c.Self(), ByUniqueID, self))
    assert.True(t, b.Contains(pa.UniqueID, Node{ID: 4}, ByID, self))
    assert.False(t, b.Contains(pa.UniqueID, Node{ID: 42}, ByID, self))
}

func TestMergeIgnoresNonNeighbors(t *testing.T) {
    a, b, c := newView(1), newView(2), newView(3)
    link(t, a, b)
    link(t, b, c)

    before := a.Snapshot()
    assert.False(t, a.Merge(c.Snapshot()))
    assert.False(t, a.Merge(a.Snapshot()))
    assert.Equal(t, before, a.Snapshot())
}

func TestMergeKeepsLocalEdges(t *testing.T) {
    a, b := newView(1), newView(2)
    link(t, a, b)

    // a stale update from b claiming no parent must not detach b from a
    stale := newView(2)
    s := stale.Snapshot()
    s.Root = b.Self().UniqueID
    s.Records[0].Node = b.Self()
    require.True(t, a.Merge(s))
    assert.Equal(t, []Node{b.Self()}, a.Children())
    assert.Equal(t, 1, a.TotalConnections())
}

func TestMergeReplacesNeighborSide(t *testing.T) {
    a, b, c := newView(1), newView(2), newView(3)
    link(t, a, b)
    link(t, b, c)
    require.True(t, a.Merge(b.Snapshot()))
    assert.Equal(t, 3, a.Size())

    require.True(t, b.RemoveChild(c.Self().UniqueID))
    require.True(t, a.Merge(b.Snapshot()))
    assert.Equal(t, 2, a.Size())
    _, ok := a.Lookup(c.Self().UniqueID)
    assert.False(t, ok)
}

func TestRemoveParentPrunesUpstream(t *testing.T) {
    a, b, c := newView(1), newView(2), newView(3)
    link(t, a, b)
    link(t, b, c)

    assert.False(t, a.RemoveParent())
    require.True(t, c.RemoveParent())
    assert.True(t, c.IsRoot())
    assert.Equal(t, 1, c.Size())
    assert.False(t, c.RemoveChild(uuid.New()))
}

func TestSnapshotRoundTrip(t *testing.T) {
    a, b, c := newView(1), newView(2), newView(3)
    link(t, a, b)
    link(t, b, c)

    in := b.Snapshot()
    raw, err := in.Marshal()
    require.NoError(t, err)
    out, err := UnmarshalSnapshot(raw)
    require.NoError(t, err)

    assert.Equal(t, in.Root, out.Root)
    assert.Equal(t, b.Self(), out.Node())
    require.Len(t, out.Records, len(in.Records))
    for _, r := range in.Records {
        got, ok := out.Lookup(r.Node.UniqueID)
        require.True(t, ok)
        assert.Equal(t, r.Node, got.Node)
        assert.Equal(t, r.Parent, got.Parent)
        assert.ElementsMatch(t, r.Children, got.Children)
    }
}

func TestUnmarshalSnapshotRejectsBadInput(t *testing.T) {
    _, err := UnmarshalSnapshot([]byte{0xff, 0x00})
    require.ErrorIs(t, err, ErrBadSnapshot)

    s := newView(1).Snapshot()
    s.Version = 99
    raw, err := s.Marshal()
    require.NoError(t, err)
    _, err = UnmarshalSnapshot(raw)
    require.ErrorIs(t, err, ErrBadSnapshot)

    s = newView(1).Snapshot()
    s.Root = uuid.New()
    require.ErrorIs(t, s.Validate(), ErrBadSnapshot)
}

func TestFindByID(t *testing.T) {
    a, b := newView(1), newView(2)
    link(t, a, b)
    n, ok := b.Find(Node{ID: 1}, ByID)
    require.True(t, ok)
    assert.Equal(t, a.Self(), n)
    _, ok = b.Find(Node{ID: 7}, ByID)
    assert.False(t, ok)
}
