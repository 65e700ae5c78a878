package tree

import (
    "fmt"
    "sync"

    "github.com/google/uuid"
)

// View is one process's table of the tree, rooted at its local node. The
// local record is authoritative; every other record is the latest gossip
// received about that node. All methods are safe for concurrent use and
// return copies.
type View struct {
    mu      sync.RWMutex
    self    uuid.UUID
    ceiling int
    records map[uuid.UUID]*Record
}

// Option customizes a View.
type Option func(*View)

// WithCeiling overrides DefaultCeiling.
func WithCeiling(n int) Option {
    return func(v *View) {
        if n > 0 {
            v.ceiling = n
        }
    }
}

// NewView creates a view holding only the local node.
func NewView(self Node, opts ...Option) *View {
    v := &View{
        self:    self.UniqueID,
        ceiling: DefaultCeiling,
        records: map[uuid.UUID]*Record{self.UniqueID: {Node: self}},
    }
    for _, o := range opts {
        o(v)
    }
    return v
}

// Self returns the local node.
func (v *View) Self() Node {
    v.mu.RLock(); defer v.mu.RUnlock()
    return v.records[v.self].Node
}

// Ceiling returns the configured maximum tree size.
func (v *View) Ceiling() int { return v.ceiling }

// Parent returns the local node's parent, if any.
func (v *View) Parent() (Node, bool) {
    v.mu.RLock(); defer v.mu.RUnlock()
    p := v.records[v.self].Parent
    if p == uuid.Nil {
        return Node{}, false
    }
    return v.nodeLocked(p), true
}

// IsRoot reports whether the local node has no parent.
func (v *View) IsRoot() bool {
    v.mu.RLock(); defer v.mu.RUnlock()
    return !v.records[v.self].HasParent()
}

// Children returns the local node's children in link order.
func (v *View) Children() []Node {
    v.mu.RLock(); defer v.mu.RUnlock()
    var out []Node
    for _, c := range v.records[v.self].Children {
        out = append(out, v.nodeLocked(c))
    }
    return out
}

// Neighbors returns the parent (if any) followed by the children.
func (v *View) Neighbors() []Node {
    v.mu.RLock(); defer v.mu.RUnlock()
    var out []Node
    for _, uid := range v.neighborsLocked() {
        out = append(out, v.nodeLocked(uid))
    }
    return out
}

// Lookup returns the known identity for uid.
func (v *View) Lookup(uid uuid.UUID) (Node, bool) {
    v.mu.RLock(); defer v.mu.RUnlock()
    r, ok := v.records[uid]
    if !ok {
        return Node{}, false
    }
    return r.Node, true
}

// Find returns the first known node matching target under cmp, searching
// outward from the local node.
func (v *View) Find(target Node, cmp Comparator) (Node, bool) {
    v.mu.RLock(); defer v.mu.RUnlock()
    var found Node
    ok := v.walkLocked(v.self, nil, func(r *Record) bool {
        if cmp(r.Node, target) {
            found = r.Node
            return true
        }
        return false
    })
    return found, ok
}

// TotalConnections walks to the root and counts every node below it. The
// answer is the same whichever node of the tree asks.
func (v *View) TotalConnections() int {
    v.mu.RLock(); defer v.mu.RUnlock()
    root := v.rootLocked()
    n := 0
    v.walkDownLocked(root, func(*Record) { n++ })
    return n - 1
}

// Size returns the number of nodes in the local tree.
func (v *View) Size() int {
    v.mu.RLock(); defer v.mu.RUnlock()
    return v.sizeLocked()
}

// Contains reports whether target is reachable from the node from, walking
// both child and parent edges and never entering an excluded node. from
// itself counts as a match.
func (v *View) Contains(from uuid.UUID, target Node, cmp Comparator, exclude ...uuid.UUID) bool {
    v.mu.RLock(); defer v.mu.RUnlock()
    return v.walkLocked(from, exclude, func(r *Record) bool { return cmp(r.Node, target) })
}

// Snapshot returns the full table as seen from the local node.
func (v *View) Snapshot() Snapshot {
    v.mu.RLock(); defer v.mu.RUnlock()
    s := Snapshot{Version: SnapshotVersion, Root: v.self}
    v.walkLocked(v.self, nil, func(r *Record) bool {
        s.Records = append(s.Records, r.clone())
        return false
    })
    return s
}

// SetParent links the node described by candidate as the local node's
// parent. The candidate's whole tree joins the local one. The call fails
// without changing anything when the local node already has a parent, when
// the local node appears in the candidate's ancestry, or when the joined tree
// would exceed the ceiling.
func (v *View) SetParent(candidate Snapshot) error {
    if err := candidate.Validate(); err != nil {
        return err
    }
    v.mu.Lock(); defer v.mu.Unlock()
    self := v.records[v.self]
    if self.HasParent() {
        return fmt.Errorf("set parent %s: %w", candidate.Root, ErrParentExists)
    }
    if candidate.Root == v.self {
        return fmt.Errorf("set parent to self: %w", ErrCycleDetected)
    }
    for _, a := range candidate.Ancestors(candidate.Root) {
        if a == v.self {
            return fmt.Errorf("set parent %s: %w", candidate.Root, ErrCycleDetected)
        }
    }
    if _, known := v.records[candidate.Root]; known {
        return fmt.Errorf("set parent %s: already in tree: %w", candidate.Root, ErrCycleDetected)
    }
    if err := v.checkCapacityLocked(candidate); err != nil {
        return err
    }

    v.importLocked(candidate)
    self.Parent = candidate.Root
    p := v.records[candidate.Root]
    if !containsID(p.Children, v.self) {
        p.Children = append(p.Children, v.self)
    }
    v.pruneLocked()
    return nil
}

// AddChild links the node described by candidate below the local node. The
// call fails without changing anything when the candidate is already part of
// the local tree, is one of the local node's ancestors, or would push the
// tree past the ceiling.
func (v *View) AddChild(candidate Snapshot) error {
    if err := candidate.Validate(); err != nil {
        return err
    }
    v.mu.Lock(); defer v.mu.Unlock()
    if candidate.Root == v.self {
        return fmt.Errorf("add self as child: %w", ErrCycleDetected)
    }
    steps := 0
    for cur := v.records[v.self]; cur != nil && cur.HasParent() && steps < len(v.records); cur = v.records[cur.Parent] {
        steps++
        if cur.Parent == candidate.Root {
            return fmt.Errorf("add child %s: is an ancestor: %w", candidate.Root, ErrCycleDetected)
        }
    }
    if _, known := v.records[candidate.Root]; known {
        return fmt.Errorf("add child %s: already in tree: %w", candidate.Root, ErrCycleDetected)
    }
    if err := v.checkCapacityLocked(candidate); err != nil {
        return err
    }

    v.importLocked(candidate)
    self := v.records[v.self]
    self.Children = append(self.Children, candidate.Root)
    v.records[candidate.Root].Parent = v.self
    v.pruneLocked()
    return nil
}

// RemoveParent unlinks the local node from its parent. The parent's side of
// the tree is dropped from the view.
func (v *View) RemoveParent() bool {
    v.mu.Lock(); defer v.mu.Unlock()
    self := v.records[v.self]
    if !self.HasParent() {
        return false
    }
    if p, ok := v.records[self.Parent]; ok {
        p.Children = removeID(p.Children, v.self)
    }
    self.Parent = uuid.Nil
    v.pruneLocked()
    return true
}

// RemoveChild unlinks uid from the local node's children.
func (v *View) RemoveChild(uid uuid.UUID) bool {
    v.mu.Lock(); defer v.mu.Unlock()
    self := v.records[v.self]
    if !containsID(self.Children, uid) {
        return false
    }
    self.Children = removeID(self.Children, uid)
    if c, ok := v.records[uid]; ok && c.Parent == v.self {
        c.Parent = uuid.Nil
    }
    v.pruneLocked()
    return true
}

// Merge absorbs a topology update describing update.Root. Updates about
// nodes that are not direct neighbors are ignored. The neighbor's links are
// overwritten with the update's (last writer wins) and the part of the tree
// reached through that neighbor is replaced; the local record and the local
// node's own edges are never changed.
func (v *View) Merge(update Snapshot) bool {
    if update.Validate() != nil {
        return false
    }
    v.mu.Lock(); defer v.mu.Unlock()
    nb := update.Root
    if nb == v.self || !containsID(v.neighborsLocked(), nb) {
        return false
    }
    self := v.records[v.self]
    idx := update.index()

    rec := idx[nb].clone()
    switch {
    case self.Parent == nb:
        if !containsID(rec.Children, v.self) {
            rec.Children = append(rec.Children, v.self)
        }
    default:
        rec.Parent = v.self
    }
    v.records[nb] = &rec

    // import everything the update reaches from the neighbor without
    // passing through the local node
    seen := map[uuid.UUID]bool{v.self: true, nb: true}
    queue := linksOf(rec)
    for len(queue) > 0 {
        uid := queue[0]
        queue = queue[1:]
        if seen[uid] {
            continue
        }
        seen[uid] = true
        r, ok := idx[uid]
        if !ok {
            continue
        }
        c := r.clone()
        v.records[uid] = &c
        queue = append(queue, linksOf(c)...)
    }
    v.pruneLocked()
    return true
}

func (v *View) checkCapacityLocked(candidate Snapshot) error {
    incoming := 0
    for _, r := range candidate.Records {
        if _, known := v.records[r.Node.UniqueID]; !known {
            incoming++
        }
    }
    size := v.sizeLocked()
    if size+incoming > v.ceiling {
        return fmt.Errorf("link %s: %d+%d nodes > %d: %w", candidate.Root, size, incoming, v.ceiling, ErrCapacityExceeded)
    }
    return nil
}

// importLocked copies candidate records that the view does not know yet.
func (v *View) importLocked(candidate Snapshot) {
    for _, r := range candidate.Records {
        if _, known := v.records[r.Node.UniqueID]; known {
            continue
        }
        c := r.clone()
        v.records[r.Node.UniqueID] = &c
    }
}

// pruneLocked drops records no longer reachable from the local node.
func (v *View) pruneLocked() {
    keep := make(map[uuid.UUID]bool, len(v.records))
    v.walkLocked(v.self, nil, func(r *Record) bool {
        keep[r.Node.UniqueID] = true
        return false
    })
    for uid := range v.records {
        if !keep[uid] {
            delete(v.records, uid)
        }
    }
}

func (v *View) sizeLocked() int {
    n := 0
    v.walkLocked(v.self, nil, func(*Record) bool { n++; return false })
    return n
}

func (v *View) rootLocked() uuid.UUID {
    cur := v.self
    seen := map[uuid.UUID]bool{}
    for !seen[cur] {
        seen[cur] = true
        r, ok := v.records[cur]
        if !ok || !r.HasParent() {
            return cur
        }
        if _, ok := v.records[r.Parent]; !ok {
            return cur
        }
        cur = r.Parent
    }
    return cur
}

func (v *View) walkDownLocked(from uuid.UUID, fn func(*Record)) {
    seen := map[uuid.UUID]bool{}
    stack := []uuid.UUID{from}
    for len(stack) > 0 {
        uid := stack[len(stack)-1]
        stack = stack[:len(stack)-1]
        r, ok := v.records[uid]
        if !ok || seen[uid] {
            continue
        }
        seen[uid] = true
        fn(r)
        stack = append(stack, r.Children...)
    }
}

// walkLocked visits records breadth-first over parent and child edges,
// starting at from and skipping excluded nodes. It stops and returns true
// as soon as fn does.
func (v *View) walkLocked(from uuid.UUID, exclude []uuid.UUID, fn func(*Record) bool) bool {
    seen := make(map[uuid.UUID]bool, len(v.records))
    for _, e := range exclude {
        seen[e] = true
    }
    queue := []uuid.UUID{from}
    for len(queue) > 0 {
        uid := queue[0]
        queue = queue[1:]
        if seen[uid] {
            continue
        }
        seen[uid] = true
        r, ok := v.records[uid]
        if !ok {
            continue
        }
        if fn(r) {
            return true
        }
        queue = append(queue, linksOf(*r)...)
    }
    return false
}

func (v *View) neighborsLocked() []uuid.UUID {
    return linksOf(*v.records[v.self])
}

func (v *View) nodeLocked(uid uuid.UUID) Node {
    if r, ok := v.records[uid]; ok {
        return r.Node
    }
    return Node{UniqueID: uid}
}

func linksOf(r Record) []uuid.UUID {
    out := make([]uuid.UUID, 0, len(r.Children)+1)
    if r.HasParent() {
        out = append(out, r.Parent)
    }
    return append(out, r.Children...)
}

func containsID(ids []uuid.UUID, uid uuid.UUID) bool {
    for _, id := range ids {
        if id == uid {
            return true
        }
    }
    return false
}

func removeID(ids []uuid.UUID, uid uuid.UUID) []uuid.UUID {
    out := ids[:0]
    for _, id := range ids {
        if id != uid {
            out = append(out, id)
        }
    }
    return out
}
