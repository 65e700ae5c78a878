// Package render draws the tree known to a node.
package render

import (
    "fmt"
    "io"
    "sort"
    "strings"
    "sync"

    "github.com/google/uuid"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/router"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// Renderer presents a tree snapshot and reacts to node selection.
type Renderer interface {
    OnSelected(n tree.Node)
    OnTooltipOpened(n tree.Node)
    Update(s tree.Snapshot)
    Render(w io.Writer) error
}

// Text draws the tree as an indented outline, root first. The local node is
// marked with '*', the selected one with '>', and a node with an open
// tooltip gets its tooltip lines underneath.
type Text struct {
    mu       sync.Mutex
    snap     tree.Snapshot
    selected uuid.UUID
    tooltip  uuid.UUID
    tips     map[uuid.UUID][]string
}

func NewText() *Text { return &Text{tips: make(map[uuid.UUID][]string)} }

func (t *Text) OnSelected(n tree.Node) {
    t.mu.Lock(); defer t.mu.Unlock()
    t.selected = n.UniqueID
}

func (t *Text) OnTooltipOpened(n tree.Node) {
    t.mu.Lock(); defer t.mu.Unlock()
    t.tooltip = n.UniqueID
}

// SetTooltip stores the lines shown for uid while its tooltip is open.
func (t *Text) SetTooltip(uid uuid.UUID, lines []string) {
    t.mu.Lock(); defer t.mu.Unlock()
    t.tips[uid] = lines
}

func (t *Text) Update(s tree.Snapshot) {
    t.mu.Lock(); defer t.mu.Unlock()
    t.snap = s
}

func (t *Text) Render(w io.Writer) error {
    t.mu.Lock(); defer t.mu.Unlock()
    if len(t.snap.Records) == 0 {
        _, err := fmt.Fprintln(w, "(empty)")
        return err
    }
    idx := make(map[uuid.UUID]tree.Record, len(t.snap.Records))
    for _, r := range t.snap.Records {
        idx[r.Node.UniqueID] = r
    }
    root := t.snap.Root
    for steps := 0; steps < len(idx); steps++ {
        r, ok := idx[root]
        if !ok || !r.HasParent() {
            break
        }
        if _, ok := idx[r.Parent]; !ok {
            break
        }
        root = r.Parent
    }

    var sb strings.Builder
    seen := make(map[uuid.UUID]bool, len(idx))
    var draw func(uid uuid.UUID, depth int)
    draw = func(uid uuid.UUID, depth int) {
        r, ok := idx[uid]
        if !ok || seen[uid] {
            return
        }
        seen[uid] = true
        mark := " "
        switch {
        case uid == t.selected:
            mark = ">"
        case uid == t.snap.Root:
            mark = "*"
        }
        fmt.Fprintf(&sb, "%s%s %s\n", strings.Repeat("  ", depth), mark, label(r.Node))
        if uid == t.tooltip {
            for _, line := range t.tips[uid] {
                fmt.Fprintf(&sb, "%s    | %s\n", strings.Repeat("  ", depth), line)
            }
        }
        kids := append([]uuid.UUID(nil), r.Children...)
        sort.Slice(kids, func(i, j int) bool {
            a, b := idx[kids[i]].Node, idx[kids[j]].Node
            if a.ID != b.ID {
                return a.ID < b.ID
            }
            return a.UniqueID.String() < b.UniqueID.String()
        })
        for _, k := range kids {
            draw(k, depth+1)
        }
    }
    draw(root, 0)
    _, err := io.WriteString(w, sb.String())
    return err
}

func label(n tree.Node) string {
    if n.Cluster == tree.NoCluster {
        return fmt.Sprintf("#%d %s", n.ID, n.UniqueID)
    }
    return fmt.Sprintf("#%d %s (%s)", n.ID, n.UniqueID, n.Cluster)
}

// Follow keeps a renderer in sync with a router's topology.
type Follow struct {
    router.NopObserver
    R Renderer
}

func (f Follow) OnTopologyChanged(s tree.Snapshot) { f.R.Update(s) }
