// Package tree holds the local node's view of the overlay tree: identities,
// parent/child links and the invariant checks guarding every link change.
//
// The tree is stored as a table of records keyed by unique id. Parent and
// children are keys into that table, so no record owns another.
package tree

import (
    "fmt"

    "github.com/google/uuid"
)

// NoCluster marks a node without a cluster tag.
const NoCluster = ""

// DefaultCeiling is the maximum number of nodes a single tree may hold.
const DefaultCeiling = 10

// Node is the identity of one participant. It carries no links and is the
// stripped form used inside messages.
type Node struct {
    // ID is user-chosen and not unique across the overlay.
    ID       int       `cbor:"id" json:"id"`
    UniqueID uuid.UUID `cbor:"uid" json:"unique_id"`
    // Cluster groups nodes for presentation only.
    Cluster  string    `cbor:"cluster,omitempty" json:"cluster,omitempty"`
}

// NewNode creates a node with a freshly generated unique id.
func NewNode(id int, cluster string) Node {
    return Node{ID: id, UniqueID: uuid.New(), Cluster: cluster}
}

// IsZero reports whether n has no unique id.
func (n Node) IsZero() bool { return n.UniqueID == uuid.Nil }

func (n Node) String() string {
    if n.Cluster == NoCluster {
        return fmt.Sprintf("%d (%s)", n.ID, shortID(n.UniqueID))
    }
    return fmt.Sprintf("%d@%s (%s)", n.ID, n.Cluster, shortID(n.UniqueID))
}

func shortID(u uuid.UUID) string { return u.String()[:8] }

// Comparator decides whether a node matches a message target.
type Comparator func(a, b Node) bool

// ByID compares the user-chosen ids.
func ByID(a, b Node) bool { return a.ID == b.ID }

// ByUniqueID compares the generated unique ids.
func ByUniqueID(a, b Node) bool { return a.UniqueID == b.UniqueID }
