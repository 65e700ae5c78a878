package tree

import "errors"

var (
    // ErrCycleDetected is returned when a link would make a node its own ancestor.
    ErrCycleDetected = errors.New("tree: cycle detected")
    // ErrCapacityExceeded is returned when a link would grow the tree past its ceiling.
    ErrCapacityExceeded = errors.New("tree: capacity exceeded")
    // ErrParentExists is returned by SetParent when the node is already attached upstream.
    ErrParentExists = errors.New("tree: parent already set")
    // ErrBadSnapshot is returned for snapshots that cannot describe a tree.
    ErrBadSnapshot = errors.New("tree: malformed snapshot")
)
