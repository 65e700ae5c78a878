package router

import (
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// LocalPeer is an in-process neighbor: sending hands a copy straight to the
// other router.
type LocalPeer struct{ r *Router }

// NewLocalPeer wraps r as a Peer.
func NewLocalPeer(r *Router) *LocalPeer { return &LocalPeer{r: r} }

func (p *LocalPeer) Node() tree.Node { return p.r.Self() }

func (p *LocalPeer) Send(msg *protocol.Message) error {
    p.r.Receive(msg.Copy())
    return nil
}

// Join links child below parent in process, following the same steps as a
// network handshake: the parent adopts the child silently, then the child
// attaches and broadcasts the new shape.
func Join(parent, child *Router) error {
    down := NewLocalPeer(child)
    if err := parent.AttachChild(down, child.Snapshot(), false); err != nil {
        return err
    }
    if err := child.AttachParent(NewLocalPeer(parent), parent.Snapshot(), true); err != nil {
        parent.Detach(down, false)
        return err
    }
    return nil
}
