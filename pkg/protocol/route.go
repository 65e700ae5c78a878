package protocol

import "github.com/google/uuid"

// Route is a stack of unique ids recording the hops a message took. The top
// of the stack is the last element.
type Route []uuid.UUID

// Push adds uid on top.
func (r *Route) Push(uid uuid.UUID) { *r = append(*r, uid) }

// Pop removes and returns the top element.
func (r *Route) Pop() (uuid.UUID, bool) {
    n := len(*r)
    if n == 0 {
        return uuid.Nil, false
    }
    top := (*r)[n-1]
    *r = (*r)[:n-1]
    return top, true
}

// Peek returns the top element without removing it.
func (r Route) Peek() (uuid.UUID, bool) {
    if len(r) == 0 {
        return uuid.Nil, false
    }
    return r[len(r)-1], true
}

// Clone returns an independent copy.
func (r Route) Clone() Route {
    if r == nil {
        return nil
    }
    return append(Route(nil), r...)
}

// ReturnPath returns the route a reply follows to retrace r hop by hop.
// Hops were pushed, so popping walks them backwards.
func (r Route) ReturnPath() Route { return r.Clone() }
