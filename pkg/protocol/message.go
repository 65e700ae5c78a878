package protocol

import (
    "fmt"

    "github.com/google/uuid"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// Code tags the application purpose of a message. Routing only looks at
// CodeNodesUpdate.
type Code uint8

const (
    CodeUnknown Code = iota
    CodeText
    CodeNodesUpdate
    CodeListOfMessages
    CodeStartPrimeGenerator
    CodePrimeFound
    CodePrimeGeneratorExited
    CodePrimeGeneratorNotFound
)

func (c Code) String() string {
    switch c {
    case CodeText:
        return "text"
    case CodeNodesUpdate:
        return "nodes-update"
    case CodeListOfMessages:
        return "list-of-messages"
    case CodeStartPrimeGenerator:
        return "start-prime-generator"
    case CodePrimeFound:
        return "prime-found"
    case CodePrimeGeneratorExited:
        return "prime-generator-exited"
    case CodePrimeGeneratorNotFound:
        return "prime-generator-not-found"
    default:
        return fmt.Sprintf("code(%d)", uint8(c))
    }
}

// Status tells a request from its acknowledgement or failure report.
type Status uint8

const (
    StatusTransfer Status = iota
    StatusReceived
    StatusFailed
)

func (s Status) String() string {
    switch s {
    case StatusTransfer:
        return "transfer"
    case StatusReceived:
        return "received"
    case StatusFailed:
        return "failed"
    default:
        return fmt.Sprintf("status(%d)", uint8(s))
    }
}

// Transfer selects the neighbor-selection algorithm.
type Transfer uint8

const (
    TransferUnknown Transfer = iota
    // UseRoute replays the recorded route, one hop per pop.
    UseRoute
    // Broadcast floods every neighbor except the sender.
    Broadcast
    // LookForChildren forwards only towards neighbors that lead to the target.
    LookForChildren
)

func (t Transfer) String() string {
    switch t {
    case UseRoute:
        return "use-route"
    case Broadcast:
        return "broadcast"
    case LookForChildren:
        return "look-for-children"
    default:
        return fmt.Sprintf("transfer(%d)", uint8(t))
    }
}

// Addressing selects which node field is compared against the target.
type Addressing uint8

const (
    ByID Addressing = iota
    ByUniqueID
)

// Comparator returns the tree comparator for a.
func (a Addressing) Comparator() tree.Comparator {
    if a == ByUniqueID {
        return tree.ByUniqueID
    }
    return tree.ByID
}

func (a Addressing) String() string {
    if a == ByUniqueID {
        return "unique-id"
    }
    return "id"
}

// Message is the envelope exchanged between nodes. Node fields are stripped
// identities; they never carry links.
type Message struct {
    ID              uuid.UUID  `cbor:"1,keyasint"`
    Source          tree.Node  `cbor:"2,keyasint"`
    Target          *tree.Node `cbor:"3,keyasint,omitempty"`
    Sender          tree.Node  `cbor:"4,keyasint"`
    Code            Code       `cbor:"5,keyasint"`
    Status          Status     `cbor:"6,keyasint"`
    Transfer        Transfer   `cbor:"7,keyasint"`
    Addressing      Addressing `cbor:"8,keyasint"`
    Route           Route      `cbor:"9,keyasint,omitempty"`
    Content         []byte     `cbor:"10,keyasint,omitempty"`
    ExpectsResponse bool       `cbor:"11,keyasint"`
}

// New builds a request from source. A nil target addresses everyone. New
// messages are broadcast, addressed by id and expect a response.
func New(source tree.Node, target *tree.Node, code Code) *Message {
    m := &Message{
        ID:              uuid.New(),
        Source:          source,
        Sender:          source,
        Code:            code,
        Status:          StatusTransfer,
        Transfer:        Broadcast,
        Addressing:      ByID,
        ExpectsResponse: true,
    }
    if target != nil {
        t := *target
        m.Target = &t
    }
    return m
}

// Copy returns a deep copy; the route and content are not shared.
func (m *Message) Copy() *Message {
    out := *m
    if m.Target != nil {
        t := *m.Target
        out.Target = &t
    }
    out.Route = m.Route.Clone()
    if m.Content != nil {
        out.Content = append([]byte(nil), m.Content...)
    }
    return &out
}

// Reply builds the acknowledgement (or failure report, when failed is set)
// sent by self back along the reverse of m's route.
func (m *Message) Reply(self tree.Node, failed bool) *Message {
    src := m.Source
    r := &Message{
        ID:         m.ID,
        Source:     self,
        Target:     &src,
        Sender:     self,
        Code:       m.Code,
        Status:     StatusReceived,
        Transfer:   UseRoute,
        Addressing: ByUniqueID,
        Route:      m.Route.ReturnPath(),
    }
    if failed {
        r.Status = StatusFailed
    }
    return r
}

func (m *Message) String() string {
    target := "*"
    if m.Target != nil {
        target = m.Target.String()
    }
    return fmt.Sprintf("%s %s/%s %s -> %s via %s", m.ID.String()[:8], m.Code, m.Status, m.Source, target, m.Transfer)
}
