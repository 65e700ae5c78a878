package transport

import (
    "errors"
    "fmt"
    "io"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// WriteConnectRequest sends the initiator's snapshot.
func WriteConnectRequest(w io.Writer, s tree.Snapshot) error {
    b, err := s.Marshal()
    if err != nil { return err }
    return writeFrame(w, CodeConnectRequest, b)
}

// ReadConnectRequest reads the initiator's snapshot.
func ReadConnectRequest(r io.Reader) (tree.Snapshot, error) {
    var code [1]byte
    if _, err := io.ReadFull(r, code[:]); err != nil { return tree.Snapshot{}, err }
    if code[0] != CodeConnectRequest {
        return tree.Snapshot{}, fmt.Errorf("%w: %d during handshake", ErrUnexpectedCode, code[0])
    }
    return readSnapshot(r)
}

// WriteAccept replies to a connect request with the acceptor's snapshot.
func WriteAccept(w io.Writer, s tree.Snapshot) error {
    b, err := s.Marshal()
    if err != nil { return err }
    return writeFrame(w, CodeConnectAccepted, b)
}

// WriteDenial replies with the denial code matching err. It reports false
// when err is not an admission failure, in which case nothing is written.
func WriteDenial(w io.Writer, err error) (bool, error) {
    var code byte
    switch {
    case errors.Is(err, tree.ErrCycleDetected):
        code = CodeDeniedCycle
    case errors.Is(err, tree.ErrCapacityExceeded):
        code = CodeDeniedExceed
    default:
        return false, nil
    }
    _, werr := w.Write([]byte{code})
    return true, werr
}

// ReadReply reads the acceptor's answer. Denials come back as the matching
// tree error.
func ReadReply(r io.Reader) (tree.Snapshot, error) {
    var code [1]byte
    if _, err := io.ReadFull(r, code[:]); err != nil { return tree.Snapshot{}, err }
    switch code[0] {
    case CodeConnectAccepted:
        return readSnapshot(r)
    case CodeDeniedCycle:
        return tree.Snapshot{}, fmt.Errorf("connect denied: %w", tree.ErrCycleDetected)
    case CodeDeniedExceed:
        return tree.Snapshot{}, fmt.Errorf("connect denied: %w", tree.ErrCapacityExceeded)
    default:
        return tree.Snapshot{}, fmt.Errorf("%w: %d during handshake", ErrUnexpectedCode, code[0])
    }
}

func readSnapshot(r io.Reader) (tree.Snapshot, error) {
    b, err := readPayload(r)
    if err != nil { return tree.Snapshot{}, err }
    return tree.UnmarshalSnapshot(b)
}
