package transport

import (
    "encoding/binary"
    "errors"
    "fmt"
    "io"
)

// Frame codes.
const (
    CodeConnectRequest  byte = 1
    CodeConnectAccepted byte = 2
    CodeDeniedCycle     byte = 3
    CodeDeniedExceed    byte = 4
    CodeMessage         byte = 6
    CodeKeepAlive       byte = 92
)

// MaxFrameSize caps a frame payload.
const MaxFrameSize = 1 << 24

var (
    ErrLinkClosed       = errors.New("transport: link closed")
    ErrFrameTooLarge    = errors.New("transport: frame too large")
    ErrUnexpectedCode   = errors.New("transport: unexpected frame code")
    ErrKeepAliveTimeout = errors.New("transport: keep-alive timeout")
)

// appendFrame encodes code, the u32 LE length and payload.
func appendFrame(dst []byte, code byte, payload []byte) []byte {
    var lenbuf [4]byte
    binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(payload)))
    dst = append(dst, code)
    dst = append(dst, lenbuf[:]...)
    return append(dst, payload...)
}

func writeFrame(w io.Writer, code byte, payload []byte) error {
    if len(payload) > MaxFrameSize {
        return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
    }
    _, err := w.Write(appendFrame(make([]byte, 0, 5+len(payload)), code, payload))
    return err
}

// readPayload reads the length prefix and the payload that follows a code byte.
func readPayload(r io.Reader) ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(r, lenbuf[:]); err != nil { return nil, err }
    n := binary.LittleEndian.Uint32(lenbuf[:])
    if n > MaxFrameSize {
        return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
    }
    buf := make([]byte, n)
    if _, err := io.ReadFull(r, buf); err != nil { return nil, err }
    return buf, nil
}
