package transport

import (
    "bufio"
    "errors"
    "fmt"
    "net"
    "os"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/peers"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// DefaultKeepAlive is the length of one keep-alive probe cycle.
const DefaultKeepAlive = 10 * time.Second

// Options tunes a Link.
type Options struct {
    // KeepAlive is the probe cycle: half of it passes before a probe is
    // sent, the other half before liveness is judged. It also bounds each
    // frame write. 0 uses DefaultKeepAlive.
    KeepAlive time.Duration
    // IdleBackoff bounds each blocking read so the loop notices shutdown.
    IdleBackoff time.Duration
    // QueueSize is the capacity of the outbound frame queue.
    QueueSize int
    // Stats receives traffic counters when set.
    Stats *peers.Store
}

func (o Options) withDefaults() Options {
    if o.KeepAlive <= 0 {
        o.KeepAlive = DefaultKeepAlive
    }
    if o.IdleBackoff <= 0 {
        o.IdleBackoff = time.Second
    }
    if o.QueueSize <= 0 {
        o.QueueSize = 64
    }
    return o
}

// Link is the socket-backed stand-in for a remote neighbor. It implements
// the router's Peer contract.
type Link struct {
    conn   net.Conn
    br     *bufio.Reader
    bw     *bufio.Writer
    wmu    sync.Mutex
    remote tree.Node
    opts   Options

    out    chan []byte
    closed chan struct{}
    once   sync.Once
    err    error

    alive   atomic.Bool
    probing atomic.Bool

    handler func(*protocol.Message)
    onDown  func(*Link, error)
}

// NewLink wraps an established connection whose handshake is complete. br
// must be the reader used for the handshake so no buffered bytes are lost;
// nil creates a fresh one.
func NewLink(conn net.Conn, br *bufio.Reader, remote tree.Node, opts Options) *Link {
    opts = opts.withDefaults()
    if br == nil {
        br = bufio.NewReader(conn)
    }
    return &Link{
        conn:   conn,
        br:     br,
        bw:     bufio.NewWriter(conn),
        remote: remote,
        opts:   opts,
        out:    make(chan []byte, opts.QueueSize),
        closed: make(chan struct{}),
    }
}

func (l *Link) Node() tree.Node       { return l.remote }
func (l *Link) RemoteAddr() string     { return l.conn.RemoteAddr().String() }
func (l *Link) Done() <-chan struct{}  { return l.closed }

// Err returns the reason the link went down, or nil while it is up.
func (l *Link) Err() error {
    select {
    case <-l.closed:
        return l.err
    default:
        return nil
    }
}

// Start launches the read, write and keep-alive goroutines. handler gets
// every decoded message; onDown is called once when the link goes down.
func (l *Link) Start(handler func(*protocol.Message), onDown func(*Link, error)) {
    l.handler = handler
    l.onDown = onDown
    l.alive.Store(true)
    go l.writeLoop()
    go l.readLoop()
    go l.keepAliveLoop()
}

// Send queues msg behind every frame queued before it.
func (l *Link) Send(msg *protocol.Message) error {
    b, err := protocol.Marshal(msg)
    if err != nil { return err }
    if len(b) > MaxFrameSize {
        return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b))
    }
    return l.enqueue(appendFrame(make([]byte, 0, 5+len(b)), CodeMessage, b))
}

func (l *Link) enqueue(frame []byte) error {
    select {
    case <-l.closed:
        return ErrLinkClosed
    default:
    }
    select {
    case l.out <- frame:
        return nil
    case <-l.closed:
        return ErrLinkClosed
    }
}

// offer queues a keep-alive frame without waiting and reports whether it
// was queued. Keep-alive frames are dropped when the queue is full.
func (l *Link) offer(frame []byte) bool {
    select {
    case l.out <- frame:
        return true
    case <-l.closed:
        return false
    default:
        zap.L().Debug("keep-alive dropped, queue full", zap.Stringer("peer", l.remote))
        return false
    }
}

// Close tears the link down. It is safe to call more than once.
func (l *Link) Close() error {
    l.teardown(ErrLinkClosed)
    return nil
}

func (l *Link) teardown(cause error) {
    l.once.Do(func() {
        l.err = cause
        close(l.closed)
        _ = l.conn.Close()
        if errors.Is(cause, ErrLinkClosed) {
            zap.L().Debug("link closed", zap.Stringer("peer", l.remote))
        } else {
            zap.L().Warn("link down", zap.Stringer("peer", l.remote), zap.Error(cause))
        }
        if l.opts.Stats != nil {
            l.opts.Stats.Disconnected(l.remote.UniqueID, cause)
        }
        if l.onDown != nil {
            l.onDown(l, cause)
        }
    })
}

func (l *Link) writeLoop() {
    for {
        select {
        case <-l.closed:
            return
        case f := <-l.out:
            if err := l.write(f); err != nil {
                l.teardown(fmt.Errorf("write: %w", err))
                return
            }
        }
    }
}

func (l *Link) write(frame []byte) error {
    l.wmu.Lock(); defer l.wmu.Unlock()
    // a frame that cannot be written within one keep-alive interval is fatal
    _ = l.conn.SetWriteDeadline(time.Now().Add(l.opts.KeepAlive))
    if _, err := l.bw.Write(frame); err != nil { return err }
    if err := l.bw.Flush(); err != nil { return err }
    if st := l.opts.Stats; st != nil {
        if frame[0] == CodeKeepAlive {
            st.RecordKeepAlive(l.remote.UniqueID, 0, 1)
        } else {
            st.RecordExchange(l.remote.UniqueID, 0, uint64(len(frame)), 0, 1)
        }
    }
    return nil
}

func (l *Link) readLoop() {
    for {
        _ = l.conn.SetReadDeadline(time.Now().Add(l.opts.IdleBackoff))
        code, err := l.br.ReadByte()
        if err != nil {
            if isTimeout(err) {
                select {
                case <-l.closed:
                    return
                default:
                    continue
                }
            }
            l.teardown(fmt.Errorf("read: %w", err))
            return
        }
        switch code {
        case CodeKeepAlive:
            l.alive.Store(true)
            if st := l.opts.Stats; st != nil {
                st.RecordKeepAlive(l.remote.UniqueID, 1, 0)
            }
            // a probe arriving while ours is outstanding answers it;
            // anything else is echoed
            if !l.probing.CompareAndSwap(true, false) {
                l.offer([]byte{CodeKeepAlive})
            }

        case CodeMessage:
            _ = l.conn.SetReadDeadline(time.Time{})
            payload, err := readPayload(l.br)
            if err != nil {
                l.teardown(fmt.Errorf("read message: %w", err))
                return
            }
            if st := l.opts.Stats; st != nil {
                st.RecordExchange(l.remote.UniqueID, uint64(5+len(payload)), 0, 1, 0)
            }
            msg, err := protocol.Unmarshal(payload)
            if err != nil {
                zap.L().Warn("dropping undecodable message", zap.Stringer("peer", l.remote), zap.Error(err))
                continue
            }
            if l.handler != nil {
                l.handler(msg)
            }

        default:
            l.teardown(fmt.Errorf("%w: %d", ErrUnexpectedCode, code))
            return
        }
    }
}

func (l *Link) keepAliveLoop() {
    half := l.opts.KeepAlive / 2
    for {
        if !l.sleep(half) {
            return
        }
        l.alive.Store(false)
        l.probing.Store(true)
        sent := l.offer([]byte{CodeKeepAlive})
        if !sent {
            l.probing.Store(false)
        }
        if !l.sleep(half) {
            return
        }
        // a full queue skips judgement; the write deadline covers a stuck writer
        if sent && !l.alive.Load() {
            l.teardown(ErrKeepAliveTimeout)
            return
        }
    }
}

// sleep waits for d and reports false when the link closed meanwhile.
func (l *Link) sleep(d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-t.C:
        return true
    case <-l.closed:
        return false
    }
}

func isTimeout(err error) bool {
    if errors.Is(err, os.ErrDeadlineExceeded) {
        return true
    }
    var ne net.Error
    return errors.As(err, &ne) && ne.Timeout()
}
