package transport

import (
    "bufio"
    "bytes"
    "io"
    "net"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/memkv"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/peers"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

type downRecorder struct {
    mu   sync.Mutex
    errs []error
}

func (d *downRecorder) onDown(_ *Link, err error) {
    d.mu.Lock(); defer d.mu.Unlock()
    d.errs = append(d.errs, err)
}

func (d *downRecorder) count() int {
    d.mu.Lock(); defer d.mu.Unlock()
    return len(d.errs)
}

func fastOpts() Options {
    return Options{KeepAlive: 200 * time.Millisecond, IdleBackoff: 10 * time.Millisecond}
}

func waitDone(t *testing.T, l *Link) {
    t.Helper()
    select {
    case <-l.Done():
    case <-time.After(2 * time.Second):
        t.Fatal("link did not go down")
    }
}

func TestLinkExchangesMessagesInOrder(t *testing.T) {
    ca, cb := net.Pipe()
    na, nb := tree.NewNode(1, "a"), tree.NewNode(2, "b")
    la := NewLink(ca, nil, nb, Options{})
    lb := NewLink(cb, nil, na, Options{})

    got := make(chan *protocol.Message, 10)
    la.Start(nil, nil)
    lb.Start(func(m *protocol.Message) { got <- m }, nil)
    defer la.Close()
    defer lb.Close()

    var sent []*protocol.Message
    for i := 0; i < 5; i++ {
        m := protocol.New(na, nil, protocol.CodeText)
        m.Content = []byte{byte(i)}
        sent = append(sent, m)
        require.NoError(t, la.Send(m))
    }
    for i := 0; i < 5; i++ {
        select {
        case m := <-got:
            assert.Equal(t, sent[i], m)
        case <-time.After(2 * time.Second):
            t.Fatal("message not received")
        }
    }
}

func TestKeepAliveKeepsHealthyLinkUp(t *testing.T) {
    ca, cb := net.Pipe()
    var down downRecorder
    la := NewLink(ca, nil, tree.NewNode(2, "b"), fastOpts())
    lb := NewLink(cb, nil, tree.NewNode(1, "a"), fastOpts())
    la.Start(nil, down.onDown)
    lb.Start(nil, down.onDown)

    time.Sleep(700 * time.Millisecond)
    assert.Zero(t, down.count())
    assert.NoError(t, la.Err())

    require.NoError(t, la.Close())
    waitDone(t, lb)
}

func TestKeepAliveTimeoutTearsDown(t *testing.T) {
    ca, cb := net.Pipe()
    go io.Copy(io.Discard, cb) // drains but never answers
    defer cb.Close()

    var down downRecorder
    l := NewLink(ca, nil, tree.NewNode(2, "b"), fastOpts())
    l.Start(nil, down.onDown)

    waitDone(t, l)
    assert.ErrorIs(t, l.Err(), ErrKeepAliveTimeout)
    assert.Equal(t, 1, down.count())
    assert.ErrorIs(t, l.Send(protocol.New(tree.NewNode(1, "a"), nil, protocol.CodeText)), ErrLinkClosed)
}

func TestMessageTrafficDoesNotAnswerProbes(t *testing.T) {
    ca, cb := net.Pipe()
    defer cb.Close()
    go io.Copy(io.Discard, cb)

    frame, err := protocol.Marshal(protocol.New(tree.NewNode(2, "b"), nil, protocol.CodeText))
    require.NoError(t, err)
    stop := make(chan struct{})
    defer close(stop)
    go func() {
        tick := time.NewTicker(30 * time.Millisecond)
        defer tick.Stop()
        for {
            select {
            case <-stop:
                return
            case <-tick.C:
                if _, err := cb.Write(appendFrame(nil, CodeMessage, frame)); err != nil {
                    return
                }
            }
        }
    }()

    got := make(chan *protocol.Message, 100)
    l := NewLink(ca, nil, tree.NewNode(2, "b"), fastOpts())
    l.Start(func(m *protocol.Message) { got <- m }, nil)

    waitDone(t, l)
    assert.ErrorIs(t, l.Err(), ErrKeepAliveTimeout)
    assert.NotEmpty(t, got)
}

func TestStuckWriterTearsDown(t *testing.T) {
    ca, cb := net.Pipe() // cb never reads
    defer cb.Close()

    l := NewLink(ca, nil, tree.NewNode(2, "b"), Options{
        KeepAlive:   200 * time.Millisecond,
        IdleBackoff: 10 * time.Millisecond,
        QueueSize:   1,
    })
    l.Start(nil, nil)

    done := make(chan error, 1)
    go func() {
        m := protocol.New(tree.NewNode(1, "a"), nil, protocol.CodeText)
        for {
            if err := l.Send(m); err != nil {
                done <- err
                return
            }
        }
    }()

    select {
    case err := <-done:
        assert.ErrorIs(t, err, ErrLinkClosed)
    case <-time.After(2 * time.Second):
        t.Fatal("send blocked on a stuck link")
    }
    waitDone(t, l)
    assert.Error(t, l.Err())
}

func TestKeepAliveIsEchoed(t *testing.T) {
    ca, cb := net.Pipe()
    defer cb.Close()
    l := NewLink(ca, nil, tree.NewNode(2, "b"), Options{KeepAlive: time.Hour, IdleBackoff: 10 * time.Millisecond})
    l.Start(nil, nil)
    defer l.Close()

    _, err := cb.Write([]byte{CodeKeepAlive})
    require.NoError(t, err)
    var buf [1]byte
    require.NoError(t, cb.SetReadDeadline(time.Now().Add(2*time.Second)))
    _, err = io.ReadFull(cb, buf[:])
    require.NoError(t, err)
    assert.Equal(t, CodeKeepAlive, buf[0])
}

func TestTransportFaultsTearDown(t *testing.T) {
    cases := map[string]func(net.Conn){
        "peer closed":     func(c net.Conn) { c.Close() },
        "unexpected code": func(c net.Conn) { c.Write([]byte{77}) },
        "oversized frame": func(c net.Conn) { c.Write([]byte{CodeMessage, 0xff, 0xff, 0xff, 0xff}) },
    }
    for name, fault := range cases {
        t.Run(name, func(t *testing.T) {
            ca, cb := net.Pipe()
            defer cb.Close()
            var down downRecorder
            l := NewLink(ca, nil, tree.NewNode(2, "b"), Options{KeepAlive: time.Hour, IdleBackoff: 10 * time.Millisecond})
            l.Start(nil, down.onDown)
            go fault(cb)
            waitDone(t, l)
            assert.Error(t, l.Err())
            assert.Equal(t, 1, down.count())
        })
    }
}

func TestUndecodableMessageIsSkipped(t *testing.T) {
    ca, cb := net.Pipe()
    defer cb.Close()
    got := make(chan *protocol.Message, 1)
    l := NewLink(ca, nil, tree.NewNode(2, "b"), Options{KeepAlive: time.Hour, IdleBackoff: 10 * time.Millisecond})
    l.Start(func(m *protocol.Message) { got <- m }, nil)
    defer l.Close()

    good, err := protocol.Marshal(protocol.New(tree.NewNode(2, "b"), nil, protocol.CodeText))
    require.NoError(t, err)
    go func() {
        cb.Write(appendFrame(nil, CodeMessage, []byte{0xff}))
        cb.Write(appendFrame(nil, CodeMessage, good))
    }()
    select {
    case m := <-got:
        assert.Equal(t, protocol.CodeText, m.Code)
    case <-time.After(2 * time.Second):
        t.Fatal("message not received")
    }
    assert.NoError(t, l.Err())
}

func TestLinkReportsStats(t *testing.T) {
    kv := memkv.New(memkv.Options{})
    defer kv.Close()
    st := peers.NewStore(kv)
    na, nb := tree.NewNode(1, "a"), tree.NewNode(2, "b")
    st.Connected(nb, "pipe", peers.RoleChild)

    ca, cb := net.Pipe()
    la := NewLink(ca, nil, nb, Options{Stats: st})
    lb := NewLink(cb, nil, na, Options{})
    got := make(chan struct{}, 1)
    la.Start(nil, nil)
    lb.Start(func(*protocol.Message) { got <- struct{}{} }, nil)

    require.NoError(t, la.Send(protocol.New(na, nil, protocol.CodeText)))
    <-got
    la.Close()
    waitDone(t, lb)

    require.Eventually(t, func() bool {
        pm, ok := st.Get(nb.UniqueID)
        return ok && pm.MsgsOut == 1 && !pm.Connected
    }, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRoundTrip(t *testing.T) {
    a := tree.NewView(tree.NewNode(1, "a"))
    b := tree.NewView(tree.NewNode(2, "b"))
    c := tree.NewView(tree.NewNode(3, tree.NoCluster))
    require.NoError(t, a.AddChild(b.Snapshot()))
    require.NoError(t, a.AddChild(c.Snapshot()))

    var buf bytes.Buffer
    require.NoError(t, WriteConnectRequest(&buf, a.Snapshot()))
    assert.Equal(t, CodeConnectRequest, buf.Bytes()[0])
    got, err := ReadConnectRequest(bufio.NewReader(&buf))
    require.NoError(t, err)
    assert.Zero(t, buf.Len())

    want := a.Snapshot()
    assert.Equal(t, want.Root, got.Root)
    require.Len(t, got.Records, len(want.Records))
    for _, r := range want.Records {
        g, ok := got.Lookup(r.Node.UniqueID)
        require.True(t, ok)
        assert.Equal(t, r.Node, g.Node)
        assert.Equal(t, r.Parent, g.Parent)
        assert.Equal(t, r.Children, g.Children)
    }

    buf.Reset()
    require.NoError(t, WriteAccept(&buf, b.Snapshot()))
    s, err := ReadReply(&buf)
    require.NoError(t, err)
    assert.Equal(t, b.Self(), s.Node())
}

func TestHandshakeDenials(t *testing.T) {
    for _, tc := range []struct {
        err  error
        code byte
    }{
        {tree.ErrCycleDetected, CodeDeniedCycle},
        {tree.ErrCapacityExceeded, CodeDeniedExceed},
    } {
        var buf bytes.Buffer
        ok, err := WriteDenial(&buf, tc.err)
        require.NoError(t, err)
        require.True(t, ok)
        assert.Equal(t, []byte{tc.code}, buf.Bytes())
        _, err = ReadReply(&buf)
        assert.ErrorIs(t, err, tc.err)
    }

    var buf bytes.Buffer
    ok, err := WriteDenial(&buf, io.EOF)
    require.NoError(t, err)
    assert.False(t, ok)
    assert.Zero(t, buf.Len())

    _, err = ReadConnectRequest(bytes.NewReader([]byte{CodeKeepAlive}))
    assert.ErrorIs(t, err, ErrUnexpectedCode)
}
