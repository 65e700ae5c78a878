// Package overlay joins nodes into the tree over TCP. It runs the listener,
// performs the connect handshake in both roles and binds established links
// to the router.
package overlay

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "net"
    "strconv"
    "sync"
    "time"

    "go.uber.org/multierr"
    "go.uber.org/zap"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/config"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/peers"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/router"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/transport"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

var (
    ErrStartFailed     = errors.New("overlay: start failed")
    ErrPeerUnreachable = errors.New("overlay: peer unreachable")
)

// Options configures an Overlay.
type Options struct {
    Link             transport.Options
    HandshakeTimeout time.Duration
    ListenHost       string

    BackoffInitial time.Duration
    BackoffMax     time.Duration
    BackoffJitter  time.Duration
    // DialAttempts bounds Bootstrap; 0 retries until the context ends.
    DialAttempts int

    OnOutcome OutcomeHandler
}

// OptionsFromConfig maps the node configuration onto overlay options.
func OptionsFromConfig(c *config.Config, stats *peers.Store) Options {
    return Options{
        Link: transport.Options{
            KeepAlive:   c.Link.KeepAlive(),
            IdleBackoff: c.Link.IdleBackoff(),
            QueueSize:   c.Link.SendQueue,
            Stats:       stats,
        },
        HandshakeTimeout: c.Link.HandshakeTimeout(),
        ListenHost:       c.Listen.Host,
        BackoffInitial:   c.Net.BackoffInitial(),
        BackoffMax:       c.Net.BackoffMax(),
        BackoffJitter:    c.Net.BackoffJitter(),
        DialAttempts:     c.Net.DialAttempts,
    }
}

func (o Options) withDefaults() Options {
    if o.HandshakeTimeout <= 0 {
        o.HandshakeTimeout = 10 * time.Second
    }
    if o.BackoffInitial <= 0 {
        o.BackoffInitial = 500 * time.Millisecond
    }
    if o.BackoffMax <= 0 {
        o.BackoffMax = 30 * time.Second
    }
    return o
}

// Overlay owns the listener and the links of one node.
type Overlay struct {
    rt   *router.Router
    opts Options

    mu    sync.Mutex
    ln    net.Listener
    links map[*transport.Link]struct{}
    wg    sync.WaitGroup
}

func New(rt *router.Router, opts Options) *Overlay {
    return &Overlay{rt: rt, opts: opts.withDefaults(), links: make(map[*transport.Link]struct{})}
}

// Start binds the listener on port and accepts connect requests in the
// background. Port 0 picks a free port, see Addr.
func (o *Overlay) Start(port int) error {
    addr := net.JoinHostPort(o.opts.ListenHost, strconv.Itoa(port))
    ln, err := net.Listen("tcp", addr)
    if err != nil {
        err = fmt.Errorf("%w: %w", ErrStartFailed, err)
        o.report(StartFailed, err)
        return err
    }
    o.mu.Lock()
    if o.ln != nil {
        o.mu.Unlock()
        _ = ln.Close()
        err := fmt.Errorf("%w: already listening on %s", ErrStartFailed, o.ln.Addr())
        o.report(StartFailed, err)
        return err
    }
    o.ln = ln
    o.mu.Unlock()

    zap.L().Info("listening", zap.String("addr", ln.Addr().String()))
    o.wg.Add(1)
    go o.acceptLoop(ln)
    o.report(StartSucceeded, nil)
    return nil
}

// Addr returns the listener address, or nil before Start.
func (o *Overlay) Addr() net.Addr {
    o.mu.Lock(); defer o.mu.Unlock()
    if o.ln == nil {
        return nil
    }
    return o.ln.Addr()
}

func (o *Overlay) acceptLoop(ln net.Listener) {
    defer o.wg.Done()
    for {
        conn, err := ln.Accept()
        if err != nil {
            if !errors.Is(err, net.ErrClosed) {
                zap.L().Warn("accept failed", zap.String("addr", ln.Addr().String()), zap.Error(err))
            }
            return
        }
        go o.serve(conn)
    }
}

// serve answers one connect request.
func (o *Overlay) serve(conn net.Conn) {
    raddr := conn.RemoteAddr().String()
    _ = conn.SetDeadline(time.Now().Add(o.opts.HandshakeTimeout))
    br := bufio.NewReader(conn)
    cand, err := transport.ReadConnectRequest(br)
    if err != nil {
        zap.L().Warn("bad connect request", zap.String("raddr", raddr), zap.Error(err))
        _ = conn.Close()
        return
    }

    mine := o.rt.Snapshot()
    link := transport.NewLink(conn, br, cand.Node(), o.opts.Link)
    if err := o.rt.AttachChild(link, cand, false); err != nil {
        denied, werr := transport.WriteDenial(conn, err)
        zap.L().Info("connect request denied", zap.Stringer("peer", cand.Node()), zap.Bool("answered", denied), zap.Error(multierr.Append(err, werr)))
        _ = conn.Close()
        return
    }
    if err := transport.WriteAccept(conn, mine); err != nil {
        zap.L().Warn("accept reply failed", zap.Stringer("peer", cand.Node()), zap.Error(err))
        o.rt.Detach(link, false)
        _ = conn.Close()
        return
    }
    _ = conn.SetDeadline(time.Time{})
    o.bind(link, raddr, peers.RoleChild)
}

// Connect joins the tree of the node listening on address:port as its
// child. A node that already has a parent cannot connect again.
func (o *Overlay) Connect(ctx context.Context, address string, port int) error {
    err := o.connect(ctx, net.JoinHostPort(address, strconv.Itoa(port)))
    o.report(connectOutcome(err), err)
    return err
}

func (o *Overlay) connect(ctx context.Context, addr string) error {
    if p, ok := o.rt.View().Parent(); ok {
        return fmt.Errorf("connect %s: parent is %s: %w", addr, p, tree.ErrParentExists)
    }
    dctx, cancel := context.WithTimeout(ctx, o.opts.HandshakeTimeout)
    defer cancel()
    var d net.Dialer
    conn, err := d.DialContext(dctx, "tcp", addr)
    if err != nil {
        return fmt.Errorf("%w: %s: %w", ErrPeerUnreachable, addr, err)
    }

    _ = conn.SetDeadline(time.Now().Add(o.opts.HandshakeTimeout))
    if err := transport.WriteConnectRequest(conn, o.rt.Snapshot()); err != nil {
        _ = conn.Close()
        return fmt.Errorf("connect %s: %w", addr, err)
    }
    br := bufio.NewReader(conn)
    cand, err := transport.ReadReply(br)
    if err != nil {
        _ = conn.Close()
        return fmt.Errorf("connect %s: %w", addr, err)
    }
    _ = conn.SetDeadline(time.Time{})

    link := transport.NewLink(conn, br, cand.Node(), o.opts.Link)
    if err := o.rt.AttachParent(link, cand, false); err != nil {
        _ = conn.Close()
        return fmt.Errorf("connect %s: %w", addr, err)
    }
    o.bind(link, conn.RemoteAddr().String(), peers.RoleParent)
    o.rt.NotifyUpdated()
    return nil
}

// bind starts a link that the router already knows about.
func (o *Overlay) bind(l *transport.Link, raddr string, role peers.Role) {
    if st := o.opts.Link.Stats; st != nil {
        st.Connected(l.Node(), raddr, role)
    }
    o.mu.Lock()
    o.links[l] = struct{}{}
    o.mu.Unlock()
    zap.L().Info("link up", zap.Stringer("peer", l.Node()), zap.String("raddr", raddr), zap.String("role", string(role)))
    l.Start(func(m *protocol.Message) { o.rt.Receive(m) }, o.linkDown)
}

func (o *Overlay) linkDown(l *transport.Link, cause error) {
    o.rt.Detach(l, true)
    o.mu.Lock()
    delete(o.links, l)
    o.mu.Unlock()
}

// Links returns the number of established links.
func (o *Overlay) Links() int {
    o.mu.Lock(); defer o.mu.Unlock()
    return len(o.links)
}

// Bootstrap tries each target ("host:port") in order until one accepts
// this node as its child. Each target is retried with exponential backoff
// while unreachable; a denial moves on to the next target at once.
func (o *Overlay) Bootstrap(ctx context.Context, targets ...string) error {
    var errs error
    for _, target := range targets {
        err := o.bootstrap(ctx, target)
        if err == nil {
            return nil
        }
        errs = multierr.Append(errs, err)
        if ctx.Err() != nil || errors.Is(err, tree.ErrParentExists) {
            break
        }
    }
    return errs
}

func (o *Overlay) bootstrap(ctx context.Context, target string) error {
    host, ps, err := net.SplitHostPort(target)
    if err != nil { return fmt.Errorf("bootstrap target %q: %w", target, err) }
    port, err := strconv.Atoi(ps)
    if err != nil { return fmt.Errorf("bootstrap target %q: %w", target, err) }

    backoff := o.opts.BackoffInitial
    for attempt := 1; ; attempt++ {
        err := o.Connect(ctx, host, port)
        if err == nil || !errors.Is(err, ErrPeerUnreachable) {
            return err
        }
        if o.opts.DialAttempts > 0 && attempt >= o.opts.DialAttempts {
            return err
        }
        wait := withJitter(backoff, o.opts.BackoffJitter)
        zap.L().Warn("dial failed", zap.String("addr", target), zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
        select {
        case <-ctx.Done():
            return multierr.Append(err, ctx.Err())
        case <-time.After(wait):
        }
        if backoff < o.opts.BackoffMax {
            backoff *= 2
            if backoff > o.opts.BackoffMax { backoff = o.opts.BackoffMax }
        }
    }
}

// Stop closes the listener. Established links stay up.
func (o *Overlay) Stop() error {
    o.mu.Lock()
    ln := o.ln
    o.ln = nil
    o.mu.Unlock()
    if ln == nil {
        return nil
    }
    err := ln.Close()
    o.wg.Wait()
    return err
}

// Close stops the listener and tears every link down.
func (o *Overlay) Close() error {
    err := o.Stop()
    o.mu.Lock()
    links := make([]*transport.Link, 0, len(o.links))
    for l := range o.links {
        links = append(links, l)
    }
    o.mu.Unlock()
    for _, l := range links {
        err = multierr.Append(err, l.Close())
    }
    return err
}

func (o *Overlay) report(out Outcome, err error) {
    if err != nil {
        zap.L().Info("overlay outcome", zap.Stringer("outcome", out), zap.Error(err))
    } else {
        zap.L().Info("overlay outcome", zap.Stringer("outcome", out))
    }
    if o.opts.OnOutcome != nil {
        o.opts.OnOutcome(out, err)
    }
}
