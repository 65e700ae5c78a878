package main

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "io"
    "os"
    "os/signal"
    "sync"
    "syscall"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/config"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/history"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/memkv"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/observability"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/overlay"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/peers"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/prime"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol/codec"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/render"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/router"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

var errQuit = errors.New("quit")

// App ties one node's router to the console and the prime worker.
type App struct {
    ctx     context.Context
    rt      *router.Router
    ov      *overlay.Overlay
    format  protocol.Format
    hist    *history.Store
    peers   *peers.Store
    starter *prime.Starter
    view    *render.Text

    outMu sync.Mutex
    out   io.Writer

    workers sync.WaitGroup
}

func newApp(ctx context.Context, rt *router.Router, format protocol.Format, hist *history.Store, ps *peers.Store, starter *prime.Starter, out io.Writer) *App {
    a := &App{
        ctx:     ctx,
        rt:      rt,
        format:  format,
        hist:    hist,
        peers:   ps,
        starter: starter,
        view:    render.NewText(),
        out:     out,
    }
    a.view.Update(rt.Snapshot())
    rt.Subscribe(render.Follow{R: a.view})
    rt.Subscribe(a)
    return a
}

func (a *App) printf(format string, args ...any) {
    a.outMu.Lock(); defer a.outMu.Unlock()
    fmt.Fprintf(a.out, format, args...)
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }
    opts.apply(cfg)

    self := tree.NewNode(cfg.Node.ID, cfg.Node.Cluster)
    logger, err := observability.SetupLogger(cfg.Log, observability.NodeFields(self)...)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("treenet-node started", zap.String("app", cfg.AppName), zap.Stringer("self", self))
    zap.L().Debug("effective configuration", zap.Any("config", cfg))

    reg, err := codec.Default()
    if err != nil {
        zap.L().Error("codec registry", zap.Error(err))
        return 1
    }
    format, err := protocol.ParseFormat(cfg.Content.Format)
    if err != nil {
        zap.L().Error("content format", zap.Error(err))
        return 1
    }

    kv := memkv.New(memkv.Options{})
    defer kv.Close()
    ps := peers.NewStore(kv)
    hist := history.New(kv, cfg.History.MaxEntries, cfg.History.TTL())

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    eg, ctx := errgroup.WithContext(ctx)
    rt := router.New(tree.NewView(self, tree.WithCeiling(cfg.Tree.Ceiling)), reg)
    app := newApp(ctx, rt, format, hist, ps, &prime.Starter{Path: cfg.Prime.Path}, os.Stdout)

    ovOpts := overlay.OptionsFromConfig(cfg, ps)
    ovOpts.OnOutcome = app.outcome
    app.ov = overlay.New(rt, ovOpts)
    if err := app.ov.Start(cfg.Listen.Port); err != nil {
        zap.L().Error("failed to start listener", zap.Error(err))
        return 1
    }

    if len(cfg.Connect) > 0 {
        eg.Go(func() error {
            if err := app.ov.Bootstrap(ctx, cfg.Connect...); err != nil {
                zap.L().Warn("bootstrap failed", zap.Strings("targets", cfg.Connect), zap.Error(err))
            }
            return nil
        })
    }
    eg.Go(func() error { return app.console(ctx, os.Stdin) })
    eg.Go(func() error {
        <-ctx.Done()
        return app.ov.Close()
    })

    err = eg.Wait()
    app.workers.Wait()
    if err != nil && !errors.Is(err, errQuit) {
        zap.L().Error("node stopped", zap.Error(err))
        return 1
    }
    zap.L().Info("node stopped")
    return 0
}

// console reads commands until quit, end of input or cancellation.
func (a *App) console(ctx context.Context, in io.Reader) error {
    lines := make(chan string)
    go func() {
        defer close(lines)
        sc := bufio.NewScanner(in)
        for sc.Scan() {
            select {
            case lines <- sc.Text():
            case <-ctx.Done():
                return
            }
        }
    }()
    a.printf("%s ready, type 'help'\n", a.rt.Self())
    for {
        select {
        case <-ctx.Done():
            return nil
        case line, ok := <-lines:
            if !ok {
                return errQuit
            }
            if err := a.exec(ctx, line); err != nil {
                if errors.Is(err, errQuit) {
                    return err
                }
                a.printf("error: %v\n", err)
            }
        }
    }
}

func (a *App) outcome(o overlay.Outcome, err error) {
    if err != nil {
        a.printf("%s: %v\n", o, err)
        return
    }
    a.printf("%s\n", o)
}
