package main

import (
    "errors"
    "fmt"

    "go.uber.org/zap"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/history"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/prime"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/router"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

var _ router.Observer = (*App)(nil)

func (a *App) OnReceived(*protocol.Message)       {}
func (a *App) OnForwarded(*protocol.Message, int) {}
func (a *App) OnTopologyChanged(tree.Snapshot)    {}

// OnDelivered handles every message addressed to this node.
func (a *App) OnDelivered(msg *protocol.Message) {
    if msg.Status != protocol.StatusTransfer {
        a.resolve(msg)
        return
    }
    switch msg.Code {
    case protocol.CodeNodesUpdate:
        // picked up by the renderer
    case protocol.CodeText:
        var text string
        if _, err := protocol.DecodeValue(a.rt.Registry(), msg.Content, &text); err != nil {
            a.badContent(msg, err)
            return
        }
        a.printf("[%s] %s\n", msg.Source, text)
    case protocol.CodeListOfMessages:
        a.onListOfMessages(msg)
    case protocol.CodeStartPrimeGenerator:
        var args prime.Args
        if _, err := protocol.DecodeValue(a.rt.Registry(), msg.Content, &args); err != nil {
            a.badContent(msg, err)
            return
        }
        a.printf("[%s] starts prime worker %v\n", msg.Source, args.Format())
        a.workers.Add(1)
        go func() {
            defer a.workers.Done()
            a.runPrime(msg.Source, args)
        }()
    case protocol.CodePrimeFound:
        var f prime.Found
        if _, err := protocol.DecodeValue(a.rt.Registry(), msg.Content, &f); err != nil {
            a.badContent(msg, err)
            return
        }
        a.printf("[%s] prime %d (pid %d)\n", msg.Source, f.Prime, f.PID)
    case protocol.CodePrimeGeneratorExited:
        var e prime.Exit
        if _, err := protocol.DecodeValue(a.rt.Registry(), msg.Content, &e); err != nil {
            a.badContent(msg, err)
            return
        }
        a.printf("[%s] prime worker %d exited with code %d at %s\n", msg.Source, e.PID, e.Code, e.At.Format("15:04:05"))
    case protocol.CodePrimeGeneratorNotFound:
        a.printf("[%s] prime worker not found\n", msg.Source)
    default:
        zap.L().Debug("unhandled message", zap.Stringer("msg", msg))
    }
}

// resolve records the outcome of an acknowledgement or failure report.
func (a *App) resolve(msg *protocol.Message) {
    a.hist.Resolve(msg.ID, msg.Status)
    if msg.Status == protocol.StatusFailed {
        a.printf("%s %s could not be delivered (reported by %s)\n", msg.Code, msg.ID, msg.Source)
    }
}

func (a *App) badContent(msg *protocol.Message, err error) {
    zap.L().Warn("undecodable content", zap.Stringer("msg", msg), zap.Error(err))
}

// onListOfMessages answers an empty request with the sent history along the
// request's own path, and shows a filled one as the sender's tooltip.
func (a *App) onListOfMessages(msg *protocol.Message) {
    if len(msg.Content) > 0 {
        var entries []history.Entry
        if _, err := protocol.DecodeValue(a.rt.Registry(), msg.Content, &entries); err != nil {
            a.badContent(msg, err)
            return
        }
        lines := make([]string, 0, len(entries))
        for _, e := range entries {
            lines = append(lines, formatEntry(e))
        }
        a.view.SetTooltip(msg.Source.UniqueID, lines)
        a.view.OnTooltipOpened(msg.Source)
        a.printf("history of %s:\n", msg.Source)
        for _, l := range lines {
            a.printf("  %s\n", l)
        }
        return
    }

    self := a.rt.Self()
    src := msg.Source
    reply := protocol.New(self, &src, protocol.CodeListOfMessages)
    reply.ID = msg.ID
    reply.Transfer = protocol.UseRoute
    reply.Addressing = protocol.ByUniqueID
    reply.Route = msg.Route.ReturnPath()
    reply.ExpectsResponse = false
    content, err := protocol.EncodeValue(a.rt.Registry(), a.format, a.hist.List())
    if err != nil {
        zap.L().Error("encode history", zap.Error(err))
        return
    }
    reply.Content = content
    if src.UniqueID == self.UniqueID {
        a.OnDelivered(reply)
        return
    }
    a.rt.Originate(reply)
}

func formatEntry(e history.Entry) string {
    s := fmt.Sprintf("#%d %s %s -> %s [%s]", e.Seq, e.Code, e.Transfer, e.Target, e.Status)
    if e.Text != "" {
        s += " " + e.Text
    }
    return s
}

// runPrime runs a worker for requester and reports its progress back with
// LookForChildren addressed by unique id.
func (a *App) runPrime(requester tree.Node, args prime.Args) {
    exit, err := a.starter.Run(a.ctx, args, func(f prime.Found) {
        a.report(requester, protocol.CodePrimeFound, f)
    })
    switch {
    case errors.Is(err, prime.ErrNotFound):
        zap.L().Warn("prime worker not found", zap.Error(err))
        a.report(requester, protocol.CodePrimeGeneratorNotFound, nil)
        return
    case err != nil && exit.PID == 0:
        zap.L().Warn("prime worker failed", zap.Error(err))
        return
    }
    a.report(requester, protocol.CodePrimeGeneratorExited, exit)
}

func (a *App) report(to tree.Node, code protocol.Code, v any) {
    msg := protocol.New(a.rt.Self(), &to, code)
    msg.Transfer = protocol.LookForChildren
    msg.Addressing = protocol.ByUniqueID
    msg.ExpectsResponse = false
    if v != nil {
        content, err := protocol.EncodeValue(a.rt.Registry(), a.format, v)
        if err != nil {
            zap.L().Error("encode report", zap.Stringer("code", code), zap.Error(err))
            return
        }
        msg.Content = content
    }
    a.rt.Originate(msg)
}

// send originates msg and remembers it in the history.
func (a *App) send(msg *protocol.Message, text string) router.Result {
    a.hist.Record(msg, text)
    res := a.rt.Originate(msg)
    if !res.Delivered && res.Forwarded == 0 && msg.Target != nil {
        zap.L().Debug("message went nowhere", zap.Stringer("msg", msg))
    }
    return res
}
