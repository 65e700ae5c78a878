package main

import (
    "context"
    "fmt"
    "net"
    "strconv"
    "strings"
    "text/tabwriter"
    "time"

    "github.com/google/uuid"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/prime"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

const usage = `commands:
  tree                                   show the known tree
  connect <host:port>                    join the tree of another node
  say <text>                             send text to every node
  send <id|uuid> <text>                  send text to matching nodes
  prime <id|uuid|self> <threads> <offset> [interval-ms]
                                         start a prime worker on a node
  history <uuid>                         ask a node for its sent messages
  sent                                   list the messages sent from here
  peers                                  list direct links
  quit
`

// exec runs one console line.
func (a *App) exec(ctx context.Context, line string) error {
    cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
    rest = strings.TrimSpace(rest)
    switch strings.ToLower(cmd) {
    case "":
        return nil
    case "help", "?":
        a.printf("%s", usage)
    case "quit", "exit":
        return errQuit
    case "tree":
        a.outMu.Lock()
        defer a.outMu.Unlock()
        if err := a.view.Render(a.out); err != nil { return err }
        fmt.Fprintf(a.out, "%d node(s), %d connection(s)\n", a.rt.View().Size(), a.rt.View().TotalConnections())
    case "connect":
        host, ps, err := net.SplitHostPort(rest)
        if err != nil { return err }
        port, err := strconv.Atoi(ps)
        if err != nil { return fmt.Errorf("bad port %q", ps) }
        if a.ov == nil { return fmt.Errorf("not listening") }
        // the outcome handler prints the result
        _ = a.ov.Connect(ctx, host, port)
    case "say":
        if rest == "" { return fmt.Errorf("usage: say <text>") }
        return a.sendText(nil, protocol.ByID, protocol.Broadcast, rest)
    case "send":
        who, text, ok := strings.Cut(rest, " ")
        if !ok { return fmt.Errorf("usage: send <id|uuid> <text>") }
        target, addr, err := a.parseTarget(who)
        if err != nil { return err }
        return a.sendText(&target, addr, protocol.LookForChildren, strings.TrimSpace(text))
    case "prime":
        return a.startPrime(strings.Fields(rest))
    case "history":
        target, addr, err := a.parseTarget(rest)
        if err != nil { return err }
        msg := protocol.New(a.rt.Self(), &target, protocol.CodeListOfMessages)
        msg.Transfer = protocol.LookForChildren
        msg.Addressing = addr
        a.send(msg, "")
    case "sent":
        for _, e := range a.hist.List() {
            a.printf("%s\n", formatEntry(e))
        }
    case "peers":
        a.outMu.Lock()
        defer a.outMu.Unlock()
        tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
        fmt.Fprintln(tw, "NODE\tROLE\tADDR\tUP\tMSGS IN/OUT\tBYTES IN/OUT")
        for _, p := range a.peers.List() {
            up := "down"
            if p.Connected {
                up = time.Since(time.UnixMilli(p.Since)).Round(time.Second).String()
            }
            fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d/%d\n", p.Node, p.Role, p.Address, up, p.MsgsIn, p.MsgsOut, p.BytesIn, p.BytesOut)
        }
        return tw.Flush()
    default:
        return fmt.Errorf("unknown command %q, try 'help'", cmd)
    }
    return nil
}

// parseTarget reads "self", a unique id or a numeric id. Unique ids select
// ByUniqueID addressing, numeric ids ByID.
func (a *App) parseTarget(s string) (tree.Node, protocol.Addressing, error) {
    s = strings.TrimSpace(s)
    switch {
    case strings.EqualFold(s, "self"):
        return a.rt.Self(), protocol.ByUniqueID, nil
    case s == "":
        return tree.Node{}, 0, fmt.Errorf("missing target")
    }
    if uid, err := uuid.Parse(s); err == nil {
        if n, ok := a.rt.View().Lookup(uid); ok {
            return n, protocol.ByUniqueID, nil
        }
        return tree.Node{UniqueID: uid}, protocol.ByUniqueID, nil
    }
    id, err := strconv.Atoi(s)
    if err != nil {
        return tree.Node{}, 0, fmt.Errorf("bad target %q: want self, a uuid or a numeric id", s)
    }
    return tree.Node{ID: id}, protocol.ByID, nil
}

func (a *App) sendText(target *tree.Node, addr protocol.Addressing, transfer protocol.Transfer, text string) error {
    msg := protocol.New(a.rt.Self(), target, protocol.CodeText)
    msg.Transfer = transfer
    msg.Addressing = addr
    content, err := protocol.EncodeValue(a.rt.Registry(), a.format, text)
    if err != nil { return err }
    msg.Content = content
    a.send(msg, text)
    return nil
}

func (a *App) startPrime(fields []string) error {
    if len(fields) < 3 || len(fields) > 4 {
        return fmt.Errorf("usage: prime <id|uuid|self> <threads> <offset> [interval-ms]")
    }
    target, addr, err := a.parseTarget(fields[0])
    if err != nil { return err }
    var args prime.Args
    if args.ThreadCount, err = strconv.Atoi(fields[1]); err != nil {
        return fmt.Errorf("bad thread count %q", fields[1])
    }
    if args.Offset, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
        return fmt.Errorf("bad offset %q", fields[2])
    }
    if len(fields) == 4 {
        if args.UpdateIntervalMS, err = strconv.Atoi(fields[3]); err != nil {
            return fmt.Errorf("bad interval %q", fields[3])
        }
    }
    if err := args.Validate(); err != nil { return err }

    msg := protocol.New(a.rt.Self(), &target, protocol.CodeStartPrimeGenerator)
    msg.Transfer = protocol.LookForChildren
    msg.Addressing = addr
    content, err := protocol.EncodeValue(a.rt.Registry(), a.format, args)
    if err != nil { return err }
    msg.Content = content
    a.send(msg, strings.Join(args.Format(), " "))
    return nil
}
