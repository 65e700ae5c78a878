// Command treenet-primegen prints primes, one per line, until it is stopped.
//
//	treenet-primegen -ThreadCount:<0..1024> -Offset:<n> [-UpdateInterval:<500..10000 ms>]
//
// Exit codes: 1 missing arguments, 2 bad thread count, 3 bad offset,
// 4 bad update interval.
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/prime"
)

func main() {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    code := prime.Main(ctx, os.Args[1:], os.Stdout)
    stop()
    os.Exit(code)
}
