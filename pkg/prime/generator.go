package prime

import (
    "context"
    "errors"
    "fmt"
    "io"
    "runtime"
    "sync"
    "time"

    "golang.org/x/sync/errgroup"
)

// Generator tests consecutive numbers for primality on several goroutines.
// Found primes are kept for trial division; decided tracks the largest
// number below which the list is complete.
type Generator struct {
    mu      sync.Mutex
    next    int64
    primes  []int64
    decided int64
    pending map[int64]bool
}

func NewGenerator() *Generator {
    return &Generator{next: 3, primes: []int64{2}, decided: 2, pending: make(map[int64]bool)}
}

// Run searches until ctx ends. emit is called for every prime not below the
// offset, possibly from several goroutines at once; the emitting goroutine
// then pauses for the update interval.
func (g *Generator) Run(ctx context.Context, a Args, emit func(int64)) error {
    offset := a.Offset
    if offset < 2 {
        offset = 2
    }
    threads := a.ThreadCount
    if threads == 0 {
        threads = max(runtime.NumCPU()-1, 1)
    }
    interval := a.UpdateInterval()

    eg, ctx := errgroup.WithContext(ctx)
    for i := 0; i < threads; i++ {
        eg.Go(func() error {
            for ctx.Err() == nil {
                n := g.take()
                ok := g.isPrime(n)
                g.decide(n, ok)
                if !ok || n < offset {
                    continue
                }
                emit(n)
                select {
                case <-ctx.Done():
                case <-time.After(interval):
                }
            }
            return nil
        })
    }
    return eg.Wait()
}

func (g *Generator) take() int64 {
    g.mu.Lock(); defer g.mu.Unlock()
    n := g.next
    g.next++
    return n
}

func (g *Generator) isPrime(n int64) bool {
    g.mu.Lock()
    primes, decided := g.primes, g.decided
    g.mu.Unlock()

    for _, p := range primes {
        if p*p > n {
            return true
        }
        if n%p == 0 {
            return false
        }
    }
    // numbers above decided may still be in flight on other goroutines
    for d := decided + 1; d*d <= n; d++ {
        if n%d == 0 {
            return false
        }
    }
    return true
}

func (g *Generator) decide(n int64, prime bool) {
    g.mu.Lock(); defer g.mu.Unlock()
    g.pending[n] = prime
    for {
        p, ok := g.pending[g.decided+1]
        if !ok {
            return
        }
        delete(g.pending, g.decided+1)
        g.decided++
        if p {
            g.primes = append(g.primes, g.decided)
        }
    }
}

// Main is the worker process entry point. It returns the exit code.
func Main(ctx context.Context, args []string, stdout io.Writer) int {
    a, err := ParseArgs(args)
    if err != nil {
        var ae *ArgError
        if errors.As(err, &ae) {
            return ae.Code
        }
        return ExitMissingArgs
    }
    var mu sync.Mutex
    emit := func(p int64) {
        mu.Lock(); defer mu.Unlock()
        fmt.Fprintln(stdout, p)
    }
    if err := NewGenerator().Run(ctx, a, emit); err != nil {
        return 1
    }
    return 0
}
