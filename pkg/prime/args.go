// Package prime runs and supervises the prime worker: a separate process
// that prints every prime it finds on its own line.
package prime

import (
    "fmt"
    "strconv"
    "strings"
    "time"
)

const (
    MaxThreadCount          = 1024
    MinUpdateIntervalMS     = 500
    MaxUpdateIntervalMS     = 10000
    DefaultUpdateIntervalMS = 1000
)

// Worker exit codes for rejected arguments.
const (
    ExitMissingArgs = 1
    ExitBadThreads  = 2
    ExitBadOffset   = 3
    ExitBadInterval = 4
)

const (
    keyThreadCount    = "threadcount"
    keyOffset         = "offset"
    keyUpdateInterval = "updateinterval"
)

// Args are the worker parameters. They travel as message content.
type Args struct {
    // ThreadCount 0 picks one less than the CPU count.
    ThreadCount      int   `json:"thread_count" cbor:"thread_count"`
    Offset           int64 `json:"offset" cbor:"offset"`
    UpdateIntervalMS int   `json:"update_interval_ms,omitempty" cbor:"update_interval_ms,omitempty"`
}

func (a Args) UpdateInterval() time.Duration {
    if a.UpdateIntervalMS == 0 {
        return DefaultUpdateIntervalMS * time.Millisecond
    }
    return time.Duration(a.UpdateIntervalMS) * time.Millisecond
}

// Format renders a as worker command line arguments.
func (a Args) Format() []string {
    out := []string{
        "-ThreadCount:" + strconv.Itoa(a.ThreadCount),
        "-Offset:" + strconv.FormatInt(a.Offset, 10),
    }
    if a.UpdateIntervalMS != 0 {
        out = append(out, "-UpdateInterval:"+strconv.Itoa(a.UpdateIntervalMS))
    }
    return out
}

// Validate applies the same bounds as ParseArgs.
func (a Args) Validate() error {
    if a.ThreadCount < 0 || a.ThreadCount > MaxThreadCount {
        return &ArgError{Code: ExitBadThreads, Msg: fmt.Sprintf("thread count %d not in 0..%d", a.ThreadCount, MaxThreadCount)}
    }
    if a.Offset < 0 {
        return &ArgError{Code: ExitBadOffset, Msg: fmt.Sprintf("negative offset %d", a.Offset)}
    }
    if a.UpdateIntervalMS != 0 && (a.UpdateIntervalMS < MinUpdateIntervalMS || a.UpdateIntervalMS > MaxUpdateIntervalMS) {
        return &ArgError{Code: ExitBadInterval, Msg: fmt.Sprintf("update interval %d not in %d..%d", a.UpdateIntervalMS, MinUpdateIntervalMS, MaxUpdateIntervalMS)}
    }
    return nil
}

// ArgError is a rejected worker command line. Code is the process exit code.
type ArgError struct {
    Code int
    Msg  string
}

func (e *ArgError) Error() string { return fmt.Sprintf("prime args (exit %d): %s", e.Code, e.Msg) }

// ParseArgs reads -ThreadCount:<n> -Offset:<n> [-UpdateInterval:<ms>].
// Keys match case-insensitively by prefix; the first match wins.
func ParseArgs(args []string) (Args, error) {
    if len(args) < 2 {
        return Args{}, &ArgError{Code: ExitMissingArgs, Msg: "need -ThreadCount and -Offset"}
    }
    var a Args

    v, ok := lookup(args, keyThreadCount)
    if !ok {
        return Args{}, &ArgError{Code: ExitMissingArgs, Msg: "missing -ThreadCount"}
    }
    n, err := strconv.Atoi(v)
    if err != nil || n < 0 || n > MaxThreadCount {
        return Args{}, &ArgError{Code: ExitBadThreads, Msg: fmt.Sprintf("bad thread count %q", v)}
    }
    a.ThreadCount = n

    v, ok = lookup(args, keyOffset)
    if !ok {
        return Args{}, &ArgError{Code: ExitMissingArgs, Msg: "missing -Offset"}
    }
    off, err := strconv.ParseInt(v, 10, 64)
    if err != nil || off < 0 {
        return Args{}, &ArgError{Code: ExitBadOffset, Msg: fmt.Sprintf("bad offset %q", v)}
    }
    a.Offset = off

    if v, ok = lookup(args, keyUpdateInterval); ok {
        ms, err := strconv.Atoi(v)
        if err != nil || ms < MinUpdateIntervalMS || ms > MaxUpdateIntervalMS {
            return Args{}, &ArgError{Code: ExitBadInterval, Msg: fmt.Sprintf("bad update interval %q", v)}
        }
        a.UpdateIntervalMS = ms
    }
    return a, nil
}

// lookup returns the value after "-<key>:" of the first argument that
// starts with "-<key>".
func lookup(args []string, key string) (string, bool) {
    prefix := "-" + key
    for _, arg := range args {
        if !strings.HasPrefix(strings.ToLower(arg), prefix) {
            continue
        }
        if len(arg) < len(prefix)+1 {
            return "", true
        }
        return arg[len(prefix)+1:], true
    }
    return "", false
}
