package prime

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "io/fs"
    "os"
    "os/exec"
    "strconv"
    "strings"
    "time"

    "go.uber.org/zap"
)

// ErrNotFound is returned when the worker binary cannot be started.
var ErrNotFound = errors.New("prime: generator not found")

// Found is one prime reported by a worker.
type Found struct {
    Prime int64 `json:"prime" cbor:"prime"`
    PID   int   `json:"pid" cbor:"pid"`
}

// Exit describes how a worker ended.
type Exit struct {
    Code int       `json:"code" cbor:"code"`
    At   time.Time `json:"at" cbor:"at"`
    PID  int       `json:"pid" cbor:"pid"`
}

// Starter spawns worker processes.
type Starter struct {
    // Path is the worker binary, looked up in PATH when it has no separator.
    Path string
    // Env is appended to the current environment.
    Env []string
}

// Run starts the worker with a and blocks until it exits. Every stdout line
// that parses as an integer is passed to onPrime. Cancelling ctx kills the
// worker.
func (s *Starter) Run(ctx context.Context, a Args, onPrime func(Found)) (Exit, error) {
    cmd := exec.CommandContext(ctx, s.Path, a.Format()...)
    if len(s.Env) > 0 {
        cmd.Env = append(os.Environ(), s.Env...)
    }
    stdout, err := cmd.StdoutPipe()
    if err != nil { return Exit{}, err }
    if err := cmd.Start(); err != nil {
        if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
            return Exit{}, fmt.Errorf("%w: %s: %w", ErrNotFound, s.Path, err)
        }
        return Exit{}, fmt.Errorf("start %s: %w", s.Path, err)
    }
    pid := cmd.Process.Pid
    zap.L().Info("prime worker started", zap.Int("pid", pid), zap.Strings("args", a.Format()))

    sc := bufio.NewScanner(stdout)
    for sc.Scan() {
        p, err := strconv.ParseInt(strings.TrimSpace(sc.Text()), 10, 64)
        if err != nil {
            continue
        }
        if onPrime != nil {
            onPrime(Found{Prime: p, PID: pid})
        }
    }

    err = cmd.Wait()
    exit := Exit{Code: cmd.ProcessState.ExitCode(), At: time.Now(), PID: pid}
    zap.L().Info("prime worker exited", zap.Int("pid", pid), zap.Int("code", exit.Code))
    if ctx.Err() != nil {
        return exit, ctx.Err()
    }
    var ee *exec.ExitError
    if err != nil && !errors.As(err, &ee) {
        return exit, err
    }
    return exit, nil
}
