package overlay

import (
    "errors"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

// Outcome reports how a start or connect attempt ended.
type Outcome uint8

const (
    StartSucceeded Outcome = iota + 1
    StartFailed
    ConnectSucceeded
    ConnectDeniedCycle
    ConnectDeniedExceed
    ConnectFailedUnknown
    // ConnectFailedHasParent: the local node is already attached upstream.
    ConnectFailedHasParent
)

func (o Outcome) String() string {
    switch o {
    case StartSucceeded:
        return "start-succeeded"
    case StartFailed:
        return "start-failed"
    case ConnectSucceeded:
        return "connect-succeeded"
    case ConnectDeniedCycle:
        return "connect-denied-cycle"
    case ConnectDeniedExceed:
        return "connect-denied-exceed"
    case ConnectFailedUnknown:
        return "connect-failed"
    case ConnectFailedHasParent:
        return "connect-failed-has-parent"
    default:
        return "unknown"
    }
}

// OutcomeHandler is notified after every Start and Connect.
type OutcomeHandler func(Outcome, error)

func connectOutcome(err error) Outcome {
    switch {
    case err == nil:
        return ConnectSucceeded
    case errors.Is(err, tree.ErrCycleDetected):
        return ConnectDeniedCycle
    case errors.Is(err, tree.ErrCapacityExceeded):
        return ConnectDeniedExceed
    case errors.Is(err, tree.ErrParentExists):
        return ConnectFailedHasParent
    default:
        return ConnectFailedUnknown
    }
}
