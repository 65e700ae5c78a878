package overlay

import (
    "math/rand/v2"
    "time"
)

// withJitter adds a random 0..jitter to d.
func withJitter(d, jitter time.Duration) time.Duration {
    if jitter <= 0 {
        return d
    }
    return d + rand.N(jitter)
}
