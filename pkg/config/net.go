package config

import "time"

// NetConfig contains networking tuning options.
type NetConfig struct {
    DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
    DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
    DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms"`
    // DialAttempts bounds the startup dial; 0 retries until the context ends
    DialAttempts int `mapstructure:"dial_attempts"`
}

func (n NetConfig) BackoffInitial() time.Duration { return ms(n.DialBackoffInitialMS) }
func (n NetConfig) BackoffMax() time.Duration     { return ms(n.DialBackoffMaxMS) }
func (n NetConfig) BackoffJitter() time.Duration  { return ms(n.DialBackoffJitterMS) }

// LinkConfig tunes established links.
type LinkConfig struct {
    KeepAliveIntervalMS int `mapstructure:"keepalive_interval_ms"`
    // IdleBackoffMS bounds a blocking read before the loop re-checks for shutdown
    IdleBackoffMS      int `mapstructure:"idle_backoff_ms"`
    HandshakeTimeoutMS int `mapstructure:"handshake_timeout_ms"`
    SendQueue          int `mapstructure:"send_queue"`
}

func (l LinkConfig) KeepAlive() time.Duration        { return ms(l.KeepAliveIntervalMS) }
func (l LinkConfig) IdleBackoff() time.Duration      { return ms(l.IdleBackoffMS) }
func (l LinkConfig) HandshakeTimeout() time.Duration { return ms(l.HandshakeTimeoutMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
