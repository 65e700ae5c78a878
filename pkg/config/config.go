// Package config provides YAML-based configuration loading for treenet nodes.
package config

import (
    "errors"
    "fmt"
    "net"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name of the node/application
    AppName string `mapstructure:"app_name"`

    // Node holds the local identity
    Node NodeConfig `mapstructure:"node"`

    // Listen configures the inbound listener
    Listen ListenConfig `mapstructure:"listen"`

    // Connect lists upstream host:port candidates tried in order at startup;
    // empty starts a root
    Connect []string `mapstructure:"connect"`

    // Tree holds the admission policy
    Tree TreeConfig `mapstructure:"tree"`

    // Link tunes per-connection behaviour
    Link LinkConfig `mapstructure:"link"`

    // Net holds network/bootstrap options
    Net NetConfig `mapstructure:"net"`

    // Content selects the payload encoding of application messages
    Content ContentConfig `mapstructure:"content"`

    // History bounds the sent-message history
    History HistoryConfig `mapstructure:"history"`

    // Prime configures the external prime worker
    Prime PrimeConfig `mapstructure:"prime"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "treenet-node",
        Node:    NodeConfig{ID: 1},
        Listen:  ListenConfig{Port: 7700},
        Tree:    TreeConfig{Ceiling: 10},
        Link: LinkConfig{
            KeepAliveIntervalMS: 10000,
            IdleBackoffMS:       1000,
            HandshakeTimeoutMS:  10000,
            SendQueue:           64,
        },
        Net: NetConfig{DialBackoffInitialMS: 500, DialBackoffMaxMS: 30000, DialBackoffJitterMS: 100, DialAttempts: 5},
        Content: ContentConfig{Format: "json"},
        History: HistoryConfig{MaxEntries: 100, TTLSec: 3600},
        Prime:   PrimeConfig{Path: "treenet-primegen"},
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stderr"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/treenet.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix TREENET and `.`/`-` are replaced with `_`.
// Example: TREENET_NODE_ID=3
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("TREENET")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("node.id", cfg.Node.ID)
    v.SetDefault("node.cluster", cfg.Node.Cluster)
    v.SetDefault("listen.host", cfg.Listen.Host)
    v.SetDefault("listen.port", cfg.Listen.Port)
    v.SetDefault("connect", []string{})
    v.SetDefault("tree.ceiling", cfg.Tree.Ceiling)
    v.SetDefault("link.keepalive_interval_ms", cfg.Link.KeepAliveIntervalMS)
    v.SetDefault("link.idle_backoff_ms", cfg.Link.IdleBackoffMS)
    v.SetDefault("link.handshake_timeout_ms", cfg.Link.HandshakeTimeoutMS)
    v.SetDefault("link.send_queue", cfg.Link.SendQueue)
    v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
    v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)
    v.SetDefault("net.dial_backoff_jitter_ms", cfg.Net.DialBackoffJitterMS)
    v.SetDefault("net.dial_attempts", cfg.Net.DialAttempts)
    v.SetDefault("content.format", cfg.Content.Format)
    v.SetDefault("history.max_entries", cfg.History.MaxEntries)
    v.SetDefault("history.ttl_sec", cfg.History.TTLSec)
    v.SetDefault("prime.path", cfg.Prime.Path)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

    // Choose config file
    if path == "" {
        // Allow override via env var
        if envPath := os.Getenv("TREENET_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `treenet`
        v.SetConfigName("treenet")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".treenet"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stderr"}
    }
    if c.Listen.Port < 0 || c.Listen.Port > 65535 {
        return fmt.Errorf("invalid listen.port: %d", c.Listen.Port)
    }
    for _, target := range c.Connect {
        if _, _, err := net.SplitHostPort(target); err != nil {
            return fmt.Errorf("invalid connect target %q: %w", target, err)
        }
    }
    if c.Tree.Ceiling < 2 {
        return fmt.Errorf("invalid tree.ceiling: %d", c.Tree.Ceiling)
    }
    if c.Link.KeepAliveIntervalMS <= 0 {
        return fmt.Errorf("invalid link.keepalive_interval_ms: %d", c.Link.KeepAliveIntervalMS)
    }
    if strings.TrimSpace(c.Node.Cluster) == "" {
        if host, err := os.Hostname(); err == nil {
            c.Node.Cluster = host
        }
    }
    switch strings.ToLower(strings.TrimSpace(c.Content.Format)) {
    case "json", "cbor", "proto", "protobuf":
        // ok
    default:
        return fmt.Errorf("invalid content.format: %q", c.Content.Format)
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
