package main

import (
    "flag"
    "strings"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/config"
)

// Options holds CLI options for the node. Flags left unset keep the
// configured value.
type Options struct {
    ConfigPath string
    ID         int
    Port       int
    Connect    string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
    fs := flag.NewFlagSet("treenet-node", flag.ExitOnError)
    var opts Options
    fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    fs.IntVar(&opts.ID, "id", 0, "Node id (overrides node.id)")
    fs.IntVar(&opts.Port, "port", -1, "Listen port (overrides listen.port)")
    fs.StringVar(&opts.Connect, "connect", "", "Comma-separated host:port list of nodes to join (overrides connect)")
    _ = fs.Parse(args)
    return opts
}

// apply copies the set flags onto cfg.
func (o Options) apply(cfg *config.Config) {
    if o.ID > 0 {
        cfg.Node.ID = o.ID
    }
    if o.Port >= 0 {
        cfg.Listen.Port = o.Port
    }
    if o.Connect != "" {
        cfg.Connect = strings.Split(o.Connect, ",")
    }
}
