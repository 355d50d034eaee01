package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	// Addr overrides node.addr when non-zero.
	Addr uint
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("loramesh-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.UintVar(&opts.Addr, "addr", 0, "Node address 1..254, overrides node.addr")
	_ = fs.Parse(args)
	return opts
}
