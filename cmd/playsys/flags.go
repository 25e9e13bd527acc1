package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/playsys/internal/infrastructure/config"
)

// parseFlags applies command-line overrides to cfg and returns the guest
// path. Flag defaults are the values cfg was loaded with, so unset flags
// leave the environment in effect.
func parseFlags(args []string, cfg *config.Config, output io.Writer) (string, error) {
	fs := pflag.NewFlagSet("playsys", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: playsys [flags] guest.wasm\n\nFlags:\n%s", fs.FlagUsages())
	}

	fs.StringVar(&cfg.Runtime.Entry, "entry", cfg.Runtime.Entry, "exported function to start (default: main, __main_argc_argv, _start)")
	fs.IntVar(&cfg.Runtime.MaxFiles, "max-files", cfg.Runtime.MaxFiles, "descriptor table size")
	fs.StringVar(&cfg.Host.Root, "host-root", cfg.Host.Root, "host directory served to the guest (empty disables host files)")
	fs.StringVar(&cfg.VFS.SeedFile, "seed", cfg.VFS.SeedFile, "YAML file of synthetic entries")
	fs.StringVar(&cfg.VFS.Uname, "uname", cfg.VFS.Uname, "system name reported in /sys/uname")
	fs.StringVar(&cfg.VFS.ScratchPrefix, "scratch-prefix", cfg.VFS.ScratchPrefix, "path prefix where guest creates make synthetic files")
	fs.BoolVar(&cfg.Breaker.Enabled, "breaker", cfg.Breaker.Enabled, "guard host opens with a circuit breaker")
	fs.StringVarP(&cfg.Logging.Level, "log-level", "l", cfg.Logging.Level, "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.Logging.Development, "log-dev", cfg.Logging.Development, "human-readable logs")
	fs.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "serve /metrics and /healthz on this address")

	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	switch fs.NArg() {
	case 0:
		fs.Usage()
		return "", errors.New("missing guest module")
	case 1:
		return fs.Arg(0), nil
	default:
		return "", fmt.Errorf("unexpected argument: %s", fs.Arg(1))
	}
}
