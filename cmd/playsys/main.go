// playsys runs a WebAssembly guest against the syscall virtualization
// layer. Guest stdout and stderr lines go to the host's stdout and
// stderr, host stdin feeds fd 0, and the process exits with the guest's
// status.
//
// Usage:
//
//	playsys [flags] guest.wasm
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playsys/internal/dispatch"
	"github.com/GriffinCanCode/playsys/internal/file"
	"github.com/GriffinCanCode/playsys/internal/guest"
	"github.com/GriffinCanCode/playsys/internal/hostfs"
	"github.com/GriffinCanCode/playsys/internal/infrastructure/config"
	"github.com/GriffinCanCode/playsys/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playsys/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/playsys/internal/infrastructure/server"
	"github.com/GriffinCanCode/playsys/internal/logging"
	"github.com/GriffinCanCode/playsys/internal/process"
	"github.com/GriffinCanCode/playsys/internal/vfs"
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	wasmPath, err := parseFlags(args, cfg, os.Stderr)
	if err != nil {
		return 0, err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return 0, fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return 0, fmt.Errorf("read guest: %w", err)
	}

	metrics := monitoring.NewMetrics()
	registry, err := buildRegistry(cfg, metrics)
	if err != nil {
		return 0, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := server.New(server.Options{
			Addr:        cfg.Metrics.Addr,
			Metrics:     metrics,
			Registry:    registry,
			Logger:      logger,
			Development: cfg.Logging.Development,
			CORS:        server.CORSConfig{AllowOrigins: cfg.Metrics.CORSOrigins},
			RateLimit: server.RateLimitConfig{
				RequestsPerSecond: cfg.Metrics.RateLimit,
				Burst:             cfg.Metrics.Burst,
			},
		})
		srvCtx, stopSrv := context.WithCancel(context.Background())
		defer stopSrv()
		go func() {
			if err := srv.Run(srvCtx); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	res, err := guest.NewRunner(logger).Run(ctx, wasm, guest.Options{
		Entry: cfg.Runtime.Entry,
		Process: process.Options{
			Registry:       registry,
			Stdin:          os.Stdin,
			Stdout:         lineSink(os.Stdout, metrics, "stdout"),
			Stderr:         lineSink(os.Stderr, metrics, "stderr"),
			MaxFiles:       cfg.Runtime.MaxFiles,
			OnFilesChanged: metrics.SetOpenFiles,
		},
		Dispatch: dispatch.Options{
			Opener:        buildOpener(cfg, metrics, logger),
			ScratchPrefix: cfg.VFS.ScratchPrefix,
			Metrics:       metrics,
		},
	})
	if err != nil {
		return 0, err
	}
	return int(res.ExitCode), nil
}

// buildRegistry creates the synthetic namespace and loads the seed file.
func buildRegistry(cfg *config.Config, metrics *monitoring.Metrics) (*vfs.Registry, error) {
	registry := vfs.New(vfs.Options{Uname: cfg.VFS.Uname})
	if cfg.VFS.SeedFile != "" {
		f, err := os.Open(cfg.VFS.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("open seed: %w", err)
		}
		defer f.Close()
		if _, err := registry.LoadSeed(f); err != nil {
			return nil, fmt.Errorf("load seed %s: %w", cfg.VFS.SeedFile, err)
		}
	}
	metrics.SetVFSEntries(len(registry.Paths()))
	return registry, nil
}

// buildOpener returns the host opener, or nil when host access is off.
func buildOpener(cfg *config.Config, metrics *monitoring.Metrics, logger *logging.Logger) hostfs.Opener {
	if cfg.Host.Root == "" {
		return nil
	}
	dir := hostfs.NewOsDir(cfg.Host.Root, cfg.Host.ChunkSize)
	if !cfg.Breaker.Enabled {
		return dir
	}

	maxFailures := cfg.Breaker.MaxFailures
	guarded := hostfs.NewGuarded(dir, resilience.Settings{
		Timeout: cfg.Breaker.Timeout,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to resilience.State) {
			metrics.SetBreakerState(to.String())
			logger.Warn("Host breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	metrics.SetBreakerState(guarded.Breaker().State().String())
	return guarded
}

// lineSink writes each console line to w and counts it.
func lineSink(w io.Writer, metrics *monitoring.Metrics, stream string) file.LineSink {
	return func(line string) {
		fmt.Fprintln(w, line)
		metrics.IncConsoleLines(stream)
	}
}
