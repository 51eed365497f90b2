// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package main is the entry point for the memrankd worker.
//
// Memrankd is a long-running ranking sidecar: it reads line-delimited
// JSON-RPC 2.0 requests on stdin, scores candidate memories against a
// context embedding with a cross-attention model, and writes one response
// per line on stdout. All logging goes to stderr.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layering of defaults, YAML file and
//     MEMRANKD_* environment variables
//  2. Logging: zerolog, JSON to stderr by default
//  3. Service: model construction from the configured seed, then
//     checkpoint restore when the configured file exists
//  4. Supervision: the RPC loop (and the optional metrics listener) run
//     under a suture supervisor; EOF on stdin shuts the tree down
//
// # Methods
//
// score, train, train_from_db, save_checkpoint, status. See the rpc
// package for the exact request and response shapes.
//
// # Example
//
//	echo '{"jsonrpc":"2.0","id":1,"method":"status"}' | ./memrankd
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the supervisor context; an in-flight request
// runs to completion first (requests are never interrupted mid-call).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/memrankd/memrankd/internal/config"
	"github.com/memrankd/memrankd/internal/logging"
	"github.com/memrankd/memrankd/internal/metrics"
	"github.com/memrankd/memrankd/internal/rpc"
	"github.com/memrankd/memrankd/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search standard locations)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memrankd: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	svc := service.New(cfg)

	hook := (&sutureslog.Handler{Logger: slog.New(logging.NewSlogHandler())}).MustHook()
	supervisor := suture.New("memrankd", suture.Spec{EventHook: hook})

	supervisor.Add(&terminalService{inner: rpc.NewServer(svc, os.Stdin, os.Stdout)})
	if cfg.Metrics.Enabled {
		supervisor.Add(metrics.NewServer(cfg.Metrics.Addr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Int("native_dim", cfg.Model.NativeDim).
		Int("internal_dim", cfg.Model.InternalDim).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("worker starting")

	if err := supervisor.Serve(ctx); err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, suture.ErrTerminateSupervisorTree) {
		logging.Fatal().Err(err).Msg("supervisor exited")
	}
	logging.Info().Msg("worker stopped")
}

// terminalService wraps a service whose clean return means the process is
// done (the RPC loop after stdin EOF). Suture restarts services that
// return nil; the wrapper converts a clean return into tree termination.
type terminalService struct {
	inner interface {
		Serve(ctx context.Context) error
	}
}

func (t *terminalService) Serve(ctx context.Context) error {
	if err := t.inner.Serve(ctx); err != nil {
		return err
	}
	return suture.ErrTerminateSupervisorTree
}

func (t *terminalService) String() string {
	return fmt.Sprintf("%v", t.inner)
}
