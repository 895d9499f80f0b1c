// Command broker runs VoteBroker: a durable, priority-aware queue staged
// between stations and the center, with retry backoff, circuit breaking,
// and persistent replay across restarts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/electoral-net/votepipeline/broker"
	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/internal/httpserver"
	"github.com/electoral-net/votepipeline/internal/version"
	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/rpc"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting broker", "version", version.Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Datadir, 0o755); err != nil {
		log.Fatalf("failed to create datadir: %v", err)
	}
	store, err := recordstore.Open("broker", cfg.Datadir)
	if err != nil {
		log.Fatalf("failed to open broker persistence journal: %v", err)
	}
	defer store.Close()

	centerClient := rpc.NewClient(cfg.CenterURL, cfg.RequestTimeout)
	center := broker.NewCenterClient(centerClient)

	b, err := broker.New(broker.Config{
		Capacity:       cfg.Queue.MaxSize,
		MoverInterval:  cfg.MoverInterval,
		DispatchTarget: "center",
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.Circuit.FailureThreshold,
			Timeout:          cfg.Circuit.TimeoutSeconds,
			SuccessThreshold: cfg.Circuit.SuccessThreshold,
		},
	}, store, center)
	if err != nil {
		log.Fatalf("failed to initialize broker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpserver.Run(ctx, "broker", addr, b.Router(cfg.RequestTimeout))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infow("received signal, shutting down", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Errorw(err, "broker server stopped unexpectedly")
		}
	}
}
