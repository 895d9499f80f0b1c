// Command station runs a StationAgent: accepts ballots from voters and
// dispatches them reliably to a center receiver or broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/electoral-net/votepipeline/internal/httpserver"
	"github.com/electoral-net/votepipeline/internal/version"
	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/station"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting station", "version", version.Version, "stationId", cfg.StationID)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Datadir, 0o755); err != nil {
		log.Fatalf("failed to create datadir: %v", err)
	}
	store, err := recordstore.Open("station", cfg.Datadir)
	if err != nil {
		log.Fatalf("failed to open station journal: %v", err)
	}
	defer store.Close()

	client := rpc.NewClient(cfg.DispatchURL, cfg.RequestTimeout)
	agent := station.New(station.Config{
		StationID:     cfg.StationID,
		SweepInterval: cfg.SweepInterval,
	}, store, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go agent.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpserver.Run(ctx, "station", addr, agent.Router(cfg.RequestTimeout))
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
			log.Errorw(err, "station server stopped unexpectedly")
		}
	}
}
