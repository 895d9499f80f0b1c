// Command central runs CentralServer: it receives votes consolidated from
// stations (directly or via broker), deduplicates, anonymizes, and persists
// through DBProxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/electoral-net/votepipeline/central"
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
	log.Infow("starting central server", "version", version.Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Datadir, 0o755); err != nil {
		log.Fatalf("failed to create datadir: %v", err)
	}
	store, err := recordstore.Open("central", cfg.Datadir)
	if err != nil {
		log.Fatalf("failed to open central journal: %v", err)
	}
	defer store.Close()

	dbClient := rpc.NewClient(cfg.DatabaseURL, cfg.RequestTimeout)
	dbproxy := central.NewDBProxyClient(dbClient)

	server, err := central.New(central.Config{}, store, dbproxy)
	if err != nil {
		log.Fatalf("failed to initialize central server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpserver.Run(ctx, "central", addr, server.Router(cfg.RequestTimeout))
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
			log.Errorw(err, "central server stopped unexpectedly")
		}
	}
}
