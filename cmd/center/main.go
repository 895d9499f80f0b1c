// Command center runs CenterReceiver: it accepts votes from stations,
// guarantees uniqueness by vote-id and by voter-id, and forwards accepted
// votes to CentralServer, directly or through a broker standing in for it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/electoral-net/votepipeline/center"
	"github.com/electoral-net/votepipeline/internal/httpserver"
	"github.com/electoral-net/votepipeline/internal/version"
	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/vote"
)

// stationClientCache lazily builds and caches one rpc.Client per station,
// resolving its base URL from the configured stationUrls map and falling
// back to defaultStationURL.
type stationClientCache struct {
	urls           map[string]string
	defaultURL     string
	requestTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

func (c *stationClientCache) get(stationID string) *rpc.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[stationID]; ok {
		return client
	}
	baseURL := c.urls[stationID]
	if baseURL == "" {
		// viper lowercases map keys read from a config file.
		baseURL = c.urls[strings.ToLower(stationID)]
	}
	if baseURL == "" {
		baseURL = c.defaultURL
	}
	client := rpc.NewClient(baseURL, c.requestTimeout)
	c.clients[stationID] = client
	return client
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting center", "version", version.Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Datadir, 0o755); err != nil {
		log.Fatalf("failed to create datadir: %v", err)
	}
	store, err := recordstore.Open("center", cfg.Datadir)
	if err != nil {
		log.Fatalf("failed to open center journal: %v", err)
	}
	defer store.Close()

	forwarderClient := rpc.NewClient(cfg.CentralURL, cfg.RequestTimeout)
	forwarder := center.NewCentralClient(forwarderClient)

	receiver, err := center.New(center.Config{SweepInterval: cfg.SweepInterval}, store, forwarder)
	if err != nil {
		log.Fatalf("failed to initialize center receiver: %v", err)
	}

	stations := &stationClientCache{
		urls:           cfg.StationURLs,
		defaultURL:     cfg.DefaultStationURL,
		requestTimeout: cfg.RequestTimeout,
		clients:        make(map[string]*rpc.Client),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The sweeper re-runs processing for votes stuck in RECEIVED; the
	// received store does not carry the originating station's base URL
	// (only voterId/candidateId/timestamp/state), so a stuck-vote ack can
	// only be journaled here, not pushed back to the station. The
	// station's own retry sweep will eventually re-dispatch and get a
	// fresh, station-routed ack.
	receiver.Start(ctx, func(voteID string, state vote.State) {
		log.Infow("center sweep ack", "voteId", voteID, "state", string(state))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpserver.Run(ctx, "center", addr, receiver.Router(cfg.RequestTimeout, stations.get))
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
			log.Errorw(err, "center server stopped unexpectedly")
		}
	}
}
