// Command dbproxy runs the DBProxy gateway: a resilient front for
// Primary/Replica storage with routing, circuit breaking, failover and
// caching.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/db"
	"github.com/electoral-net/votepipeline/db/metadb"
	"github.com/electoral-net/votepipeline/dbproxy"
	"github.com/electoral-net/votepipeline/dbproxy/sqlstore"
	"github.com/electoral-net/votepipeline/internal/httpserver"
	"github.com/electoral-net/votepipeline/internal/version"
	"github.com/electoral-net/votepipeline/log"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting dbproxy", "version", version.Version)

	if err := os.MkdirAll(cfg.Datadir, 0o755); err != nil {
		log.Fatalf("failed to create datadir: %v", err)
	}

	primaryBackend, err := metadb.New(cfg.PrimaryType, cfg.Datadir+"/primary")
	if err != nil {
		log.Fatalf("failed to open primary backend: %v", err)
	}
	defer primaryBackend.Close()
	primary := dbproxy.NewKVPrimary(primaryBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var replica dbproxy.Store
	if cfg.ReplicaDSN != "" {
		sqlReplica, err := sqlstore.Open(ctx, cfg.ReplicaDSN)
		if err != nil {
			log.Fatalf("failed to connect to replica postgres: %v", err)
		}
		defer sqlReplica.Close()
		replica = sqlReplica
		log.Infow("dbproxy replica backed by postgres")
	} else {
		replicaBackend, err := metadb.New(cfg.PrimaryType, cfg.Datadir+"/replica")
		if err != nil {
			log.Fatalf("failed to open replica backend: %v", err)
		}
		defer replicaBackend.Close()
		replica = dbproxy.NewKVReplica(replicaBackend)
		log.Infow("dbproxy replica backed by in-process kv store")
	}

	breakerCfg := circuitbreaker.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Timeout:          cfg.Circuit.TimeoutSeconds,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
	}

	// pingProbe is the recovery probe for a FAILED target: a lightweight
	// read against the primary backend stands in for "SELECT 1"; any other
	// target is assumed recoverable on next use.
	pingProbe := func(target string) bool {
		if target == "primary" {
			_, err := primaryBackend.Get([]byte("__ping__"))
			return err == nil || errors.Is(err, db.ErrKeyNotFound)
		}
		return true
	}

	proxy := dbproxy.New(dbproxy.Config{
		RecoveryTimeout: cfg.RecoveryTimeout,
		QueryTimeout:    cfg.QueryTimeout,
		Breaker:         breakerCfg,
	}, primary, replica, pingProbe)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpserver.Run(ctx, "dbproxy", addr, proxy.Router(cfg.RequestTimeout))
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
			log.Errorw(err, "dbproxy server stopped unexpectedly")
		}
	}
}
