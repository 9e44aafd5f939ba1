// Command lattice-worker is the Component Runtime (spec component C2)
// harness for the `go` and `json` language tags: it boots inside a
// provisioned sandbox, speaks the worker transport handshake to its
// owning Component Pool & Router, and executes one registered
// entrypoint for its entire life. The Provider Adapter injects its
// configuration as LATTICE_* environment variables; see
// pkg/provider/containerhost and pkg/provider/cluster.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/objectstore"
	"github.com/lattice-run/lattice/pkg/worker"
)

func main() {
	log.Init(log.Config{Level: log.Level(envOr("LATTICE_LOG_LEVEL", "info")), JSONOutput: true})

	if err := run(); err != nil {
		log.Logger.Error().Err(err).Msg("lattice-worker exited with error")
		os.Exit(1)
	}
}

func run() error {
	transportEndpoint := os.Getenv("LATTICE_TRANSPORT_ENDPOINT")
	componentID := os.Getenv("LATTICE_COMPONENT_ID")
	fingerprint := os.Getenv("LATTICE_FINGERPRINT")
	peerID := os.Getenv("LATTICE_PEER_ID")
	peerAddress := os.Getenv("LATTICE_PEER_ADDRESS")

	if transportEndpoint == "" || componentID == "" {
		return fmt.Errorf("lattice-worker: LATTICE_TRANSPORT_ENDPOINT and LATTICE_COMPONENT_ID are required")
	}
	if peerAddress == "" {
		return fmt.Errorf("lattice-worker: LATTICE_PEER_ADDRESS is required to reach the object store")
	}

	store, err := newRemoteStore(peerAddress)
	if err != nil {
		return fmt.Errorf("lattice-worker: %w", err)
	}
	fetcher := &objectstore.Fetcher{Store: store}

	dependencyTimeout := 2 * time.Minute
	if v := os.Getenv("LATTICE_DEPENDENCY_INSTALL_TIMEOUT"); v != "" {
		if d, perr := time.ParseDuration(v); perr == nil {
			dependencyTimeout = d
		}
	}

	registry := worker.NewRegistry()
	registerBuiltins(registry)

	w := worker.New(worker.Config{
		TransportEndpoint:        transportEndpoint,
		ComponentID:              componentID,
		Fingerprint:              fingerprint,
		LocalPeerID:              peerID,
		Fetcher:                  fetcher,
		Registry:                 registry,
		DependencyInstallTimeout: dependencyTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return w.Run(ctx)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
