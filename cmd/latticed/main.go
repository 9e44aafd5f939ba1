// Command latticed runs one Lattice control-plane peer: it hosts the
// Workflow Executor, Scheduler, Resource Ledger, Component Pool, a
// local Provider Adapter, the peer gossip mesh, and the client-facing
// HTTP API, wired together in dependency order: storage, security,
// runtime, scheduling, then the API surface on top.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lattice-run/lattice/pkg/api"
	"github.com/lattice-run/lattice/pkg/config"
	"github.com/lattice-run/lattice/pkg/events"
	"github.com/lattice-run/lattice/pkg/executor"
	"github.com/lattice-run/lattice/pkg/health"
	"github.com/lattice-run/lattice/pkg/ledger"
	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/objectstore"
	"github.com/lattice-run/lattice/pkg/peer"
	"github.com/lattice-run/lattice/pkg/pool"
	"github.com/lattice-run/lattice/pkg/provider"
	"github.com/lattice-run/lattice/pkg/provider/containerhost"
	"github.com/lattice-run/lattice/pkg/scheduler"
	"github.com/lattice-run/lattice/pkg/security"
	"github.com/lattice-run/lattice/pkg/token"
	"github.com/lattice-run/lattice/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "latticed",
	Short:   "latticed runs a Lattice control-plane peer",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("latticed version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.Flags().String("config", "", "path to a YAML config file")
	rootCmd.Flags().String("env-file", "", "path to a .env file")
	rootCmd.Flags().String("log-level", "", "overrides log_level from config")
	rootCmd.Flags().Bool("log-json", false, "overrides log_json from config")
	rootCmd.Flags().String("peer-id", "", "this peer's ID (random if unset)")
	rootCmd.Flags().StringSlice("seed-peer", nil, "id=address pairs of peers to gossip with on startup")
	rootCmd.Flags().String("containerd-socket", "", "containerd socket path for the local container-host provider")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if json, _ := cmd.Flags().GetBool("log-json"); json {
		cfg.LogJSON = true
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	localPeerID, _ := cmd.Flags().GetString("peer-id")
	if localPeerID == "" {
		localPeerID = "peer." + uuid.New().String()
	}
	logger := log.WithComponent("latticed").With().Str("peer_id", localPeerID).Logger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Object store: embedded bbolt, optionally write-through cached in
	// Redis for hot cross-peer fetches.
	boltStore, err := objectstore.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	defer boltStore.Close()
	store := objectstore.NewCachedStore(boltStore, cfg.ObjectStoreRedisAddr, cfg.ObjectRetentionAfterWorkflow, logger)

	// Certificate authority and join tokens, backed by the same
	// database file as every other piece of this peer's state.
	if err := security.SetMeshEncryptionKey(security.DeriveKeyFromMeshID(cfg.MeshID)); err != nil {
		return fmt.Errorf("set mesh encryption key: %w", err)
	}
	ca := security.NewCertAuthority(boltStore)
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return fmt.Errorf("initialize CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return fmt.Errorf("save CA: %w", err)
		}
		logger.Info().Msg("initialized new mesh certificate authority")
	}
	tokens := token.NewManager()

	broker := events.NewBroker()

	led := ledger.New(cfg.ColdStartTimeout, cfg.DeadProviderTimeout, nil, boltStore)
	if err := led.RestoreCatalog(); err != nil {
		return fmt.Errorf("restore provider catalog: %w", err)
	}
	led.Start()
	defer led.Stop()

	router := pool.New(cfg.DependencyInstallTimeout)
	transportAddr, err := router.Listen(cfg.TransportAddress)
	if err != nil {
		return fmt.Errorf("listen transport: %w", err)
	}
	logger.Info().Str("addr", transportAddr).Msg("component transport listening")

	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	host, err := containerhost.New(containerdSocket, types.Capacity{MilliCPU: 8000, MemoryBytes: 16 << 30})
	if err != nil {
		return fmt.Errorf("connect container host: %w", err)
	}
	localProviderID := "provider." + localPeerID
	providers := map[string]provider.Provider{localProviderID: host}

	if report, err := host.Heartbeat(context.Background()); err == nil {
		led.RegisterProvider(types.Provider{
			ID:            localProviderID,
			Kind:          types.ProviderContainerHost,
			PeerID:        localPeerID,
			Capacity:      report.Capacity,
			LastHeartbeat: time.Now(),
			ConnState:     types.ProviderConnected,
		})
	} else {
		return fmt.Errorf("initial provider heartbeat: %w", err)
	}
	stopHeartbeat := startProviderHeartbeat(led, host, localProviderID, cfg.DeadProviderTimeout/3)
	defer close(stopHeartbeat)

	fetcher := &objectstore.Fetcher{Store: store}

	// Runner/Reporter are wired in below once the executor exists: the
	// executor's fetcher needs mesh.FetchRemoteObject first, so the
	// mesh is constructed without them and Set* is called before Serve
	// starts accepting RPCs.
	mesh := peer.New(peer.Config{
		LocalPeerID:    localPeerID,
		LocalAddress:   cfg.PeerAddress,
		Ledger:         led,
		Store:          store,
		GossipInterval: cfg.PeerGossipInterval,
		MissThreshold:  cfg.PeerMissThreshold,
	})
	fetcher.Remote = mesh.FetchRemoteObject

	sched := scheduler.New(scheduler.Config{
		LocalPeerID: localPeerID,
		PeerAddress: cfg.PeerAddress,
		Ledger:      led,
		Pool:        router,
		Peers:       mesh,
		Providers:   providers,
		Weights: scheduler.Weights{
			Alpha: cfg.SchedulerWeights.Alpha,
			Beta:  cfg.SchedulerWeights.Beta,
			Gamma: cfg.SchedulerWeights.Gamma,
		},
		ColdStartTimeout: cfg.ColdStartTimeout,
	})

	exec := executor.New(executor.Config{
		TaskDefaultTimeout:           cfg.TaskDefaultTimeout,
		ObjectRetentionAfterWorkflow: cfg.ObjectRetentionAfterWorkflow,
	}, sched, fetcher, broker, localPeerID)

	mesh.SetTaskRunner(exec)
	mesh.SetResultReporter(exec)

	peerAddr, err := mesh.Serve(cfg.PeerAddress)
	if err != nil {
		return fmt.Errorf("serve peer mesh: %w", err)
	}
	mesh.Start()
	defer mesh.Stop()
	logger.Info().Str("addr", peerAddr).Msg("peer mesh listening")

	for _, seed := range mustStringSlice(cmd, "seed-peer") {
		id, addr, ok := splitSeedPeer(seed)
		if !ok {
			logger.Warn().Str("seed_peer", seed).Msg("ignoring malformed seed peer, want id=address")
			continue
		}
		mesh.AddPeer(id, addr)
	}

	apiServer := api.NewServer(exec, fetcher)

	transportChecker := health.NewTCPChecker(transportAddr).WithTimeout(2 * time.Second)
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", metrics.Handler())
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		res := transportChecker.Check(r.Context())
		if !res.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(res.Message))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	adminServer := &http.Server{Addr: cfg.AdminAddress, Handler: adminMux}
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server stopped")
		}
	}()
	logger.Info().Str("addr", cfg.AdminAddress).Msg("admin (metrics/health) listening")

	workerToken, err := tokens.GenerateToken("worker", 24*time.Hour)
	if err != nil {
		logger.Warn().Err(err).Msg("could not generate worker join token")
	} else {
		logger.Info().Str("token", workerToken.Token).Msg("worker join token (valid 24h)")
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := apiServer.Serve(cfg.BindAddress); err != nil {
			serveErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiServer.Shutdown(ctx)
}

func startProviderHeartbeat(led *ledger.Ledger, p provider.Provider, providerID string, every time.Duration) chan struct{} {
	if every <= 0 {
		every = 5 * time.Second
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), every)
				if _, err := p.Heartbeat(ctx); err == nil {
					led.Heartbeat(providerID, time.Now())
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
	return stop
}

func mustStringSlice(cmd *cobra.Command, name string) []string {
	vals, _ := cmd.Flags().GetStringSlice(name)
	return vals
}

func splitSeedPeer(s string) (id, addr string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
