package peer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lattice-run/lattice/pkg/ledger"
	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/objectstore"
	"github.com/lattice-run/lattice/pkg/types"
)

// TaskRunner executes a task that a remote peer dispatched to one of
// this node's local providers. Implemented by the node's Workflow
// Executor/Scheduler pair in cmd/latticed.
type TaskRunner interface {
	RunDispatchedTask(ctx context.Context, providerID string, task *types.Task, fn *types.FunctionSpec, argRefs []types.ObjectRef, sessionID string) (types.ObjectRef, error)
}

// ResultReporter learns the outcome of a task this node dispatched to
// a remote peer, via the ReportResult callback. This closes the
// return leg a plain dispatch/fetch_object pair leaves open: the
// origin peer's Workflow Executor needs to observe a remotely-run
// task's outcome, not just hand it off.
type ResultReporter interface {
	HandleRemoteResult(sessionID, taskID string, result *types.ObjectRef, errKind types.ErrorKind, message string)
}

// Config bundles Mesh's construction parameters.
type Config struct {
	LocalPeerID    string
	LocalAddress   string
	Ledger         *ledger.Ledger
	Store          objectstore.Store
	Runner         TaskRunner
	Reporter       ResultReporter
	GossipInterval time.Duration
	MissThreshold  int
	TLSConfig      *tls.Config // nil uses insecure transport, for tests
}

// Mesh implements the all-to-all gossip mesh of spec §4.5: periodic
// push of a provider-catalog summary with a monotonic version,
// liveness tracking, three-miss dead-peer detection, and the
// dispatch/fetch_object RPCs, transported over hand-rolled grpc
// (pkg/peer/service.go) since no protoc pipeline is available here.
type Mesh struct {
	cfg Config

	mu         sync.RWMutex
	peers      map[string]*types.Peer
	conns      map[string]*grpc.ClientConn
	catalogVer uint64

	server *grpc.Server
	stopCh chan struct{}
	logger zerolog.Logger
}

// New constructs a Mesh. Call Serve to start accepting RPCs and Start
// to begin the gossip loop.
func New(cfg Config) *Mesh {
	if cfg.GossipInterval == 0 {
		cfg.GossipInterval = 2 * time.Second
	}
	if cfg.MissThreshold == 0 {
		cfg.MissThreshold = 3
	}
	return &Mesh{
		cfg:    cfg,
		peers:  make(map[string]*types.Peer),
		conns:  make(map[string]*grpc.ClientConn),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("peer").With().Str("peer_id", cfg.LocalPeerID).Logger(),
	}
}

// Serve starts a grpc listener at addr and begins accepting RPCs from
// other peers. The listener address is returned for tests that bind
// an ephemeral port.
func (m *Mesh) Serve(addr string) (string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("peer: listen: %w", err)
	}

	var opts []grpc.ServerOption
	if m.cfg.TLSConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(m.cfg.TLSConfig)))
	}
	m.server = grpc.NewServer(opts...)
	RegisterPeerAPIServer(m.server, &meshServer{m: m})

	go func() {
		if err := m.server.Serve(lis); err != nil {
			m.logger.Debug().Err(err).Msg("peer grpc server stopped")
		}
	}()

	return lis.Addr().String(), nil
}

// Start begins the periodic gossip loop.
func (m *Mesh) Start() {
	go m.gossipLoop()
}

// Stop tears down the gossip loop, the grpc server, and all client
// connections.
func (m *Mesh) Stop() {
	close(m.stopCh)
	if m.server != nil {
		m.server.GracefulStop()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cc := range m.conns {
		_ = cc.Close()
	}
}

// SetTaskRunner wires the TaskRunner after construction, for callers
// that build the runner (the node's Workflow Executor) from pieces
// that themselves depend on this Mesh, such as its object fetcher.
// Safe to call any time before Serve starts accepting RPCs.
func (m *Mesh) SetTaskRunner(r TaskRunner) {
	m.cfg.Runner = r
}

// SetResultReporter wires the ResultReporter after construction; see
// SetTaskRunner.
func (m *Mesh) SetResultReporter(r ResultReporter) {
	m.cfg.Reporter = r
}

// AddPeer registers a remote peer to gossip with, typically learned
// via a join token handshake (pkg/token).
func (m *Mesh) AddPeer(id, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[id]; ok {
		return
	}
	m.peers[id] = &types.Peer{ID: id, Address: address, Providers: make(map[string]*types.Provider)}
}

// Peers returns a snapshot of known remote peers.
func (m *Mesh) Peers() []types.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	return out
}

func (m *Mesh) gossipLoop() {
	ticker := time.NewTicker(m.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.gossipRound()
		}
	}
}

func (m *Mesh) gossipRound() {
	m.mu.RLock()
	targets := make([]*types.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		targets = append(targets, p)
	}
	m.mu.RUnlock()

	metrics.PeersKnown.Set(float64(len(targets)))

	for _, p := range targets {
		metrics.PeerGossipRoundsTotal.Inc()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.GossipInterval)
		err := m.gossipOne(ctx, p)
		cancel()

		m.mu.Lock()
		cur, ok := m.peers[p.ID]
		if !ok {
			m.mu.Unlock()
			continue
		}
		if err != nil {
			cur.Missed++
			m.logger.Warn().Str("remote_peer", p.ID).Int("missed", cur.Missed).Err(err).Msg("gossip round failed")
			if cur.Missed >= m.cfg.MissThreshold {
				delete(m.peers, p.ID)
				m.mu.Unlock()
				m.onPeerDead(p.ID)
				continue
			}
		} else {
			cur.Missed = 0
			cur.LastHeartbeat = time.Now()
		}
		m.mu.Unlock()
	}
}

func (m *Mesh) gossipOne(ctx context.Context, p *types.Peer) error {
	cc, err := m.dial(p.ID, p.Address)
	if err != nil {
		return err
	}
	client := NewPeerAPIClient(cc)

	req := &GossipRequest{
		PeerID:     m.cfg.LocalPeerID,
		Address:    m.cfg.LocalAddress,
		CatalogVer: m.nextCatalogVer(),
		Providers:  m.localCatalog(),
	}
	resp, err := client.Gossip(ctx, req)
	if err != nil {
		return err
	}
	m.mergeCatalog(p.ID, resp.CatalogVer, resp.Providers)
	return nil
}

// onPeerDead releases every reservation held against providers owned
// by the dead peer, per spec §4.4/§4.5's dead-provider sweep.
func (m *Mesh) onPeerDead(peerID string) {
	m.logger.Warn().Str("remote_peer", peerID).Msg("peer declared dead after missed gossip rounds")
	metrics.PeersDeadTotal.Inc()
	for _, p := range m.cfg.Ledger.Providers() {
		if p.PeerID == peerID {
			m.cfg.Ledger.Heartbeat(p.ID, time.Time{}) // force next sweep to evict
		}
	}
}

func (m *Mesh) nextCatalogVer() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogVer++
	metrics.CatalogVersion.Set(float64(m.catalogVer))
	return m.catalogVer
}

func (m *Mesh) localCatalog() []ProviderSummary {
	var out []ProviderSummary
	for _, p := range m.cfg.Ledger.Providers() {
		if p.PeerID != m.cfg.LocalPeerID {
			continue
		}
		out = append(out, ProviderSummary{
			ProviderID: p.ID,
			Kind:       p.Kind,
			Capacity:   p.Capacity,
			Allocated:  p.Allocated,
			Tags:       p.Tags,
		})
	}
	return out
}

func (m *Mesh) mergeCatalog(peerID string, ver uint64, providers []ProviderSummary) {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	if ok {
		if ver <= p.CatalogVer {
			m.mu.Unlock()
			return
		}
		p.CatalogVer = ver
	}
	m.mu.Unlock()

	for _, ps := range providers {
		m.cfg.Ledger.RegisterProvider(types.Provider{
			ID:            ps.ProviderID,
			Kind:          ps.Kind,
			PeerID:        peerID,
			Capacity:      ps.Capacity,
			Allocated:     ps.Allocated,
			Tags:          ps.Tags,
			LastHeartbeat: time.Now(),
			ConnState:     types.ProviderConnected,
		})
	}
}

func (m *Mesh) dial(peerID, address string) (*grpc.ClientConn, error) {
	m.mu.RLock()
	cc, ok := m.conns[peerID]
	m.mu.RUnlock()
	if ok {
		return cc, nil
	}

	var creds credentials.TransportCredentials
	if m.cfg.TLSConfig != nil {
		creds = credentials.NewTLS(m.cfg.TLSConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	cc, err := grpc.NewClient(address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", peerID, err)
	}

	m.mu.Lock()
	m.conns[peerID] = cc
	m.mu.Unlock()
	return cc, nil
}

// Dispatch hands task off to the peer owning providerID, satisfying
// scheduler.PeerDispatcher. It blocks only for the remote accept/
// refuse decision; the invocation itself runs asynchronously on the
// remote peer and reports back via ReportResult.
func (m *Mesh) Dispatch(ctx context.Context, providerID string, task *types.Task, fn *types.FunctionSpec, argRefs []types.ObjectRef, sessionID string) error {
	p, ok := m.cfg.Ledger.Provider(providerID)
	if !ok {
		return fmt.Errorf("peer: unknown provider %s", providerID)
	}

	m.mu.RLock()
	remote, ok := m.peers[p.PeerID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("peer: unknown peer %s for provider %s", p.PeerID, providerID)
	}

	cc, err := m.dial(remote.ID, remote.Address)
	if err != nil {
		return err
	}
	client := NewPeerAPIClient(cc)

	resp, err := client.Dispatch(ctx, &DispatchRequest{
		OriginPeerID: m.cfg.LocalPeerID,
		ProviderID:   providerID,
		SessionID:    sessionID,
		Task:         task,
		Function:     fn,
		ArgRefs:      argRefs,
	})
	if err != nil {
		return fmt.Errorf("peer: dispatch rpc: %w", err)
	}
	if !resp.Accepted {
		return fmt.Errorf("peer: dispatch refused: %s", resp.Reason)
	}
	metrics.TasksDispatchedTotal.WithLabelValues("remote_accepted").Inc()
	return nil
}

// FetchRemoteObject fetches one object's bytes from peerID, satisfying
// objectstore.RemoteFetch.
func (m *Mesh) FetchRemoteObject(ctx context.Context, peerID, objectID string) (*types.Object, error) {
	m.mu.RLock()
	remote, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("peer: unknown peer %s", peerID)
	}

	cc, err := m.dial(remote.ID, remote.Address)
	if err != nil {
		return nil, err
	}
	client := NewPeerAPIClient(cc)

	resp, err := client.FetchObject(ctx, &FetchObjectRequest{ObjectID: objectID})
	if err != nil {
		return nil, fmt.Errorf("peer: fetch_object rpc: %w", err)
	}
	if !resp.Found {
		return nil, fmt.Errorf("peer: object %s not found on %s", objectID, peerID)
	}
	return resp.Object, nil
}

// meshServer adapts *Mesh to PeerAPIServer under distinct method names
// so Mesh's own client-facing Dispatch/FetchRemoteObject don't collide
// with the RPC handlers' signatures.
type meshServer struct {
	m *Mesh
}

func (s *meshServer) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchResponse, error) {
	m := s.m
	if m.cfg.Runner == nil {
		return &DispatchResponse{Accepted: false, Reason: "node does not run a task executor"}, nil
	}

	go func() {
		ctx := context.Background()
		result, err := m.cfg.Runner.RunDispatchedTask(ctx, req.ProviderID, req.Task, req.Function, req.ArgRefs, req.SessionID)

		report := &ReportResultRequest{SessionID: req.SessionID, TaskID: req.Task.ID}
		if err != nil {
			report.ErrorKind = types.ErrWorkerCrashed
			report.Message = err.Error()
		} else {
			report.Result = &result
		}

		m.mu.RLock()
		origin, ok := m.peers[req.OriginPeerID]
		m.mu.RUnlock()
		if !ok {
			m.logger.Error().Str("origin_peer", req.OriginPeerID).Msg("cannot report result: origin peer unknown")
			return
		}
		cc, dialErr := m.dial(origin.ID, origin.Address)
		if dialErr != nil {
			m.logger.Error().Err(dialErr).Str("origin_peer", req.OriginPeerID).Msg("cannot report result: dial failed")
			return
		}
		reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, rerr := NewPeerAPIClient(cc).ReportResult(reportCtx, report); rerr != nil {
			m.logger.Error().Err(rerr).Str("origin_peer", req.OriginPeerID).Msg("report_result rpc failed")
		}
	}()

	return &DispatchResponse{Accepted: true}, nil
}

func (s *meshServer) FetchObject(ctx context.Context, req *FetchObjectRequest) (*FetchObjectResponse, error) {
	obj, err := s.m.cfg.Store.Get(req.ObjectID)
	if err != nil {
		return &FetchObjectResponse{Found: false}, nil
	}
	return &FetchObjectResponse{Found: true, Object: obj}, nil
}

// SaveObject implements the worker-facing half of the object store RPC
// surface (spec §6): a Component Runtime process with no direct access
// to this peer's embedded store saves a result blob over the network.
func (s *meshServer) SaveObject(ctx context.Context, req *SaveObjectRequest) (*SaveObjectResponse, error) {
	if err := s.m.cfg.Store.Save(req.Object); err != nil {
		return nil, fmt.Errorf("peer: save_object: %w", err)
	}
	return &SaveObjectResponse{}, nil
}

func (s *meshServer) Gossip(ctx context.Context, req *GossipRequest) (*GossipResponse, error) {
	m := s.m
	m.mu.Lock()
	if _, ok := m.peers[req.PeerID]; !ok {
		m.peers[req.PeerID] = &types.Peer{ID: req.PeerID, Address: req.Address, Providers: make(map[string]*types.Provider)}
	}
	m.mu.Unlock()

	m.mergeCatalog(req.PeerID, req.CatalogVer, req.Providers)

	return &GossipResponse{
		PeerID:     m.cfg.LocalPeerID,
		Address:    m.cfg.LocalAddress,
		CatalogVer: m.nextCatalogVer(),
		Providers:  m.localCatalog(),
	}, nil
}

func (s *meshServer) ReportResult(ctx context.Context, req *ReportResultRequest) (*ReportResultResponse, error) {
	if s.m.cfg.Reporter != nil {
		s.m.cfg.Reporter.HandleRemoteResult(req.SessionID, req.TaskID, req.Result, req.ErrorKind, req.Message)
	}
	return &ReportResultResponse{}, nil
}
