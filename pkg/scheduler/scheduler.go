// Package scheduler implements the Scheduler (spec component C7): it
// picks a component to run one ready task, following the
// deterministic three-pass algorithm of spec §4.2 — reuse a warm
// component, cold-start a new one, or report backpressure. The
// candidate-ranking placement decision reads a resource snapshot and
// acts on it synchronously per task rather than on a fixed tick, since
// the Workflow Executor calls Dispatch directly for each ready task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-run/lattice/pkg/ledger"
	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/pool"
	"github.com/lattice-run/lattice/pkg/provider"
	"github.com/lattice-run/lattice/pkg/transport"
	"github.com/lattice-run/lattice/pkg/types"
)

// Weights are the α, β, γ coefficients of the cold-start cost score
// (spec §4.2): cost = α·(1−headroom) + β·transfer_estimate +
// γ·cold_start_cost.
type Weights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// PeerDispatcher hands a task off to the peer that owns a
// non-local provider, implemented by pkg/peer.
type PeerDispatcher interface {
	Dispatch(ctx context.Context, providerID string, task *types.Task, fn *types.FunctionSpec, argRefs []types.ObjectRef, sessionID string) error
}

// Result describes where a task ended up: a local component ready for
// invocation, or a remote peer that accepted the dispatch.
type Result struct {
	ComponentID string
	Remote      bool
	ProviderID  string
}

// Scheduler implements the reuse / cold-start / backpressure passes
// of spec §4.2.
type Scheduler struct {
	localPeerID string
	peerAddress string
	ledger      *ledger.Ledger
	pool        *pool.Router
	peers       PeerDispatcher
	providers   map[string]provider.Provider // local providers only, by provider ID
	weights     Weights

	coldStartTimeout       time.Duration
	backpressurePollWindow time.Duration
	backpressurePollEvery  time.Duration

	logger zerolog.Logger
}

// Config bundles Scheduler's construction parameters.
type Config struct {
	LocalPeerID            string
	PeerAddress            string
	Ledger                 *ledger.Ledger
	Pool                   *pool.Router
	Peers                  PeerDispatcher
	Providers              map[string]provider.Provider
	Weights                Weights
	ColdStartTimeout       time.Duration
	BackpressurePollWindow time.Duration
	BackpressurePollEvery  time.Duration
}

// New constructs a Scheduler from cfg, applying sane defaults for any
// zero-valued poll timing.
func New(cfg Config) *Scheduler {
	if cfg.BackpressurePollWindow == 0 {
		cfg.BackpressurePollWindow = 5 * time.Second
	}
	if cfg.BackpressurePollEvery == 0 {
		cfg.BackpressurePollEvery = 250 * time.Millisecond
	}
	return &Scheduler{
		localPeerID:            cfg.LocalPeerID,
		peerAddress:            cfg.PeerAddress,
		ledger:                 cfg.Ledger,
		pool:                   cfg.Pool,
		peers:                  cfg.Peers,
		providers:              cfg.Providers,
		weights:                cfg.Weights,
		coldStartTimeout:       cfg.ColdStartTimeout,
		backpressurePollWindow: cfg.BackpressurePollWindow,
		backpressurePollEvery:  cfg.BackpressurePollEvery,
		logger:                 log.WithComponent("scheduler"),
	}
}

// ErrNoCapacity is returned, wrapped, when no provider admits a
// request within the backpressure polling window.
var ErrNoCapacity = fmt.Errorf("scheduler: no capacity")

// ErrPeerUnreachable is returned, wrapped, when a cold-start pass
// chose a remote provider but the peer owning it refused or could not
// be reached to run the dispatch. Unlike ErrNoCapacity this is not
// retried against the same candidate set: it is returned immediately
// so the caller reschedules the task rather than polling a peer that
// just failed.
var ErrPeerUnreachable = fmt.Errorf("scheduler: peer unreachable")

// Fingerprint computes a stable identity for a FunctionSpec: two specs
// with the same fingerprint are interchangeable for component reuse
// (spec §3).
func Fingerprint(fn *types.FunctionSpec) string {
	h := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%x|%v|%s", fn.Language, fn.PickledBody, fn.Requirements, fn.Venv)))
	return h.String()
}

// Dispatch picks a component for task, starting one cold if no warm
// component is available. affinity carries the ObjectRefs of the
// task's already-resolved inputs, used for the co-location
// preference and transfer-cost estimate.
func (s *Scheduler) Dispatch(ctx context.Context, task *types.Task, fn *types.FunctionSpec, affinity []types.ObjectRef, sessionID string) (Result, error) {
	fingerprint := Fingerprint(fn)
	majoritySource := majoritySourcePeer(affinity)

	if res, ok := s.reusePass(fingerprint, majoritySource); ok {
		metrics.ComponentReuseHitsTotal.Inc()
		return res, nil
	}

	deadline := time.Now().Add(s.backpressurePollWindow)
	for {
		res, err := s.coldStartPass(ctx, task, fn, fingerprint, majoritySource, affinity, sessionID)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrPeerUnreachable) {
			metrics.TasksDispatchedTotal.WithLabelValues("peer_unreachable").Inc()
			return Result{}, err
		}
		if time.Now().After(deadline) {
			metrics.TasksDispatchedTotal.WithLabelValues("no_capacity").Inc()
			return Result{}, fmt.Errorf("%w: %v", ErrNoCapacity, err)
		}
		select {
		case <-time.After(s.backpressurePollEvery):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// reusePass implements spec §4.2 pass 1: prefer an IDLE component on
// the peer owning the majority input source, then any IDLE component
// on the local peer, then any IDLE component cluster-wide; tie-break
// on headroom ratio.
func (s *Scheduler) reusePass(fingerprint, majoritySource string) (Result, bool) {
	idle := s.pool.IdleComponents(fingerprint)
	if len(idle) == 0 {
		return Result{}, false
	}

	rank := func(c types.Component) int {
		p, ok := s.ledger.Provider(c.ProviderID)
		if !ok {
			return 3
		}
		switch {
		case majoritySource != "" && p.PeerID == majoritySource:
			return 0
		case p.PeerID == s.localPeerID:
			return 1
		default:
			return 2
		}
	}
	headroom := func(c types.Component) float64 {
		p, ok := s.ledger.Provider(c.ProviderID)
		if !ok {
			return 0
		}
		return p.Capacity.Headroom(p.Allocated)
	}

	sort.SliceStable(idle, func(i, j int) bool {
		ri, rj := rank(idle[i]), rank(idle[j])
		if ri != rj {
			return ri < rj
		}
		return headroom(idle[i]) > headroom(idle[j])
	})

	return Result{ComponentID: idle[0].ID, ProviderID: idle[0].ProviderID}, true
}

// coldStartPass implements spec §4.2 pass 2.
func (s *Scheduler) coldStartPass(ctx context.Context, task *types.Task, fn *types.FunctionSpec, fingerprint, majoritySource string, affinity []types.ObjectRef, sessionID string) (Result, error) {
	providers := s.ledger.Providers()
	type candidate struct {
		provider types.Provider
		cost     float64
	}
	var candidates []candidate
	for _, p := range providers {
		if p.ConnState != types.ProviderConnected {
			continue
		}
		if !p.Capacity.Fits(p.Allocated, fn.Resources) {
			continue
		}
		if !types.HasTags(p.Tags, fn.Resources.Tags) {
			continue
		}
		headroom := p.Capacity.Headroom(p.Allocated)
		transfer := 0.0
		if majoritySource != "" && p.PeerID != majoritySource {
			transfer = float64(len(affinity))
		}
		coldStart := float64(p.ColdStartMS) / 1000.0
		cost := s.weights.Alpha*(1-headroom) + s.weights.Beta*transfer + s.weights.Gamma*coldStart
		candidates = append(candidates, candidate{provider: p, cost: cost})
	}
	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("no provider satisfies resource request")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].cost != candidates[j].cost {
			return candidates[i].cost < candidates[j].cost
		}
		return candidates[i].provider.ID < candidates[j].provider.ID
	})
	chosen := candidates[0].provider

	reservationID, err := s.ledger.Reserve(chosen.ID, fn.Resources)
	if err != nil {
		return Result{}, err
	}

	if chosen.PeerID != s.localPeerID {
		if err := s.peers.Dispatch(ctx, chosen.ID, task, fn, affinity, sessionID); err != nil {
			_ = s.ledger.Release(reservationID)
			return Result{}, fmt.Errorf("peer dispatch to provider %s: %w: %w", chosen.ID, ErrPeerUnreachable, err)
		}
		_ = s.ledger.Commit(reservationID, "")
		metrics.TasksDispatchedTotal.WithLabelValues("remote").Inc()
		return Result{Remote: true, ProviderID: chosen.ID}, nil
	}

	adapter, ok := s.providers[chosen.ID]
	if !ok {
		_ = s.ledger.Release(reservationID)
		return Result{}, fmt.Errorf("no local provider adapter registered for %s", chosen.ID)
	}

	componentID := "comp." + uuid.New().String()
	waiter := s.pool.ExpectComponent(componentID, fingerprint, chosen.ID, fn)

	startCtx, cancel := context.WithTimeout(ctx, s.coldStartTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	_, err = adapter.StartComponent(startCtx, provider.StartRequest{
		Fingerprint:       fingerprint,
		Function:          fn,
		Resources:         fn.Resources,
		TransportEndpoint: s.pool.Addr(),
		ComponentID:       componentID,
		PeerID:            s.localPeerID,
		PeerAddress:       s.peerAddress,
	})
	if err != nil {
		_ = s.ledger.Release(reservationID)
		return Result{}, fmt.Errorf("start component: %w", err)
	}

	comp, err := s.pool.Wait(startCtx, componentID, waiter)
	if err != nil {
		_ = s.ledger.Release(reservationID)
		return Result{}, fmt.Errorf("cold start handshake: %w", err)
	}
	timer.ObserveDuration(metrics.ColdStartDuration)

	_ = s.ledger.Commit(reservationID, comp.ID)
	metrics.TasksDispatchedTotal.WithLabelValues("cold_start").Inc()
	return Result{ComponentID: comp.ID, ProviderID: chosen.ID}, nil
}

// DispatchToProvider is used on the peer that owns providerID once a
// remote origin peer's cold-start pass has already chosen it: it
// reuses a warm component on providerID if one exists, otherwise cold
// starts directly against providerID without re-ranking across every
// provider this node hosts. This is how a Dispatch RPC (pkg/peer)
// actually runs the task it accepted.
func (s *Scheduler) DispatchToProvider(ctx context.Context, providerID string, task *types.Task, fn *types.FunctionSpec, affinity []types.ObjectRef, sessionID string) (Result, error) {
	fingerprint := Fingerprint(fn)
	for _, c := range s.pool.IdleComponents(fingerprint) {
		if c.ProviderID == providerID {
			return Result{ComponentID: c.ID, ProviderID: providerID}, nil
		}
	}

	adapter, ok := s.providers[providerID]
	if !ok {
		return Result{}, fmt.Errorf("no local provider adapter registered for %s", providerID)
	}

	reservationID, err := s.ledger.Reserve(providerID, fn.Resources)
	if err != nil {
		return Result{}, err
	}

	componentID := "comp." + uuid.New().String()
	waiter := s.pool.ExpectComponent(componentID, fingerprint, providerID, fn)

	startCtx, cancel := context.WithTimeout(ctx, s.coldStartTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	_, err = adapter.StartComponent(startCtx, provider.StartRequest{
		Fingerprint:       fingerprint,
		Function:          fn,
		Resources:         fn.Resources,
		TransportEndpoint: s.pool.Addr(),
		ComponentID:       componentID,
		PeerID:            s.localPeerID,
		PeerAddress:       s.peerAddress,
	})
	if err != nil {
		_ = s.ledger.Release(reservationID)
		return Result{}, fmt.Errorf("start component: %w", err)
	}

	comp, err := s.pool.Wait(startCtx, componentID, waiter)
	if err != nil {
		_ = s.ledger.Release(reservationID)
		return Result{}, fmt.Errorf("cold start handshake: %w", err)
	}
	timer.ObserveDuration(metrics.ColdStartDuration)

	_ = s.ledger.Commit(reservationID, comp.ID)
	metrics.TasksDispatchedTotal.WithLabelValues("cold_start_remote").Inc()
	return Result{ComponentID: comp.ID, ProviderID: providerID}, nil
}

// majoritySourcePeer returns the peer ID that appears as Source most
// often among refs, or "" if refs is empty.
func majoritySourcePeer(refs []types.ObjectRef) string {
	if len(refs) == 0 {
		return ""
	}
	counts := make(map[string]int, len(refs))
	for _, r := range refs {
		counts[r.Source]++
	}
	best, bestCount := "", 0
	for source, count := range counts {
		if count > bestCount || (count == bestCount && source < best) {
			best, bestCount = source, count
		}
	}
	return best
}

// Invoke is a thin pass-through to the Pool, letting callers that only
// import pkg/scheduler avoid a direct pkg/pool and pkg/transport
// dependency for the common case of "dispatch then invoke".
func (s *Scheduler) Invoke(ctx context.Context, componentID, sessionID string, args []transport.Arg) (transport.InvokeResponse, error) {
	return s.pool.Invoke(ctx, componentID, sessionID, args)
}
