// Package ledger implements the Resource Ledger: per-provider
// capacity/allocation accounting with reserve/commit/release
// semantics, generalized from per-node container counts to
// per-provider resource reservations behind a mutex-guarded
// accounting loop.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/types"
)

// ErrNoCapacity is returned, wrapped, by Reserve when providerID is
// unknown, disconnected, missing a required tag, or out of headroom.
var ErrNoCapacity = errors.New("ledger: no capacity")

// DeadProviderNotifier is called once per component that was
// committed against a provider the ledger just declared dead, so the
// component pool can mark it DEAD without the ledger needing to know
// about components itself.
type DeadProviderNotifier func(providerID string, componentIDs []string)

// CatalogStore persists the provider catalog — the one piece of
// control-plane state spec §6 calls out as persisted at the peer, so
// the known provider set survives a restart without waiting on a live
// heartbeat or a gossip round. Implemented by pkg/objectstore.Store.
type CatalogStore interface {
	SaveProviderCatalog(providers []types.Provider) error
	LoadProviderCatalog() ([]types.Provider, error)
}

type providerEntry struct {
	mu           sync.Mutex
	provider     types.Provider
	reservations map[string]*Reservation
}

// Ledger tracks every provider this peer knows about — its own and
// any discovered through peer gossip — and admits or rejects resource
// reservations against them. Reserve is linearizable per provider: two
// concurrent reserves against the same provider never both succeed
// past capacity.
type Ledger struct {
	coldStartTimeout    time.Duration
	deadProviderTimeout time.Duration
	onProviderDead      DeadProviderNotifier
	catalogStore        CatalogStore
	logger              zerolog.Logger

	mu        sync.RWMutex
	providers map[string]*providerEntry

	stopCh chan struct{}
}

// New creates a ledger. onProviderDead may be nil if the caller
// doesn't need dead-provider notification (e.g. in tests). catalogStore
// may also be nil, in which case the provider catalog is kept
// in-memory only and RestoreCatalog is a no-op; callers that want
// catalog persistence across restarts pass the node's object store.
func New(coldStartTimeout, deadProviderTimeout time.Duration, onProviderDead DeadProviderNotifier, catalogStore CatalogStore) *Ledger {
	return &Ledger{
		coldStartTimeout:    coldStartTimeout,
		deadProviderTimeout: deadProviderTimeout,
		onProviderDead:      onProviderDead,
		catalogStore:        catalogStore,
		logger:              log.WithComponent("ledger"),
		providers:           make(map[string]*providerEntry),
		stopCh:              make(chan struct{}),
	}
}

// RestoreCatalog loads the catalog persisted by the last Save and
// registers each entry as disconnected: a restored provider is visible
// in Providers() immediately, but not schedulable until it heartbeats
// again. A nil catalogStore (no persistence configured) is a no-op.
// Call this once, before Start, so the ticker-driven sweep doesn't
// race the restore.
func (l *Ledger) RestoreCatalog() error {
	if l.catalogStore == nil {
		return nil
	}
	providers, err := l.catalogStore.LoadProviderCatalog()
	if err != nil {
		return fmt.Errorf("restore provider catalog: %w", err)
	}
	for _, p := range providers {
		p.ConnState = types.ProviderDisconnected
		l.upsertProvider(p)
	}
	l.logger.Info().Int("count", len(providers)).Msg("restored provider catalog from disk")
	return nil
}

// Start begins the sweep loop that auto-releases stale reservations
// and dead providers.
func (l *Ledger) Start() {
	go l.run()
}

// Stop stops the sweep loop.
func (l *Ledger) Stop() {
	close(l.stopCh)
}

func (l *Ledger) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweepUncommitted()
			l.sweepDeadProviders()
			l.persistCatalog()
		case <-l.stopCh:
			return
		}
	}
}

// RegisterProvider inserts or refreshes a provider's capacity, tags,
// and heartbeat, marking it connected. Called both for locally-owned
// providers and for entries received through peer gossip.
func (l *Ledger) RegisterProvider(p types.Provider) {
	p.ConnState = types.ProviderConnected
	l.upsertProvider(p)
}

// upsertProvider writes p's fields into its provider entry verbatim,
// including ConnState, so RestoreCatalog can seed a disconnected entry
// while RegisterProvider always seeds a connected one.
func (l *Ledger) upsertProvider(p types.Provider) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.providers[p.ID]
	if !ok {
		entry = &providerEntry{reservations: make(map[string]*Reservation)}
		l.providers[p.ID] = entry
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.provider.ID = p.ID
	entry.provider.Kind = p.Kind
	entry.provider.PeerID = p.PeerID
	entry.provider.Address = p.Address
	entry.provider.Tags = p.Tags
	entry.provider.Capacity = p.Capacity
	entry.provider.LastHeartbeat = p.LastHeartbeat
	entry.provider.ConnState = p.ConnState
	if p.ColdStartMS > 0 {
		entry.provider.ColdStartMS = p.ColdStartMS
	}
}

// Heartbeat refreshes a provider's last-seen timestamp, keeping it out
// of the dead-provider sweep.
func (l *Ledger) Heartbeat(providerID string, lastHeartbeat time.Time) {
	l.mu.RLock()
	entry, ok := l.providers[providerID]
	l.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.provider.LastHeartbeat = lastHeartbeat
	entry.provider.ConnState = types.ProviderConnected
	entry.mu.Unlock()
}

// Provider returns a snapshot of one provider's accounting state.
func (l *Ledger) Provider(providerID string) (types.Provider, bool) {
	l.mu.RLock()
	entry, ok := l.providers[providerID]
	l.mu.RUnlock()
	if !ok {
		return types.Provider{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.provider, true
}

// Providers returns a snapshot of every known provider.
func (l *Ledger) Providers() []types.Provider {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Provider, 0, len(l.providers))
	for _, entry := range l.providers {
		entry.mu.Lock()
		out = append(out, entry.provider)
		entry.mu.Unlock()
	}
	return out
}

// Reserve atomically increments providerID's allocation by req,
// failing if it would exceed capacity or if req's tags aren't a
// subset of the provider's tags.
func (l *Ledger) Reserve(providerID string, req types.ResourceRequest) (string, error) {
	l.mu.RLock()
	entry, ok := l.providers[providerID]
	l.mu.RUnlock()
	if !ok {
		metrics.LedgerReservationsTotal.WithLabelValues("no_capacity").Inc()
		return "", fmt.Errorf("%w: unknown provider %q", ErrNoCapacity, providerID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.provider.ConnState != types.ProviderConnected {
		metrics.LedgerReservationsTotal.WithLabelValues("no_capacity").Inc()
		return "", fmt.Errorf("%w: provider %q is not connected", ErrNoCapacity, providerID)
	}
	if !types.HasTags(entry.provider.Tags, req.Tags) {
		metrics.LedgerReservationsTotal.WithLabelValues("no_capacity").Inc()
		return "", fmt.Errorf("%w: provider %q missing required tags", ErrNoCapacity, providerID)
	}
	if !entry.provider.Capacity.Fits(entry.provider.Allocated, req) {
		metrics.LedgerReservationsTotal.WithLabelValues("no_capacity").Inc()
		return "", fmt.Errorf("%w: provider %q has insufficient headroom", ErrNoCapacity, providerID)
	}

	res := &Reservation{
		ID:         "res." + uuid.New().String(),
		ProviderID: providerID,
		Request:    req,
		CreatedAt:  time.Now(),
	}
	entry.reservations[res.ID] = res
	entry.provider.Allocated.MilliCPU += req.MilliCPU
	entry.provider.Allocated.MemoryBytes += req.MemoryBytes
	entry.provider.Allocated.GPUs += req.GPUs

	metrics.LedgerReservationsTotal.WithLabelValues("granted").Inc()
	l.logger.Debug().Str("provider_id", providerID).Str("reservation_id", res.ID).Msg("reservation granted")
	return res.ID, nil
}

// Commit associates reservationID with a live component. It does not
// change the allocated amount.
func (l *Ledger) Commit(reservationID, componentID string) error {
	entry, res, err := l.find(reservationID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	res.Committed = true
	res.ComponentID = componentID
	return nil
}

// Release decrements the provider's allocation by the reservation's
// amount. Releasing an already-released or unknown reservation is a
// no-op, matching §4.4's idempotence requirement.
func (l *Ledger) Release(reservationID string) error {
	return l.releaseWithReason(reservationID, "committed")
}

func (l *Ledger) releaseWithReason(reservationID, reason string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, entry := range l.providers {
		entry.mu.Lock()
		res, ok := entry.reservations[reservationID]
		if ok {
			delete(entry.reservations, reservationID)
			entry.provider.Allocated.MilliCPU -= res.Request.MilliCPU
			entry.provider.Allocated.MemoryBytes -= res.Request.MemoryBytes
			entry.provider.Allocated.GPUs -= res.Request.GPUs
			if entry.provider.Allocated.MilliCPU < 0 {
				entry.provider.Allocated.MilliCPU = 0
			}
			if entry.provider.Allocated.MemoryBytes < 0 {
				entry.provider.Allocated.MemoryBytes = 0
			}
			if entry.provider.Allocated.GPUs < 0 {
				entry.provider.Allocated.GPUs = 0
			}
		}
		entry.mu.Unlock()
		if ok {
			metrics.LedgerReleasesTotal.WithLabelValues(reason).Inc()
			return nil
		}
	}
	return nil
}

func (l *Ledger) find(reservationID string) (*providerEntry, *Reservation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, entry := range l.providers {
		entry.mu.Lock()
		res, ok := entry.reservations[reservationID]
		entry.mu.Unlock()
		if ok {
			return entry, res, nil
		}
	}
	return nil, nil, fmt.Errorf("ledger: unknown reservation %q", reservationID)
}

// sweepUncommitted auto-releases reservations that have sat
// uncommitted longer than coldStartTimeout.
func (l *Ledger) sweepUncommitted() {
	l.mu.RLock()
	var stale []string
	for _, entry := range l.providers {
		entry.mu.Lock()
		for id, res := range entry.reservations {
			if !res.Committed && time.Since(res.CreatedAt) > l.coldStartTimeout {
				stale = append(stale, id)
			}
		}
		entry.mu.Unlock()
	}
	l.mu.RUnlock()

	for _, id := range stale {
		l.logger.Warn().Str("reservation_id", id).Msg("cold start exceeded timeout, releasing reservation")
		_ = l.releaseWithReason(id, "timeout")
	}
}

// sweepDeadProviders releases every reservation held by a provider
// whose heartbeat is older than deadProviderTimeout and notifies the
// caller of the components that were running on it.
func (l *Ledger) sweepDeadProviders() {
	l.mu.RLock()
	type dead struct {
		providerID string
		components []string
		resIDs     []string
	}
	var deadProviders []dead
	for id, entry := range l.providers {
		entry.mu.Lock()
		if entry.provider.ConnState == types.ProviderConnected &&
			time.Since(entry.provider.LastHeartbeat) > l.deadProviderTimeout {
			d := dead{providerID: id}
			for resID, res := range entry.reservations {
				d.resIDs = append(d.resIDs, resID)
				if res.Committed && res.ComponentID != "" {
					d.components = append(d.components, res.ComponentID)
				}
			}
			entry.provider.ConnState = types.ProviderDisconnected
			deadProviders = append(deadProviders, d)
		}
		entry.mu.Unlock()
	}
	l.mu.RUnlock()

	for _, d := range deadProviders {
		l.logger.Warn().Str("provider_id", d.providerID).Msg("provider missed heartbeat deadline, releasing reservations")
		for _, resID := range d.resIDs {
			_ = l.releaseWithReason(resID, "provider_dead")
		}
		if l.onProviderDead != nil && len(d.components) > 0 {
			l.onProviderDead(d.providerID, d.components)
		}
	}
}

// persistCatalog writes the current provider set to catalogStore, if
// one is configured, so a restart can recover it via RestoreCatalog.
func (l *Ledger) persistCatalog() {
	if l.catalogStore == nil {
		return
	}
	if err := l.catalogStore.SaveProviderCatalog(l.Providers()); err != nil {
		l.logger.Warn().Err(err).Msg("failed to persist provider catalog")
	}
}

// Allocations returns the current allocated Capacity per provider, for
// metrics collection.
func (l *Ledger) Allocations() map[string]types.Capacity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]types.Capacity, len(l.providers))
	for id, entry := range l.providers {
		entry.mu.Lock()
		out[id] = entry.provider.Allocated
		entry.mu.Unlock()
	}
	return out
}
