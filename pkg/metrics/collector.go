package metrics

import (
	"time"

	"github.com/lattice-run/lattice/pkg/types"
)

// WorkflowSource exposes the executor's in-flight workflow set for
// periodic metrics collection.
type WorkflowSource interface {
	ListWorkflows() []*types.WorkflowInstance
}

// LedgerSource exposes current per-provider allocation for periodic
// metrics collection.
type LedgerSource interface {
	Allocations() map[string]types.Capacity
}

// PeerSource exposes the local peer's gossip view.
type PeerSource interface {
	AlivePeerCount() int
	CatalogVersion() uint64
}

// PoolSource exposes the component pool's current state distribution.
type PoolSource interface {
	ComponentsByState() map[types.ComponentState]int
}

// Collector polls the runtime's subsystems on a fixed interval and
// updates the gauge-shaped metrics that counters and histograms can't
// capture on their own (point-in-time allocation, pool size, peer
// count). Any source may be nil; that source is simply skipped.
type Collector struct {
	workflows WorkflowSource
	ledger    LedgerSource
	peers     PeerSource
	pool      PoolSource
	stopCh    chan struct{}
}

// NewCollector creates a collector over whichever subsystems are
// available. Pass nil for a source the caller hasn't wired yet.
func NewCollector(workflows WorkflowSource, ledger LedgerSource, peers PeerSource, pool PoolSource) *Collector {
	return &Collector{
		workflows: workflows,
		ledger:    ledger,
		peers:     peers,
		pool:      pool,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectLedgerMetrics()
	c.collectPeerMetrics()
	c.collectPoolMetrics()
}

func (c *Collector) collectLedgerMetrics() {
	if c.ledger == nil {
		return
	}
	for providerID, cap := range c.ledger.Allocations() {
		ProviderAllocatedMilliCPU.WithLabelValues(providerID).Set(float64(cap.MilliCPU))
		ProviderAllocatedMemoryBytes.WithLabelValues(providerID).Set(float64(cap.MemoryBytes))
	}
}

func (c *Collector) collectPeerMetrics() {
	if c.peers == nil {
		return
	}
	PeersKnown.Set(float64(c.peers.AlivePeerCount()))
	CatalogVersion.Set(float64(c.peers.CatalogVersion()))
}

func (c *Collector) collectPoolMetrics() {
	if c.pool == nil {
		return
	}
	for state, count := range c.pool.ComponentsByState() {
		ComponentPoolSize.WithLabelValues(string(state)).Set(float64(count))
	}
}
