/*
Package metrics defines and registers the Prometheus collectors for a
Lattice peer: workflow/task throughput and latency, ledger reservation
outcomes and per-provider allocation gauges, peer gossip round counts
and catalog convergence, component pool size and reuse-hit rate,
object store bytes moved, and cold-start latency (observed by the
scheduler on each cold start; its cost function reads the provider's
ColdStartMS field, not this histogram).

Collector polls its ledger, peer layer and component pool sources on a
15-second tick to refresh the gauges (the workflow source it accepts is
not polled); counters and
histograms are updated inline by the subsystems themselves as events
happen. Handler exposes the registry over HTTP for scraping, and health.go
provides liveness/readiness/health JSON endpoints independent of
Prometheus.
*/
package metrics
