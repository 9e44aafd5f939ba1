/*
Package health implements the reachability probes a provider adapter
runs against the sandboxes it manages: TCPChecker dials a component's
advertised port, HTTPChecker polls an HTTP readiness path. Both satisfy
the Checker interface (Check(ctx) Result, Type() CheckType); Status
folds a stream of Results into a debounced healthy/unhealthy verdict
using Config's Retries and StartPeriod, so one flaky probe doesn't flip
a component's reported health.

This is distinct from the dead-peer detection in pkg/peer, which
counts missed gossip rounds, and the dead-provider sweep in
pkg/ledger, which tracks provider heartbeats; neither probes a
component directly.
*/
package health
