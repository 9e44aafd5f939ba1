/*
Package cluster implements the cluster-orchestrator Provider Adapter:
one Pod per component via k8s.io/client-go, labeled with the
component's fingerprint for observability. StartComponent, StopComponent,
and Heartbeat give the same semantics as the container-host adapter so
the scheduler and component pool never need to know which Provider
implementation they're talking to.
*/
package cluster
