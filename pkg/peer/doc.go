/*
Package peer implements the Peer Layer described in spec §4.5
(component C5): the all-to-all gossip mesh that lets every
control-plane node in the cluster see every other node's resource
catalog, plus the two cross-peer data-path RPCs the Scheduler and
Object Store rely on.

# Gossip

Every gossip_interval, a peer pushes its local provider catalog
(tagged with a monotonically increasing version) to each peer it
knows about and receives the remote catalog in the same round trip.
Three consecutive missed rounds (peer_miss_threshold) declare a peer
dead: its providers' reservations are released and it is dropped from
the local peer table.

# RPCs

	Dispatch      hands a ready task to the peer that owns a chosen
	              remote provider. The call returns accept/refuse
	              immediately; the invocation itself runs
	              asynchronously on the remote peer, which reports
	              the outcome back via ReportResult.
	FetchObject   serves a local object store lookup to a peer that
	              needs an input byte range it doesn't hold locally.
	SaveObject    lets a Component Runtime sandbox, which has no direct
	              access to its owning peer's embedded store, save a
	              result blob over the network (spec §6's object store
	              RPC surface, worker-facing half).
	ReportResult  closes the loop Dispatch leaves open: it lets the
	              origin peer's Workflow Executor observe a remotely-run
	              task's completion instead of only a fire-and-forget
	              accept/refuse.

All RPCs are transported over grpc using a hand-written ServiceDesc
and a JSON codec (pkg/peer/codec.go) in place of protoc-gen-go-grpc
output, since this environment has no protobuf toolchain available.
*/
package peer
