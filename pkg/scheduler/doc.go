/*
Package scheduler implements the Scheduler described in spec §4.2
(component C7): picking a component to run one ready task.

# Three passes

 1. Reuse: among IDLE components matching the task's function
    fingerprint, prefer the peer owning the majority of the task's
    input sources, then the local peer, then anywhere; tie-break on
    provider headroom ratio.
 2. Cold start: rank every provider whose residual capacity and
    hardware tags admit the request by cost = α·(1−headroom) +
    β·transfer_estimate + γ·cold_start_cost, reserve against the
    lowest-cost provider, and either start a component locally
    (Provider Adapter + Component Pool handshake) or hand the task to
    the peer that owns a remote provider.
 3. Backpressure: if no provider admits the request before
    backpressure_poll_window elapses, report no-capacity; callers
    (the Workflow Executor) treat this as transient and retry with
    backoff.

Dispatch is synchronous from the caller's perspective: it blocks for
the cold-start handshake (bounded by cold_start_timeout) or returns
once a remote peer accepts the task.
*/
package scheduler
