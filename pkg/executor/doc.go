/*
Package executor implements the Workflow Executor described in spec
§4.1 (component C8): the owner of one submitted workflow instance.

Submit validates the task graph (no cycles, every function name
present, every binding resolves to a declared input or an ancestor
task), seeds the client's input objects into the object store, and
releases every task whose bindings are already satisfied. Wait blocks
until the output task reaches a terminal state. Cancel marks the
instance cancelled and fails every non-terminal task that has not yet
been dispatched; a dispatched task keeps running and the result of its
invocation is discarded.

Internally each task runs its own goroutine once its bindings resolve:
build arguments, ask the Scheduler to dispatch, invoke (locally through
the Component Pool or, for a remote provider, via the Peer Layer's
Dispatch/ReportResult round trip), and on success push newly-ready
descendants. Transient failures (spec §7) are retried with exponential
backoff up to max_attempts; permanent failures fail the task and
propagate upstream_failed to every descendant.
*/
package executor
