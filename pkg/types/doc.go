/*
Package types defines the data model shared by every Lattice subsystem.

# Core types

Object model:
  - Object, ObjectRef: content-addressed payloads and pointers to them
  - StreamChunk: one fragment of a stream object

Workflow model:
  - FunctionSpec: an opaque function body plus its resource ask
  - Task, TaskState: one DAG node and its lifecycle
  - WorkflowInstance, WorkflowState: one submitted graph's runtime state
  - ErrorKind: tagged failure categories, some retryable

Placement model:
  - Component, ComponentState: one sandboxed, function-bound worker
  - Provider, ProviderKind, Capacity: a workload-unit target and its
    resource accounting
  - Peer: a remote control-plane node

# State machines

Tasks move PENDING -> READY -> DISPATCHED -> SUCCEEDED|FAILED. Terminal
states are absorbing; ErrorKind.Transient reports whether a failed task
is eligible for retry.

Components move STARTING -> READY -> IDLE <-> BUSY -> DRAINING -> DEAD.
At most one invocation is ever outstanding against a component at a
time, tracked via Component.InFlightSession.
*/
package types
