/*
Package worker implements the Component Runtime described in spec
§4.7 (component C2): the process that runs inside a provisioned
sandbox for the `go` and `json` language tags.

# Lifecycle

On boot it dials the Component Pool & Router's transport endpoint
(LATTICE_TRANSPORT_ENDPOINT) and sends READY tagged with its component
ID (LATTICE_COMPONENT_ID). It then waits for exactly one FUNCTION
message, installs any declared requirements within
dependency_install_timeout, resolves the declared entrypoint against
its Registry, and replies ACK. A failure anywhere in that sequence is
fatal: the worker returns an error and the router observes the
resulting disconnect.

Every subsequent INVOKE_REQUEST spawns a dispatch goroutine that
resolves each argument through the object store (following a remote
Source hint via objectstore.Fetcher on a local miss), decodes it,
calls the entrypoint by keyword parameters, encodes and uploads the
result, and replies INVOKE_RESPONSE. The router only ever has one
INVOKE_REQUEST in flight per component, so these goroutines never
overlap in practice, but the worker still serializes writes back to
the router with its own mutex since the read loop and any in-flight
dispatch goroutine share the one connection.

# Entrypoints

The wire contract's `pickled_body` is, for this harness, a small JSON
FunctionDescriptor naming an entrypoint already linked into
cmd/lattice-worker — there is no Go mechanism to load arbitrary code
from a byte string without a plugin build step, so this harness serves
as the reference implementation of the wire contract rather than a
generic interpreter. Other language tags are expected to run from
per-language base images that host their own interpreter and speak the
same transport.
*/
package worker
