/*
Package pool implements the Component Pool & Router described in spec
§4.3 (component C6).

# Handshake

	Scheduler            Router                 Worker
	   │  ExpectComponent   │                      │
	   │───────────────────>│                      │
	   │  (ask Provider to start sandbox)           │
	   │                    │<──────── READY ───────│
	   │                    │──────── FUNCTION ─────>│
	   │                    │<────────  ACK  ────────│
	   │<── Wait() resolves │                      │
	   │  (component IDLE)  │                      │

# Invocation

Once IDLE, the Workflow Executor asks the Router to Invoke a session.
Router serializes sends per component (entry.sendMu), so a second
INVOKE_REQUEST is never written before the previous session's
INVOKE_RESPONSE arrives or the connection is declared dead — the
isolation property tested in pool_test.go.

# Fingerprint index

byFingerprint maps a FunctionSpec fingerprint to the set of component
IDs currently warmed for it. The Scheduler's reuse pass reads a
snapshot via IdleComponents; Router never decides which component to
reuse itself — that ranking is the Scheduler's job (spec §4.2).
*/
package pool
