// Package pool implements the Component Pool & Router (spec component
// C6): the fingerprint -> {components} map, the worker handshake
// (READY / FUNCTION / ACK), per-component send serialization, and
// INVOKE_RESPONSE demultiplexing by session ID described in spec
// §4.3. One goroutine serves each accepted connection; the live-
// component map is guarded by a single mutex, with typed channels for
// cold-start waiters, generalized into a per-fingerprint component
// registry.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/transport"
	"github.com/lattice-run/lattice/pkg/types"
)

// componentEntry is one tracked component: its control-plane-side
// record plus the connection and a send mutex enforcing "at most one
// in-flight INVOKE_REQUEST per component" (spec §4.3, testable
// property 4).
type componentEntry struct {
	sendMu sync.Mutex
	mu     sync.Mutex
	comp   types.Component
	conn   *transport.Conn
}

// pendingStart is the cold-start waiter the Scheduler blocks on
// between requesting a new component and the worker completing its
// READY/FUNCTION/ACK handshake.
type pendingStart struct {
	fingerprint string
	function    *types.FunctionSpec
	providerID  string
	resultCh    chan startResult
	once        sync.Once
}

type startResult struct {
	comp types.Component
	err  error
}

// Router owns every live component's transport connection and the
// fingerprint index the Scheduler's reuse pass reads.
type Router struct {
	logger zerolog.Logger

	mu            sync.RWMutex
	components    map[string]*componentEntry   // component ID -> entry
	byFingerprint map[string]map[string]bool   // fingerprint -> set of component IDs
	pending       map[string]*pendingStart      // component ID -> cold-start waiter
	invokes       map[string]chan transport.InvokeResponse // session ID -> waiter

	dependencyInstallTimeout time.Duration

	ln *transport.Listener
}

// New creates a Router. dependencyInstallTimeout bounds how long the
// router waits for ACK after sending FUNCTION (spec §5).
func New(dependencyInstallTimeout time.Duration) *Router {
	return &Router{
		logger:                   log.WithComponent("pool"),
		components:               make(map[string]*componentEntry),
		byFingerprint:            make(map[string]map[string]bool),
		pending:                  make(map[string]*pendingStart),
		invokes:                  make(map[string]chan transport.InvokeResponse),
		dependencyInstallTimeout: dependencyInstallTimeout,
	}
}

// Listen starts accepting worker transport connections on addr.
func (r *Router) Listen(addr string) (string, error) {
	ln, err := transport.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("pool: listen %s: %w", addr, err)
	}
	r.ln = ln
	go r.acceptLoop()
	return ln.Addr().String(), nil
}

// Addr returns the bound transport endpoint, once Listen has
// succeeded.
func (r *Router) Addr() string {
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr().String()
}

func (r *Router) acceptLoop() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handleConn(conn)
	}
}

// ExpectComponent registers a new component ID the Scheduler just
// reserved capacity for and is about to ask the Provider Adapter to
// start. The returned waiter resolves once the worker completes the
// READY/FUNCTION/ACK handshake, or the caller's context expires
// (cold_start_timeout).
func (r *Router) ExpectComponent(componentID, fingerprint, providerID string, fn *types.FunctionSpec) *pendingStart {
	p := &pendingStart{
		fingerprint: fingerprint,
		function:    fn,
		providerID:  providerID,
		resultCh:    make(chan startResult, 1),
	}
	r.mu.Lock()
	r.pending[componentID] = p
	r.mu.Unlock()
	return p
}

// Wait blocks until the component named by waiter becomes IDLE or ctx
// is done.
func (r *Router) Wait(ctx context.Context, componentID string, waiter *pendingStart) (types.Component, error) {
	select {
	case res := <-waiter.resultCh:
		return res.comp, res.err
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, componentID)
		r.mu.Unlock()
		return types.Component{}, ctx.Err()
	}
}

func (r *Router) handleConn(conn *transport.Conn) {
	env, err := conn.ReadEnvelope()
	if err != nil || env.Type != transport.MsgReady {
		r.logger.Warn().Err(err).Msg("worker connection did not open with READY")
		_ = conn.Close()
		return
	}
	var ready transport.Ready
	if err := transport.Decode(env, &ready); err != nil {
		_ = conn.Close()
		return
	}

	r.mu.Lock()
	p, ok := r.pending[ready.ComponentID]
	if ok {
		delete(r.pending, ready.ComponentID)
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Warn().Str("component_id", ready.ComponentID).Msg("READY from unexpected component ID")
		_ = conn.Close()
		return
	}

	comp := types.Component{
		ID:          ready.ComponentID,
		ProviderID:  p.providerID,
		Fingerprint: p.fingerprint,
		Function:    p.function,
		TransportID: ready.ComponentID,
		State:       types.ComponentStarting,
		CreatedAt:   time.Now(),
	}
	entry := &componentEntry{comp: comp, conn: conn}

	fnEnv, err := transport.Encode(transport.MsgFunction, transport.Function{
		Name:         p.function.Name,
		Language:     string(p.function.Language),
		PickledBody:  p.function.PickledBody,
		Requirements: p.function.Requirements,
	})
	if err != nil {
		p.resultCh <- startResult{err: err}
		_ = conn.Close()
		return
	}
	if err := conn.WriteEnvelope(fnEnv); err != nil {
		p.resultCh <- startResult{err: err}
		_ = conn.Close()
		return
	}

	ackDone := make(chan error, 1)
	go func() {
		env, err := conn.ReadEnvelope()
		if err != nil {
			ackDone <- err
			return
		}
		if env.Type != transport.MsgAck {
			ackDone <- fmt.Errorf("pool: expected ACK, got %s", env.Type)
			return
		}
		var ack transport.Ack
		if err := transport.Decode(env, &ack); err != nil {
			ackDone <- err
			return
		}
		if !ack.Ok {
			ackDone <- fmt.Errorf("pool: worker rejected FUNCTION: %s", ack.Error)
			return
		}
		ackDone <- nil
	}()

	select {
	case err := <-ackDone:
		if err != nil {
			p.resultCh <- startResult{err: err}
			_ = conn.Close()
			return
		}
	case <-time.After(r.dependencyInstallTimeout):
		p.resultCh <- startResult{err: fmt.Errorf("pool: ACK timed out for component %s", comp.ID)}
		_ = conn.Close()
		return
	}

	entry.comp.State = types.ComponentIdle
	entry.comp.LastUsedAt = time.Now()

	r.mu.Lock()
	r.components[comp.ID] = entry
	if r.byFingerprint[comp.Fingerprint] == nil {
		r.byFingerprint[comp.Fingerprint] = make(map[string]bool)
	}
	r.byFingerprint[comp.Fingerprint][comp.ID] = true
	r.mu.Unlock()

	metrics.ComponentPoolSize.WithLabelValues(string(types.ComponentIdle)).Inc()
	p.resultCh <- startResult{comp: entry.comp}

	r.readLoop(entry)
}

// readLoop demultiplexes INVOKE_RESPONSE frames for one component
// until the connection closes, at which point the component is
// declared DEAD.
func (r *Router) readLoop(entry *componentEntry) {
	for {
		env, err := entry.conn.ReadEnvelope()
		if err != nil {
			r.markDead(entry.comp.ID)
			return
		}
		if env.Type != transport.MsgInvokeResponse {
			continue
		}
		var resp transport.InvokeResponse
		if err := transport.Decode(env, &resp); err != nil {
			continue
		}

		r.mu.Lock()
		ch, ok := r.invokes[resp.SessionID]
		if ok {
			delete(r.invokes, resp.SessionID)
		}
		r.mu.Unlock()

		entry.mu.Lock()
		entry.comp.State = types.ComponentIdle
		entry.comp.LastUsedAt = time.Now()
		entry.comp.InFlightSession = ""
		entry.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

// IdleComponents returns a snapshot of every IDLE component with the
// given fingerprint, for the Scheduler's reuse pass.
func (r *Router) IdleComponents(fingerprint string) []types.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Component
	for id := range r.byFingerprint[fingerprint] {
		entry, ok := r.components[id]
		if !ok {
			continue
		}
		entry.mu.Lock()
		if entry.comp.State == types.ComponentIdle {
			out = append(out, entry.comp)
		}
		entry.mu.Unlock()
	}
	return out
}

// Component returns a snapshot of one component's state.
func (r *Router) Component(id string) (types.Component, bool) {
	r.mu.RLock()
	entry, ok := r.components[id]
	r.mu.RUnlock()
	if !ok {
		return types.Component{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.comp, true
}

// NewSessionID mints a session ID correlating one invocation's
// INVOKE_REQUEST with its INVOKE_RESPONSE.
func NewSessionID() string {
	return "sess." + uuid.New().String()
}

// Invoke sends one INVOKE_REQUEST to componentID and blocks for its
// INVOKE_RESPONSE or ctx expiry. A component whose connection drops
// mid-flight is marked DEAD by readLoop, but Invoke is not woken by it
// and returns once ctx expires. It enforces the "one outstanding
// INVOKE per component" contract via entry.sendMu, and refuses a
// DRAINING component, whose previous request is still unanswered.
func (r *Router) Invoke(ctx context.Context, componentID, sessionID string, args []transport.Arg) (transport.InvokeResponse, error) {
	r.mu.RLock()
	entry, ok := r.components[componentID]
	r.mu.RUnlock()
	if !ok {
		return transport.InvokeResponse{}, fmt.Errorf("pool: unknown component %q", componentID)
	}

	entry.sendMu.Lock()
	defer entry.sendMu.Unlock()

	entry.mu.Lock()
	if entry.comp.State == types.ComponentDead {
		entry.mu.Unlock()
		return transport.InvokeResponse{}, fmt.Errorf("pool: component %q is dead", componentID)
	}
	if entry.comp.State == types.ComponentDraining {
		entry.mu.Unlock()
		return transport.InvokeResponse{}, fmt.Errorf("pool: component %q is draining an unanswered invocation", componentID)
	}
	entry.comp.State = types.ComponentBusy
	entry.comp.InFlightSession = sessionID
	entry.mu.Unlock()

	ch := make(chan transport.InvokeResponse, 1)
	r.mu.Lock()
	r.invokes[sessionID] = ch
	r.mu.Unlock()

	env, err := transport.Encode(transport.MsgInvokeRequest, transport.InvokeRequest{SessionID: sessionID, Args: args})
	if err != nil {
		return transport.InvokeResponse{}, err
	}
	if err := entry.conn.WriteEnvelope(env); err != nil {
		r.markDead(componentID)
		return transport.InvokeResponse{}, fmt.Errorf("pool: send INVOKE_REQUEST: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.invokes, sessionID)
		r.mu.Unlock()
		entry.mu.Lock()
		entry.comp.State = types.ComponentDraining
		entry.mu.Unlock()
		return transport.InvokeResponse{}, ctx.Err()
	}
}

func (r *Router) markDead(componentID string) {
	r.mu.Lock()
	entry, ok := r.components[componentID]
	if ok {
		delete(r.components, componentID)
		if set, ok := r.byFingerprint[entry.comp.Fingerprint]; ok {
			delete(set, componentID)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.comp.State = types.ComponentDead
	entry.mu.Unlock()
	metrics.ComponentPoolSize.WithLabelValues(string(types.ComponentDead)).Inc()
	r.logger.Warn().Str("component_id", componentID).Msg("component transport lost, marked dead")
}

// Evict removes a DRAINING-with-no-work or DEAD component from the
// pool and closes its connection.
func (r *Router) Evict(componentID string) {
	r.mu.Lock()
	entry, ok := r.components[componentID]
	if ok {
		delete(r.components, componentID)
		if set, ok := r.byFingerprint[entry.comp.Fingerprint]; ok {
			delete(set, componentID)
		}
	}
	r.mu.Unlock()
	if ok {
		_ = entry.conn.Close()
	}
}

// Size returns the number of components currently tracked, for
// metrics and tests.
func (r *Router) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}
