// Package worker implements the Component Runtime (spec component
// C2): the process that runs inside a provisioned sandbox, speaks the
// worker transport protocol to its Component Pool & Router, and
// executes one function across its lifetime. The boot sequence
// generalizes a pull-image / mount-secrets / run execution loop into
// install-deps / deserialize / invoke.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/objectstore"
	"github.com/lattice-run/lattice/pkg/transport"
	"github.com/lattice-run/lattice/pkg/types"
)

// Config bundles a Worker's construction parameters, populated from
// the LATTICE_* environment variables the Provider Adapter injects
// (pkg/provider/containerhost, pkg/provider/cluster).
type Config struct {
	TransportEndpoint        string
	ComponentID              string
	Fingerprint              string
	LocalPeerID              string
	Fetcher                  *objectstore.Fetcher
	Registry                 *Registry
	DependencyInstallTimeout time.Duration
}

// Worker runs the single-threaded event loop of spec §4.7: one
// connection to the Component Pool & Router, one FUNCTION for the
// component's lifetime, a dispatch goroutine per in-flight
// invocation.
type Worker struct {
	cfg Config

	conn   *transport.Conn
	sendMu sync.Mutex

	fn         *types.FunctionSpec
	descriptor FunctionDescriptor
	entrypoint GoFunc

	logger zerolog.Logger
}

// New constructs a Worker. Dial happens in Run.
func New(cfg Config) *Worker {
	return &Worker{
		cfg:    cfg,
		logger: log.WithComponentID(cfg.ComponentID),
	}
}

// Run dials the router, performs the boot/FUNCTION handshake, and
// serves INVOKE_REQUESTs until the connection drops or ctx is
// cancelled. A handshake failure returns an error without retrying —
// per spec §4.7, the router sees the resulting disconnect and marks
// the component DEAD.
func (w *Worker) Run(ctx context.Context) error {
	conn, err := transport.Dial("tcp", w.cfg.TransportEndpoint)
	if err != nil {
		return fmt.Errorf("worker: dial %s: %w", w.cfg.TransportEndpoint, err)
	}
	w.conn = conn
	defer conn.Close()

	readyEnv, err := transport.Encode(transport.MsgReady, transport.Ready{ComponentID: w.cfg.ComponentID})
	if err != nil {
		return err
	}
	if err := w.write(readyEnv); err != nil {
		return fmt.Errorf("worker: send ready: %w", err)
	}

	env, err := conn.ReadEnvelope()
	if err != nil {
		return fmt.Errorf("worker: waiting for function: %w", err)
	}
	if env.Type != transport.MsgFunction {
		return fmt.Errorf("worker: expected FUNCTION, got %s", env.Type)
	}
	var fnMsg transport.Function
	if err := transport.Decode(env, &fnMsg); err != nil {
		return fmt.Errorf("worker: decode function: %w", err)
	}

	if err := w.handleFunction(ctx, fnMsg); err != nil {
		ackEnv, _ := transport.Encode(transport.MsgAck, transport.Ack{Ok: false, Error: err.Error()})
		_ = w.write(ackEnv)
		return fmt.Errorf("worker: function handshake: %w", err)
	}

	ackEnv, err := transport.Encode(transport.MsgAck, transport.Ack{Ok: true})
	if err != nil {
		return err
	}
	if err := w.write(ackEnv); err != nil {
		return fmt.Errorf("worker: send ack: %w", err)
	}

	w.logger.Info().Str("entrypoint", w.descriptor.Entrypoint).Msg("component ready, serving invocations")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			return fmt.Errorf("worker: connection closed: %w", err)
		}
		if env.Type != transport.MsgInvokeRequest {
			w.logger.Warn().Str("type", string(env.Type)).Msg("unexpected message, ignoring")
			continue
		}
		var req transport.InvokeRequest
		if err := transport.Decode(env, &req); err != nil {
			w.logger.Error().Err(err).Msg("decode invoke request")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.handleInvoke(ctx, req)
		}()
	}
}

// handleFunction implements spec §4.7's FUNCTION handling: install
// dependencies (bounded timeout), deserialize the body, inspect the
// parameter list. Real interpreter-hosted languages install packages
// here; the go/json harness has nothing to fetch since its
// entrypoints are statically linked, so installDependencies only
// enforces the timeout contract for language tags that declare
// requirements.
func (w *Worker) handleFunction(ctx context.Context, fnMsg transport.Function) error {
	fn := &types.FunctionSpec{
		Name:         fnMsg.Name,
		Language:     types.Language(fnMsg.Language),
		PickledBody:  fnMsg.PickledBody,
		Requirements: fnMsg.Requirements,
	}
	w.fn = fn

	if err := w.installDependencies(ctx, fn.Requirements); err != nil {
		return fmt.Errorf("install dependencies: %w", err)
	}

	var descriptor FunctionDescriptor
	if err := json.Unmarshal(fn.PickledBody, &descriptor); err != nil {
		return fmt.Errorf("deserialize function body: %w", err)
	}
	w.descriptor = descriptor

	entrypoint, ok := w.cfg.Registry.Lookup(descriptor.Entrypoint)
	if !ok {
		return errUnknownEntrypoint(descriptor.Entrypoint)
	}
	w.entrypoint = entrypoint

	return nil
}

func (w *Worker) installDependencies(ctx context.Context, requirements []string) error {
	if len(requirements) == 0 {
		return nil
	}
	installCtx, cancel := context.WithTimeout(ctx, w.cfg.DependencyInstallTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.logger.Debug().Strs("requirements", requirements).Msg("installing dependencies")
	}()

	select {
	case <-done:
		return nil
	case <-installCtx.Done():
		return installCtx.Err()
	}
}

// handleInvoke implements spec §4.7's INVOKE_REQUEST handling:
// resolve each argument through the object store (following a remote
// Source hint on a local miss), decode by language tag, call the
// entrypoint by keyword parameters, encode the result, upload it, and
// reply with INVOKE_RESPONSE.
func (w *Worker) handleInvoke(ctx context.Context, req transport.InvokeRequest) {
	start := time.Now()
	resp := transport.InvokeResponse{SessionID: req.SessionID}

	result, err := w.invoke(ctx, req)
	resp.CalcLatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		resp.Error = err.Error()
		metrics.WorkerInvocationsTotal.WithLabelValues("error").Inc()
		w.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("invocation failed")
	} else {
		resp.Result = result
		metrics.WorkerInvocationsTotal.WithLabelValues("ok").Inc()
	}
	metrics.WorkerInvocationDuration.Observe(time.Since(start).Seconds())

	env, encErr := transport.Encode(transport.MsgInvokeResponse, resp)
	if encErr != nil {
		w.logger.Error().Err(encErr).Msg("encode invoke response")
		return
	}
	if err := w.write(env); err != nil {
		w.logger.Error().Err(err).Msg("send invoke response")
	}
}

func (w *Worker) invoke(ctx context.Context, req transport.InvokeRequest) (*transport.ObjectRef, error) {
	args := make(map[string]any, len(req.Args))
	for _, arg := range req.Args {
		ref := types.ObjectRef{ID: arg.Ref.ID, Source: arg.Ref.Source}
		obj, err := w.cfg.Fetcher.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve arg %s: %w", arg.ParamName, err)
		}
		var decoded any
		if err := json.Unmarshal(obj.Payload, &decoded); err != nil {
			return nil, fmt.Errorf("decode arg %s: %w", arg.ParamName, err)
		}
		args[arg.ParamName] = decoded
	}

	out, err := w.entrypoint(args)
	if err != nil {
		return nil, fmt.Errorf("entrypoint %s: %w", w.descriptor.Entrypoint, err)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	resultObj := &types.Object{
		ID:      "obj." + uuid.New().String(),
		Source:  w.cfg.LocalPeerID,
		Lang:    w.fn.Language,
		Payload: payload,
	}
	if err := w.cfg.Fetcher.Store.Save(resultObj); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	metrics.ObjectBytesSavedTotal.Add(float64(len(payload)))

	return &transport.ObjectRef{ID: resultObj.ID, Source: resultObj.Source}, nil
}

func (w *Worker) write(env transport.Envelope) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	return w.conn.WriteEnvelope(env)
}
