package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-run/lattice/pkg/events"
	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/objectstore"
	"github.com/lattice-run/lattice/pkg/pool"
	"github.com/lattice-run/lattice/pkg/scheduler"
	"github.com/lattice-run/lattice/pkg/transport"
	"github.com/lattice-run/lattice/pkg/types"
)

// EncodedObject is one client-supplied workflow input, per spec §6's
// `Inputs` map `name -> EncodedObject{language, payload_bytes}`.
type EncodedObject struct {
	Language types.Language
	Payload  []byte
}

// Config bundles the Executor's retry and timeout policy (spec §6/§7).
type Config struct {
	MaxAttempts                 int
	BaseBackoff                 time.Duration
	MaxBackoff                  time.Duration
	TaskDefaultTimeout          time.Duration
	ObjectRetentionAfterWorkflow time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.TaskDefaultTimeout == 0 {
		c.TaskDefaultTimeout = time.Minute
	}
	return c
}

// remoteOutcome is what a ReportResult callback delivers for a task
// this node dispatched to a remote peer.
type remoteOutcome struct {
	result  *types.ObjectRef
	errKind types.ErrorKind
	message string
}

// dispatcher is the subset of *scheduler.Scheduler the executor needs,
// narrowed for testability.
type dispatcher interface {
	Dispatch(ctx context.Context, task *types.Task, fn *types.FunctionSpec, affinity []types.ObjectRef, sessionID string) (scheduler.Result, error)
	Invoke(ctx context.Context, componentID, sessionID string, args []transport.Arg) (transport.InvokeResponse, error)
	DispatchToProvider(ctx context.Context, providerID string, task *types.Task, fn *types.FunctionSpec, affinity []types.ObjectRef, sessionID string) (scheduler.Result, error)
}

// workflowRun is the live runtime state of one submitted instance.
type workflowRun struct {
	mu        sync.Mutex
	instance  *types.WorkflowInstance
	cancelled bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Executor implements the Workflow Executor (spec component C8).
type Executor struct {
	cfg         Config
	scheduler   dispatcher
	fetcher     *objectstore.Fetcher
	broker      *events.Broker
	localPeerID string

	mu        sync.RWMutex
	workflows map[string]*workflowRun

	pendingMu sync.Mutex
	pending   map[string]chan remoteOutcome

	logger zerolog.Logger
}

// New constructs an Executor.
func New(cfg Config, sched dispatcher, fetcher *objectstore.Fetcher, broker *events.Broker, localPeerID string) *Executor {
	return &Executor{
		cfg:         cfg.withDefaults(),
		scheduler:   sched,
		fetcher:     fetcher,
		broker:      broker,
		localPeerID: localPeerID,
		workflows:   make(map[string]*workflowRun),
		pending:     make(map[string]chan remoteOutcome),
		logger:      log.WithComponent("executor"),
	}
}

// Submit validates graph, functions, and inputs, seeds the inputs into
// the object store, and releases every root task, per spec §4.1.
func (e *Executor) Submit(graph []types.Task, functions map[string]*types.FunctionSpec, inputs map[string]EncodedObject) (string, error) {
	if err := validateGraph(graph, functions, inputs); err != nil {
		return "", err
	}

	workflowID := "wf." + uuid.New().String()
	instance := &types.WorkflowInstance{
		ID:         workflowID,
		SessionID:  pool.NewSessionID(),
		Functions:  functions,
		Tasks:      make(map[string]*types.Task, len(graph)),
		Downstream: make(map[string][]string),
		Inputs:     make(map[string]types.ObjectRef, len(inputs)),
		State:      types.WorkflowRunning,
		CreatedAt:  time.Now(),
	}

	for name, obj := range inputs {
		ref := types.ObjectRef{ID: "obj." + uuid.New().String(), Source: e.localPeerID}
		if err := e.fetcher.Store.Save(&types.Object{ID: ref.ID, Source: ref.Source, Lang: obj.Language, Payload: obj.Payload}); err != nil {
			return "", fmt.Errorf("executor: seed input %s: %w", name, err)
		}
		instance.Inputs[name] = ref
	}

	for i := range graph {
		t := graph[i]
		task := &t
		task.State = types.TaskPending
		instance.Tasks[task.ID] = task
		if task.IsOutput {
			instance.OutputTask = task.ID
		}
		for _, b := range task.Bindings {
			if b.Kind == types.BindingTask {
				instance.Downstream[b.TaskID] = append(instance.Downstream[b.TaskID], task.ID)
			}
		}
	}

	run := &workflowRun{instance: instance, done: make(chan struct{})}

	e.mu.Lock()
	e.workflows[workflowID] = run
	e.mu.Unlock()

	metrics.WorkflowsSubmittedTotal.Inc()
	e.publish(workflowID, "", events.EventWorkflowSubmitted, "")

	for id := range instance.Tasks {
		e.trySchedule(run, id)
	}

	return workflowID, nil
}

// Wait blocks until workflowID's output task reaches a terminal state
// or ctx is cancelled, per spec §4.1.
func (e *Executor) Wait(ctx context.Context, workflowID string) (types.ObjectRef, error) {
	run, err := e.get(workflowID)
	if err != nil {
		return types.ObjectRef{}, err
	}

	select {
	case <-run.done:
	case <-ctx.Done():
		return types.ObjectRef{}, ctx.Err()
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if run.instance.State != types.WorkflowSucceeded {
		return types.ObjectRef{}, &Error{Kind: run.instance.ErrKind, Message: run.instance.ErrMessage}
	}
	return run.instance.Output, nil
}

// Status returns a snapshot of workflowID's instance, a non-blocking
// poll alternative to Wait.
func (e *Executor) Status(workflowID string) (types.WorkflowInstance, error) {
	run, err := e.get(workflowID)
	if err != nil {
		return types.WorkflowInstance{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return *run.instance, nil
}

// Events subscribes to workflowID's event stream, filtering the
// broker's global feed client-side. The returned channel closes when
// ctx is cancelled.
func (e *Executor) Events(ctx context.Context, workflowID string) (<-chan *types.Event, error) {
	if _, err := e.get(workflowID); err != nil {
		return nil, err
	}
	sub := e.broker.Subscribe()
	out := make(chan *types.Event, 16)
	go func() {
		defer close(out)
		defer e.broker.Unsubscribe(sub)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.WorkflowID != workflowID {
					continue
				}
				select {
				case out <- ev:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Cancel marks workflowID cancelled: non-terminal tasks fail with
// `cancelled` immediately; a task already dispatched is allowed to
// finish but its result is discarded, per spec §4.1/§5.
func (e *Executor) Cancel(workflowID string) error {
	run, err := e.get(workflowID)
	if err != nil {
		return err
	}

	run.mu.Lock()
	run.cancelled = true
	for _, task := range run.instance.Tasks {
		if !task.State.Terminal() && task.State != types.TaskDispatched {
			task.State = types.TaskFailed
			task.ErrKind = types.ErrCancelled
			task.ErrMessage = "workflow cancelled"
			task.FinishedAt = time.Now()
		}
	}
	run.mu.Unlock()

	e.completeWorkflow(run, types.WorkflowCancelled, types.ObjectRef{}, types.ErrCancelled, "workflow cancelled")
	return nil
}

// RunDispatchedTask implements peer.TaskRunner: a remote origin peer's
// scheduler has already chosen one of this node's providers and handed
// the task here to actually execute.
func (e *Executor) RunDispatchedTask(ctx context.Context, providerID string, task *types.Task, fn *types.FunctionSpec, argRefs []types.ObjectRef, sessionID string) (types.ObjectRef, error) {
	res, err := e.scheduler.DispatchToProvider(ctx, providerID, task, fn, argRefs, sessionID)
	if err != nil {
		return types.ObjectRef{}, err
	}
	resp, err := e.scheduler.Invoke(ctx, res.ComponentID, sessionID, buildInvokeArgs(task, argRefs))
	if err != nil {
		return types.ObjectRef{}, err
	}
	if resp.Error != "" {
		return types.ObjectRef{}, errors.New(resp.Error)
	}
	if resp.Result == nil {
		return types.ObjectRef{}, fmt.Errorf("executor: invocation returned no result")
	}
	return types.ObjectRef{ID: resp.Result.ID, Source: resp.Result.Source}, nil
}

// HandleRemoteResult implements peer.ResultReporter: a peer this node
// dispatched a task to has reported how it came out.
func (e *Executor) HandleRemoteResult(sessionID, taskID string, result *types.ObjectRef, errKind types.ErrorKind, message string) {
	e.pendingMu.Lock()
	ch, ok := e.pending[sessionID]
	e.pendingMu.Unlock()
	if !ok {
		e.logger.Warn().Str("session_id", sessionID).Msg("report_result for unknown session")
		return
	}
	ch <- remoteOutcome{result: result, errKind: errKind, message: message}
}

func (e *Executor) get(workflowID string) (*workflowRun, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.workflows[workflowID]
	if !ok {
		return nil, &Error{Kind: types.ErrInvalidArgument, Message: fmt.Sprintf("unknown workflow %s", workflowID)}
	}
	return run, nil
}

func (e *Executor) publish(workflowID, taskID string, typ events.EventType, message string) {
	e.broker.Publish(&types.Event{Type: string(typ), WorkflowID: workflowID, TaskID: taskID, Message: message})
}
