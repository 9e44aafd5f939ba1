package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lattice-run/lattice/pkg/events"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/scheduler"
	"github.com/lattice-run/lattice/pkg/transport"
	"github.com/lattice-run/lattice/pkg/types"
)

// trySchedule releases taskID into its own goroutine once every
// binding resolves (spec §4.1's ready queue). It is a no-op for a task
// that is not PENDING, not yet ready, or whose workflow was cancelled
// — called once per task at Submit and again for every downstream task
// after an ancestor succeeds.
func (e *Executor) trySchedule(run *workflowRun, taskID string) {
	run.mu.Lock()
	if run.cancelled {
		run.mu.Unlock()
		return
	}
	task, ok := run.instance.Tasks[taskID]
	if !ok || task.State != types.TaskPending {
		run.mu.Unlock()
		return
	}
	if _, ready := resolveBindings(run.instance, task); !ready {
		run.mu.Unlock()
		return
	}
	task.State = types.TaskReady
	task.ReadyAt = time.Now()
	run.mu.Unlock()

	run.wg.Add(1)
	go e.runTask(run, taskID)
}

// resolveBindings resolves every one of task's bindings to an
// ObjectRef, in binding order, reporting false if any binding names an
// input that hasn't been seeded or an upstream task not yet
// SUCCEEDED. Callers must hold run.mu.
func resolveBindings(instance *types.WorkflowInstance, task *types.Task) ([]types.ObjectRef, bool) {
	refs := make([]types.ObjectRef, len(task.Bindings))
	for i, b := range task.Bindings {
		switch b.Kind {
		case types.BindingInput:
			ref, ok := instance.Inputs[b.Name]
			if !ok {
				return nil, false
			}
			refs[i] = ref
		case types.BindingTask:
			dep, ok := instance.Tasks[b.TaskID]
			if !ok || dep.State != types.TaskSucceeded {
				return nil, false
			}
			refs[i] = dep.Result
		default:
			return nil, false
		}
	}
	return refs, true
}

// buildInvokeArgs zips task's declared parameter names with refs (in
// the same binding order resolveBindings produced them) into the
// wire-level argument list an INVOKE_REQUEST carries.
func buildInvokeArgs(task *types.Task, refs []types.ObjectRef) []transport.Arg {
	args := make([]transport.Arg, len(task.Bindings))
	for i, b := range task.Bindings {
		var ref types.ObjectRef
		if i < len(refs) {
			ref = refs[i]
		}
		args[i] = transport.Arg{ParamName: b.Param, Ref: transport.ObjectRef{ID: ref.ID, Source: ref.Source}}
	}
	return args
}

// runTask owns one task's attempt loop: dispatch, invoke, classify the
// outcome, and either retry with backoff, fail permanently, or succeed
// and release downstream work. One goroutine per task, started by
// trySchedule once and only once per task (state only transitions
// PENDING -> READY -> DISPATCHED once per attempt).
func (e *Executor) runTask(run *workflowRun, taskID string) {
	defer run.wg.Done()
	workflowID := run.instance.ID

	for {
		run.mu.Lock()
		if run.cancelled {
			run.mu.Unlock()
			return
		}
		task := run.instance.Tasks[taskID]
		fn := run.instance.Functions[task.FunctionName]
		refs, ready := resolveBindings(run.instance, task)
		if !ready {
			run.mu.Unlock()
			return
		}
		task.State = types.TaskDispatched
		task.Attempt++
		task.DispatchedAt = time.Now()
		attempt := task.Attempt
		run.mu.Unlock()

		sessionID := fmt.Sprintf("%s.%s.%d", run.instance.SessionID, taskID, attempt)
		e.publish(workflowID, taskID, events.EventTaskDispatched, "")

		result, errKind, errMsg := e.attempt(run, task, fn, refs, sessionID)

		run.mu.Lock()
		if run.cancelled {
			run.mu.Unlock()
			return
		}

		if errKind == types.ErrNone {
			task.State = types.TaskSucceeded
			task.Result = result
			task.FinishedAt = time.Now()
			metrics.TaskDuration.Observe(task.FinishedAt.Sub(task.DispatchedAt).Seconds())
			run.mu.Unlock()

			metrics.TasksDispatchedTotal.WithLabelValues("succeeded").Inc()
			e.publish(workflowID, taskID, events.EventTaskCompleted, "")
			e.onTaskSucceeded(run, taskID)
			return
		}

		if errKind.Transient() && attempt < e.cfg.MaxAttempts {
			task.State = types.TaskPending
			backoff := e.backoffFor(attempt)
			task.ReadyAt = time.Now().Add(backoff)
			run.mu.Unlock()

			e.publish(workflowID, taskID, events.EventTaskRetrying, errMsg)
			metrics.TasksDispatchedTotal.WithLabelValues("retried").Inc()
			time.Sleep(backoff)
			continue
		}

		task.State = types.TaskFailed
		task.ErrKind = errKind
		task.ErrMessage = errMsg
		task.FinishedAt = time.Now()
		run.mu.Unlock()

		metrics.TasksDispatchedTotal.WithLabelValues("failed").Inc()
		e.publish(workflowID, taskID, events.EventTaskFailed, errMsg)
		e.onTaskFailed(run, taskID, errKind, errMsg)
		return
	}
}

// attempt runs exactly one dispatch+invoke round for task, returning
// either a result ObjectRef or a classified error kind/message, per
// spec §7's error catalog.
func (e *Executor) attempt(run *workflowRun, task *types.Task, fn *types.FunctionSpec, refs []types.ObjectRef, sessionID string) (types.ObjectRef, types.ErrorKind, string) {
	timeout := e.cfg.TaskDefaultTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ch := make(chan remoteOutcome, 1)
	e.pendingMu.Lock()
	e.pending[sessionID] = ch
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, sessionID)
		e.pendingMu.Unlock()
	}()

	res, err := e.scheduler.Dispatch(ctx, task, fn, refs, sessionID)
	if err != nil {
		return types.ObjectRef{}, classifyDispatchErr(err), err.Error()
	}

	if res.Remote {
		select {
		case out := <-ch:
			if out.errKind != types.ErrNone {
				return types.ObjectRef{}, out.errKind, out.message
			}
			if out.result == nil {
				return types.ObjectRef{}, types.ErrWorkerCrashed, "remote dispatch reported success with no result"
			}
			return *out.result, types.ErrNone, ""
		case <-ctx.Done():
			return types.ObjectRef{}, types.ErrTimeout, "remote invocation timed out"
		}
	}

	args := buildInvokeArgs(task, refs)
	resp, err := e.scheduler.Invoke(ctx, res.ComponentID, sessionID, args)
	if err != nil {
		if ctx.Err() != nil {
			return types.ObjectRef{}, types.ErrTimeout, "invocation timed out"
		}
		return types.ObjectRef{}, types.ErrWorkerCrashed, err.Error()
	}
	if resp.Error != "" {
		return types.ObjectRef{}, types.ErrWorkerCrashed, resp.Error
	}
	if resp.Result == nil {
		return types.ObjectRef{}, types.ErrWorkerCrashed, "invocation returned no result"
	}
	return types.ObjectRef{ID: resp.Result.ID, Source: resp.Result.Source}, types.ErrNone, ""
}

// classifyDispatchErr tags a Dispatch failure: explicit backpressure
// becomes no_capacity, a remote peer that refused or could not be
// reached during a cross-peer dispatch becomes peer_unreachable,
// anything else (local cold-start handshake failure) becomes
// cold_start_failed.
func classifyDispatchErr(err error) types.ErrorKind {
	if errors.Is(err, scheduler.ErrNoCapacity) {
		return types.ErrNoCapacity
	}
	if errors.Is(err, scheduler.ErrPeerUnreachable) {
		return types.ErrPeerUnreachable
	}
	return types.ErrColdStartFailed
}

func (e *Executor) backoffFor(attempt int) time.Duration {
	d := e.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxBackoff {
			return e.cfg.MaxBackoff
		}
	}
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	return d
}

// onTaskSucceeded releases taskID's downstream tasks, or completes the
// workflow if taskID was the output task.
func (e *Executor) onTaskSucceeded(run *workflowRun, taskID string) {
	run.mu.Lock()
	isOutput := run.instance.OutputTask == taskID
	result := run.instance.Tasks[taskID].Result
	downstream := append([]string(nil), run.instance.Downstream[taskID]...)
	run.mu.Unlock()

	if isOutput {
		e.completeWorkflow(run, types.WorkflowSucceeded, result, types.ErrNone, "")
		return
	}
	for _, id := range downstream {
		e.trySchedule(run, id)
	}
}

// onTaskFailed completes the workflow if taskID was the output task,
// otherwise transitively fails every descendant with upstream_failed
// (spec §4.1/§7).
func (e *Executor) onTaskFailed(run *workflowRun, taskID string, kind types.ErrorKind, msg string) {
	run.mu.Lock()
	isOutput := run.instance.OutputTask == taskID
	run.mu.Unlock()

	if isOutput {
		e.completeWorkflow(run, types.WorkflowFailed, types.ObjectRef{}, kind, msg)
		return
	}
	e.failDescendants(run, taskID, kind)
}

// failDescendants marks every non-terminal descendant of taskID FAILED
// with upstream_failed, recursing until it either runs out of
// descendants or reaches the output task (in which case it completes
// the workflow with kind, the originating failure's error kind, and
// stops).
func (e *Executor) failDescendants(run *workflowRun, taskID string, kind types.ErrorKind) {
	run.mu.Lock()
	ids := append([]string(nil), run.instance.Downstream[taskID]...)
	run.mu.Unlock()

	for _, id := range ids {
		run.mu.Lock()
		t, ok := run.instance.Tasks[id]
		if !ok || t.State.Terminal() {
			run.mu.Unlock()
			continue
		}
		t.State = types.TaskFailed
		t.ErrKind = types.ErrUpstreamFailed
		t.ErrMessage = fmt.Sprintf("ancestor task %q failed", taskID)
		t.FinishedAt = time.Now()
		isOutput := run.instance.OutputTask == id
		run.mu.Unlock()

		e.publish(run.instance.ID, id, events.EventTaskFailed, t.ErrMessage)

		if isOutput {
			e.completeWorkflow(run, types.WorkflowFailed, types.ObjectRef{}, kind, t.ErrMessage)
			return
		}
		e.failDescendants(run, id, kind)
	}
}

// completeWorkflow finalizes the instance exactly once, recording the
// terminal state/output/error and unblocking every Wait call.
func (e *Executor) completeWorkflow(run *workflowRun, state types.WorkflowState, output types.ObjectRef, errKind types.ErrorKind, message string) {
	run.closeOnce.Do(func() {
		run.mu.Lock()
		run.instance.State = state
		run.instance.Output = output
		run.instance.ErrKind = errKind
		run.instance.ErrMessage = message
		run.instance.FinishedAt = time.Now()
		created := run.instance.CreatedAt
		run.mu.Unlock()

		outcome := "succeeded"
		evType := events.EventWorkflowCompleted
		switch state {
		case types.WorkflowFailed:
			outcome = "failed"
			evType = events.EventWorkflowFailed
		case types.WorkflowCancelled:
			outcome = "cancelled"
			evType = events.EventWorkflowCancelled
		}
		metrics.WorkflowsCompletedTotal.WithLabelValues(outcome).Inc()
		metrics.WorkflowDuration.Observe(time.Since(created).Seconds())

		e.publish(run.instance.ID, "", evType, message)
		close(run.done)
	})
}
