package executor

import (
	"fmt"

	"github.com/lattice-run/lattice/pkg/types"
)

// validateGraph enforces spec §4.1/§8's Submit-time checks: no
// duplicate task IDs, every function name present, every binding
// resolves to a declared input or a task present in the same graph,
// every bound parameter name matches the target function's declared
// signature, exactly one output task, and no cycle. Any violation
// returns ErrInvalidArgument and leaves no task scheduled.
func validateGraph(graph []types.Task, functions map[string]*types.FunctionSpec, inputs map[string]EncodedObject) error {
	if len(graph) == 0 {
		return invalidArgument("workflow graph has no tasks")
	}

	byID := make(map[string]*types.Task, len(graph))
	outputs := 0
	for i := range graph {
		t := &graph[i]
		if t.ID == "" {
			return invalidArgument("task has empty ID")
		}
		if _, dup := byID[t.ID]; dup {
			return invalidArgument(fmt.Sprintf("duplicate task ID %q", t.ID))
		}
		byID[t.ID] = t
		if t.IsOutput {
			outputs++
		}
	}
	if outputs != 1 {
		return invalidArgument(fmt.Sprintf("workflow must have exactly one output task, found %d", outputs))
	}

	for _, t := range byID {
		fn, ok := functions[t.FunctionName]
		if !ok {
			return invalidArgument(fmt.Sprintf("task %q references unknown function %q", t.ID, t.FunctionName))
		}

		params := make(map[string]bool, len(fn.Params))
		for _, p := range fn.Params {
			params[p] = true
		}
		seen := make(map[string]bool, len(t.Bindings))
		for _, b := range t.Bindings {
			if len(fn.Params) > 0 && !params[b.Param] {
				return invalidArgument(fmt.Sprintf("task %q binds unknown parameter %q for function %q", t.ID, b.Param, t.FunctionName))
			}
			if seen[b.Param] {
				return invalidArgument(fmt.Sprintf("task %q binds parameter %q more than once", t.ID, b.Param))
			}
			seen[b.Param] = true

			switch b.Kind {
			case types.BindingInput:
				if _, ok := inputs[b.Name]; !ok {
					return invalidArgument(fmt.Sprintf("task %q references unresolved input %q", t.ID, b.Name))
				}
			case types.BindingTask:
				if _, ok := byID[b.TaskID]; !ok {
					return invalidArgument(fmt.Sprintf("task %q depends on unknown task %q", t.ID, b.TaskID))
				}
			default:
				return invalidArgument(fmt.Sprintf("task %q has binding %q with unknown kind %q", t.ID, b.Param, b.Kind))
			}
		}
		for _, p := range fn.Params {
			if !seen[p] {
				return invalidArgument(fmt.Sprintf("task %q does not bind required parameter %q of function %q", t.ID, p, t.FunctionName))
			}
		}
	}

	if cycle := findCycle(byID); cycle != "" {
		return invalidArgument(fmt.Sprintf("workflow graph contains a cycle reachable from task %q", cycle))
	}

	return nil
}

// findCycle runs Kahn's algorithm over the task-dependency edges
// (b.TaskID -> t.ID) and returns the ID of one task left unresolved
// when no more nodes have in-degree zero, or "" if the graph is
// acyclic.
func findCycle(byID map[string]*types.Task) string {
	indegree := make(map[string]int, len(byID))
	downstream := make(map[string][]string, len(byID))
	for id := range byID {
		indegree[id] = 0
	}
	for id, t := range byID {
		for _, b := range t.Bindings {
			if b.Kind == types.BindingTask {
				indegree[id]++
				downstream[b.TaskID] = append(downstream[b.TaskID], id)
			}
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range downstream[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(byID) {
		return ""
	}
	for id, deg := range indegree {
		if deg > 0 {
			return id
		}
	}
	return ""
}

func invalidArgument(msg string) error {
	return &Error{Kind: types.ErrInvalidArgument, Message: msg}
}
