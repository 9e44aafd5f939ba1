package types

import "time"

// Language tags a payload or a FunctionSpec body.
type Language string

const (
	LanguagePython  Language = "python"
	LanguageGo      Language = "go"
	LanguageOCaml   Language = "ocaml"
	LanguageJSON    Language = "json"
	LanguageUnknown Language = "unknown"
)

// Object is a content-addressed byte blob.
type Object struct {
	ID      string // "obj.<uuid>"
	Source  string // origin peer ID
	Lang    Language
	Payload []byte
	Stream  bool
}

// ObjectRef points into the content-addressed object store.
type ObjectRef struct {
	ID     string
	Source string
}

// Empty reports whether the ref carries no object ID.
func (r ObjectRef) Empty() bool {
	return r.ID == ""
}

// StreamChunk is one ordered fragment of a stream object.
type StreamChunk struct {
	ObjectID    string
	Offset      int64
	Payload     []byte
	EndOfStream bool
}

// ResourceRequest is the resource ask attached to a FunctionSpec.
type ResourceRequest struct {
	MilliCPU    int64
	MemoryBytes int64
	GPUs        int
	Tags        []string
}

// FunctionSpec is a user-submitted, opaque function body plus its
// runtime requirements. Two specs with the same Fingerprint are
// interchangeable for component reuse.
type FunctionSpec struct {
	Name         string
	Language     Language
	PickledBody  []byte
	Requirements []string
	Resources    ResourceRequest
	Replicas     int
	Venv         string
	Params       []string // declared parameter names, checked against Task.Bindings at submission
}

// BindingKind distinguishes a task input that is a workflow-level
// constant from one that resolves to an upstream task's result.
type BindingKind string

const (
	BindingInput BindingKind = "input"
	BindingTask  BindingKind = "task"
)

// Binding is one parameter-name to source mapping for a Task.
type Binding struct {
	Param  string
	Kind   BindingKind
	Name   string // workflow input name, when Kind == BindingInput
	TaskID string // upstream task ID, when Kind == BindingTask
}

// TaskState is the task state machine: PENDING -> READY -> DISPATCHED
// -> SUCCEEDED|FAILED. Terminal states are absorbing.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskReady      TaskState = "ready"
	TaskDispatched TaskState = "dispatched"
	TaskSucceeded  TaskState = "succeeded"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether s is an absorbing state.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// ErrorKind enumerates the tagged error categories used for task and
// workflow failure propagation.
type ErrorKind string

const (
	ErrNone            ErrorKind = ""
	ErrInvalidArgument ErrorKind = "invalid_argument"
	ErrNoCapacity      ErrorKind = "no_capacity"
	ErrColdStartFailed ErrorKind = "cold_start_failed"
	ErrWorkerCrashed   ErrorKind = "worker_crashed"
	ErrTimeout         ErrorKind = "timeout"
	ErrCancelled       ErrorKind = "cancelled"
	ErrPeerUnreachable ErrorKind = "peer_unreachable"
	ErrUpstreamFailed  ErrorKind = "upstream_failed"
	ErrFatal           ErrorKind = "fatal"
)

// Transient reports whether the Workflow Executor should retry a task
// that failed with this error kind.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrNoCapacity, ErrPeerUnreachable, ErrColdStartFailed, ErrWorkerCrashed:
		return true
	default:
		return false
	}
}

// Task is one node of a workflow's DAG.
type Task struct {
	ID           string
	FunctionName string
	Bindings     []Binding
	IsOutput     bool

	State      TaskState
	Attempt    int
	Result     ObjectRef
	ErrKind    ErrorKind
	ErrMessage string

	DispatchedAt time.Time
	FinishedAt   time.Time
	ReadyAt      time.Time // earliest time this task may be (re)dispatched
}

// WorkflowState is the lifecycle of one WorkflowInstance.
type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "running"
	WorkflowSucceeded WorkflowState = "succeeded"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCancelled WorkflowState = "cancelled"
)

// WorkflowInstance owns one submitted graph's runtime state.
type WorkflowInstance struct {
	ID         string
	SessionID  string
	Functions  map[string]*FunctionSpec
	Tasks      map[string]*Task
	Downstream map[string][]string // task ID -> dependent task IDs
	Inputs     map[string]ObjectRef
	OutputTask string

	State      WorkflowState
	Output     ObjectRef
	ErrKind    ErrorKind
	ErrMessage string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// ComponentState is the lifecycle of one sandboxed worker.
type ComponentState string

const (
	ComponentStarting ComponentState = "starting"
	ComponentReady    ComponentState = "ready"
	ComponentIdle     ComponentState = "idle"
	ComponentBusy     ComponentState = "busy"
	ComponentDraining ComponentState = "draining"
	ComponentDead     ComponentState = "dead"
)

// Component is one function-bound sandbox running on a provider.
type Component struct {
	ID              string
	Session         string
	ProviderID      string
	Fingerprint     string
	Function        *FunctionSpec
	SandboxRef      string // opaque provider-assigned descriptor
	TransportID     string
	State           ComponentState
	CreatedAt       time.Time
	LastUsedAt      time.Time
	InFlightSession string // session ID of the one outstanding invocation, if any
}

// ProviderKind distinguishes the two Provider Adapter implementations.
type ProviderKind string

const (
	ProviderContainerHost ProviderKind = "container-host"
	ProviderCluster       ProviderKind = "cluster"
)

// ProviderConnState tracks reachability as seen by the owning peer.
type ProviderConnState string

const (
	ProviderConnected    ProviderConnState = "connected"
	ProviderDisconnected ProviderConnState = "disconnected"
)

// Capacity is a resource vector: total capacity or current allocation.
type Capacity struct {
	MilliCPU    int64
	MemoryBytes int64
	GPUs        int
}

// Fits reports whether req can be satisfied by the headroom between
// capacity c and already-allocated amount alloc.
func (c Capacity) Fits(alloc Capacity, req ResourceRequest) bool {
	return alloc.MilliCPU+req.MilliCPU <= c.MilliCPU &&
		alloc.MemoryBytes+req.MemoryBytes <= c.MemoryBytes &&
		alloc.GPUs+req.GPUs <= c.GPUs
}

// Headroom returns the free/capacity ratio across all three
// dimensions, used as the scheduler's tie-break score.
func (c Capacity) Headroom(alloc Capacity) float64 {
	ratio := func(total, used int64) float64 {
		if total <= 0 {
			return 0
		}
		free := float64(total-used) / float64(total)
		if free < 0 {
			return 0
		}
		return free
	}
	cpu := ratio(c.MilliCPU, alloc.MilliCPU)
	mem := ratio(c.MemoryBytes, alloc.MemoryBytes)
	if c.GPUs == 0 {
		return (cpu + mem) / 2
	}
	gpu := ratio(int64(c.GPUs), int64(alloc.GPUs))
	return (cpu + mem + gpu) / 3
}

// HasTags reports whether have is a superset of required.
func HasTags(have, required []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// Provider is one host or cluster workload-unit target capable of
// running components; owned by exactly one peer.
type Provider struct {
	ID            string
	Kind          ProviderKind
	PeerID        string
	Address       string
	Tags          []string
	Capacity      Capacity
	Allocated     Capacity
	LastHeartbeat time.Time
	ConnState     ProviderConnState
	ColdStartMS   int64 // estimate supplied at registration, feeds the scheduler's cost score
}

// Peer is a remote control-plane node in the gossip mesh.
type Peer struct {
	ID            string
	Address       string
	Providers     map[string]*Provider
	CatalogVer    uint64
	LastHeartbeat time.Time
	Missed        int
}

// Event is one state-transition notice published on a workflow's
// event stream.
type Event struct {
	Type       string
	Timestamp  time.Time
	WorkflowID string
	TaskID     string
	Message    string
	Data       map[string]string
}
