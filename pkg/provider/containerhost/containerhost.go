// Package containerhost implements pkg/provider.Provider by running
// one containerd container per component sandbox: pull image, set up
// an OCI spec with resource limits and env vars, and track the
// container's containerd task for lifecycle and status.
package containerhost

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/provider"
	"github.com/lattice-run/lattice/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace Lattice components run in.
	DefaultNamespace = "lattice"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// languageImages maps a FunctionSpec's language tag to the base image
// the sandbox boots from. The image carries cmd/lattice-worker built
// for that language runtime.
var languageImages = map[types.Language]string{
	types.LanguagePython: "lattice/worker-python:latest",
	types.LanguageGo:     "lattice/worker-go:latest",
	types.LanguageOCaml:  "lattice/worker-ocaml:latest",
	types.LanguageJSON:   "lattice/worker-go:latest",
}

// Host implements provider.Provider over a containerd socket.
type Host struct {
	client    *containerd.Client
	namespace string

	mu        sync.Mutex
	allocated types.Capacity
	capacity  types.Capacity
}

// New connects to containerd at socketPath (DefaultSocketPath if
// empty) and records capacity as the host's total resource capacity.
func New(socketPath string, capacity types.Capacity) (*Host, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &Host{
		client:    client,
		namespace: DefaultNamespace,
		capacity:  capacity,
	}, nil
}

// Close closes the containerd client connection.
func (h *Host) Close() error {
	if h.client != nil {
		return h.client.Close()
	}
	return nil
}

// Kind reports this is the container-host implementation.
func (h *Host) Kind() types.ProviderKind {
	return types.ProviderContainerHost
}

// StartComponent pulls the language's base image, injects the
// transport endpoint and component ID as environment variables, and
// starts a containerd task running the worker.
func (h *Host) StartComponent(ctx context.Context, req provider.StartRequest) (provider.ComponentDescriptor, error) {
	ctx = namespaces.WithNamespace(ctx, h.namespace)

	imageRef, ok := languageImages[req.Function.Language]
	if !ok {
		return provider.ComponentDescriptor{}, fmt.Errorf("no base image for language %q", req.Function.Language)
	}

	image, err := h.client.GetImage(ctx, imageRef)
	if err != nil {
		image, err = h.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
		if err != nil {
			return provider.ComponentDescriptor{}, fmt.Errorf("pull image %s: %w", imageRef, err)
		}
	}

	env := []string{
		"LATTICE_TRANSPORT_ENDPOINT=" + req.TransportEndpoint,
		"LATTICE_COMPONENT_ID=" + req.ComponentID,
		"LATTICE_FINGERPRINT=" + req.Fingerprint,
		"LATTICE_PEER_ID=" + req.PeerID,
		"LATTICE_PEER_ADDRESS=" + req.PeerAddress,
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}

	if req.Resources.MilliCPU > 0 {
		shares := uint64(req.Resources.MilliCPU)
		quota := int64(req.Resources.MilliCPU) * 100
		period := uint64(100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if req.Resources.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(req.Resources.MemoryBytes)))
	}

	container, err := h.client.NewContainer(
		ctx,
		req.ComponentID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(req.ComponentID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return provider.ComponentDescriptor{}, fmt.Errorf("create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return provider.ComponentDescriptor{}, fmt.Errorf("create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return provider.ComponentDescriptor{}, fmt.Errorf("start task: %w", err)
	}

	h.mu.Lock()
	h.allocated.MilliCPU += req.Resources.MilliCPU
	h.allocated.MemoryBytes += req.Resources.MemoryBytes
	h.allocated.GPUs += req.Resources.GPUs
	h.mu.Unlock()

	log.WithComponent("provider.containerhost").Info().
		Str("component_id", req.ComponentID).
		Str("image", imageRef).
		Msg("started component sandbox")

	return provider.ComponentDescriptor{
		SandboxRef: container.ID(),
		StartedAt:  time.Now(),
	}, nil
}

// StopComponent sends SIGTERM to the container's task, waits up to 10
// seconds for a graceful exit, then SIGKILLs and deletes the
// container. A missing container is not an error.
func (h *Host) StopComponent(ctx context.Context, sandboxRef string) error {
	ctx = namespaces.WithNamespace(ctx, h.namespace)

	container, err := h.client.LoadContainer(ctx, sandboxRef)
	if err != nil {
		return nil
	}

	task, err := container.Task(ctx, nil)
	if err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := task.Kill(stopCtx, syscall.SIGTERM); err == nil {
			statusC, waitErr := task.Wait(stopCtx)
			if waitErr == nil {
				select {
				case <-statusC:
				case <-stopCtx.Done():
					_ = task.Kill(ctx, syscall.SIGKILL)
				}
			}
		}
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container %s: %w", sandboxRef, err)
	}
	return nil
}

// Heartbeat reports the host's configured capacity and the resources
// currently allocated to running components.
func (h *Host) Heartbeat(ctx context.Context) (provider.CapacityReport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return provider.CapacityReport{
		Capacity:  h.capacity,
		Allocated: h.allocated,
	}, nil
}

// ReleaseAllocation is called by the caller once it has confirmed a
// component's sandbox has actually stopped, to correct the allocated
// counter independent of StopComponent's own bookkeeping (e.g. a
// sandbox that died on its own).
func (h *Host) ReleaseAllocation(req types.ResourceRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocated.MilliCPU -= req.MilliCPU
	h.allocated.MemoryBytes -= req.MemoryBytes
	h.allocated.GPUs -= req.GPUs
}
