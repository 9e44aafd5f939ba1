// Package provider defines the uniform interface the scheduler and
// component pool use to start and stop sandboxes on a container host
// or a cluster orchestrator, without knowing which.
package provider

import (
	"context"
	"time"

	"github.com/lattice-run/lattice/pkg/types"
)

// StartRequest describes the sandbox a provider should boot.
type StartRequest struct {
	Fingerprint       string
	Function          *types.FunctionSpec
	Resources         types.ResourceRequest
	TransportEndpoint string
	ComponentID       string

	// PeerID and PeerAddress identify the owning control-plane peer so
	// the sandboxed cmd/lattice-worker process can reach this peer's
	// object store RPC (pkg/peer's SaveObject/FetchObject) for
	// arguments and results, since it has no direct access to the
	// peer's embedded store.
	PeerID      string
	PeerAddress string
}

// ComponentDescriptor is what a provider hands back once a sandbox has
// been created. SandboxRef is opaque to every caller except the
// provider that issued it (a container ID, a Pod name).
type ComponentDescriptor struct {
	SandboxRef string
	StartedAt  time.Time
}

// CapacityReport is what Heartbeat returns: the provider's total
// capacity and current allocation as the provider itself tracks them:
// the capacity it was constructed with and the resources allocated
// through StartComponent.
type CapacityReport struct {
	Capacity  types.Capacity
	Allocated types.Capacity
}

// Provider is the uniform interface over a container host and a
// cluster orchestrator. Implementations create and destroy one
// sandbox per component; scale-out is expressed by calling
// StartComponent additional times, never by resizing an existing
// sandbox.
type Provider interface {
	// StartComponent boots a new sandbox running the Component
	// Runtime, which connects back to TransportEndpoint and announces
	// ComponentID.
	StartComponent(ctx context.Context, req StartRequest) (ComponentDescriptor, error)

	// StopComponent tears down the sandbox identified by sandboxRef.
	// Stopping an already-gone sandbox is not an error.
	StopComponent(ctx context.Context, sandboxRef string) error

	// Heartbeat reports current capacity and allocation.
	Heartbeat(ctx context.Context) (CapacityReport, error)

	// Kind identifies which implementation this is.
	Kind() types.ProviderKind
}
