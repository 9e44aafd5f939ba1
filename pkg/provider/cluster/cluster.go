// Package cluster implements the cluster-orchestrator Provider Adapter:
// one Kubernetes Pod per component, via k8s.io/client-go. Scale-out is
// expressed as additional Pods, never by resizing one.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/provider"
	"github.com/lattice-run/lattice/pkg/types"
)

var languageImages = map[types.Language]string{
	types.LanguagePython: "lattice/worker-python:latest",
	types.LanguageGo:     "lattice/worker-go:latest",
	types.LanguageOCaml:  "lattice/worker-ocaml:latest",
	types.LanguageJSON:   "lattice/worker-go:latest",
}

// Orchestrator implements provider.Provider over a Kubernetes cluster.
type Orchestrator struct {
	clientset kubernetes.Interface
	namespace string

	mu        sync.Mutex
	allocated types.Capacity
	capacity  types.Capacity
}

// New creates an orchestrator targeting the given namespace with the
// supplied cluster capacity (typically the sum of schedulable node
// allocatable resources, sampled by the operator out of band).
func New(clientset kubernetes.Interface, namespace string, capacity types.Capacity) *Orchestrator {
	if namespace == "" {
		namespace = "default"
	}
	return &Orchestrator{
		clientset: clientset,
		namespace: namespace,
		capacity:  capacity,
	}
}

// Kind reports this is the cluster implementation.
func (o *Orchestrator) Kind() types.ProviderKind {
	return types.ProviderCluster
}

// StartComponent creates a single-container Pod running the worker
// image for the function's language, with the transport endpoint and
// component ID passed as environment variables.
func (o *Orchestrator) StartComponent(ctx context.Context, req provider.StartRequest) (provider.ComponentDescriptor, error) {
	image, ok := languageImages[req.Function.Language]
	if !ok {
		return provider.ComponentDescriptor{}, fmt.Errorf("no worker image for language %q", req.Function.Language)
	}

	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}
	if req.Resources.MilliCPU > 0 {
		qty := resource.NewMilliQuantity(req.Resources.MilliCPU, resource.DecimalSI)
		resources.Requests[corev1.ResourceCPU] = *qty
		resources.Limits[corev1.ResourceCPU] = *qty
	}
	if req.Resources.MemoryBytes > 0 {
		qty := resource.NewQuantity(req.Resources.MemoryBytes, resource.BinarySI)
		resources.Requests[corev1.ResourceMemory] = *qty
		resources.Limits[corev1.ResourceMemory] = *qty
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.ComponentID,
			Namespace: o.namespace,
			Labels: map[string]string{
				"lattice.run/component":   req.ComponentID,
				"lattice.run/fingerprint": req.Fingerprint,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:  "worker",
					Image: image,
					Env: []corev1.EnvVar{
						{Name: "LATTICE_TRANSPORT_ENDPOINT", Value: req.TransportEndpoint},
						{Name: "LATTICE_COMPONENT_ID", Value: req.ComponentID},
						{Name: "LATTICE_FINGERPRINT", Value: req.Fingerprint},
						{Name: "LATTICE_PEER_ID", Value: req.PeerID},
						{Name: "LATTICE_PEER_ADDRESS", Value: req.PeerAddress},
					},
					Resources: resources,
				},
			},
		},
	}

	created, err := o.clientset.CoreV1().Pods(o.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return provider.ComponentDescriptor{}, fmt.Errorf("create pod %s: %w", req.ComponentID, err)
	}

	o.mu.Lock()
	o.allocated.MilliCPU += req.Resources.MilliCPU
	o.allocated.MemoryBytes += req.Resources.MemoryBytes
	o.allocated.GPUs += req.Resources.GPUs
	o.mu.Unlock()

	log.WithComponent("provider.cluster").Info().
		Str("component_id", req.ComponentID).
		Str("pod", created.Name).
		Msg("started component pod")

	return provider.ComponentDescriptor{
		SandboxRef: created.Name,
		StartedAt:  time.Now(),
	}, nil
}

// StopComponent deletes the Pod identified by sandboxRef. A missing
// Pod is not an error.
func (o *Orchestrator) StopComponent(ctx context.Context, sandboxRef string) error {
	err := o.clientset.CoreV1().Pods(o.namespace).Delete(ctx, sandboxRef, metav1.DeleteOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete pod %s: %w", sandboxRef, err)
	}
	return nil
}

// Heartbeat reports the cluster's configured capacity and currently
// allocated resources.
func (o *Orchestrator) Heartbeat(ctx context.Context) (provider.CapacityReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return provider.CapacityReport{
		Capacity:  o.capacity,
		Allocated: o.allocated,
	}, nil
}

// ReleaseAllocation corrects the allocated counter when a Pod is
// discovered to have exited outside of StopComponent.
func (o *Orchestrator) ReleaseAllocation(req types.ResourceRequest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.allocated.MilliCPU -= req.MilliCPU
	o.allocated.MemoryBytes -= req.MemoryBytes
	o.allocated.GPUs -= req.GPUs
}
