package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/lattice-run/lattice/pkg/provider"
	"github.com/lattice-run/lattice/pkg/types"
)

func TestStartComponentCreatesPod(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset()
	orch := New(clientset, "lattice", types.Capacity{MilliCPU: 8000, MemoryBytes: 16 << 30})

	desc, err := orch.StartComponent(context.Background(), provider.StartRequest{
		Fingerprint:       "fp-1",
		Function:          &types.FunctionSpec{Language: types.LanguagePython},
		Resources:         types.ResourceRequest{MilliCPU: 250, MemoryBytes: 128 << 20},
		TransportEndpoint: "peer-1:7073",
		ComponentID:       "component-abc",
	})
	require.NoError(t, err)
	require.Equal(t, "component-abc", desc.SandboxRef)

	pod, err := clientset.CoreV1().Pods("lattice").Get(context.Background(), "component-abc", metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, "lattice/worker-python:latest", pod.Spec.Containers[0].Image)

	report, err := orch.Heartbeat(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(250), report.Allocated.MilliCPU)
}

func TestStartComponentUnknownLanguage(t *testing.T) {
	orch := New(k8sfake.NewSimpleClientset(), "lattice", types.Capacity{})
	_, err := orch.StartComponent(context.Background(), provider.StartRequest{
		Function: &types.FunctionSpec{Language: types.Language("rust")},
	})
	require.Error(t, err)
}

func TestStopComponentMissingPodIsNotAnError(t *testing.T) {
	orch := New(k8sfake.NewSimpleClientset(), "lattice", types.Capacity{})
	require.NoError(t, orch.StopComponent(context.Background(), "does-not-exist"))
}

func TestKind(t *testing.T) {
	orch := New(k8sfake.NewSimpleClientset(), "lattice", types.Capacity{})
	require.Equal(t, types.ProviderCluster, orch.Kind())
}
