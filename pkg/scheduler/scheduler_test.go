package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-run/lattice/pkg/ledger"
	"github.com/lattice-run/lattice/pkg/pool"
	"github.com/lattice-run/lattice/pkg/provider"
	"github.com/lattice-run/lattice/pkg/transport"
	"github.com/lattice-run/lattice/pkg/types"
)

// fakeProvider implements provider.Provider by immediately dialing
// the transport endpoint and playing the worker side of the
// handshake, standing in for a real containerd/Kubernetes sandbox.
type fakeProvider struct {
	id   string
	kind types.ProviderKind
	fail bool
}

func (p *fakeProvider) Kind() types.ProviderKind { return p.kind }

func (p *fakeProvider) Heartbeat(ctx context.Context) (provider.CapacityReport, error) {
	return provider.CapacityReport{}, nil
}

func (p *fakeProvider) StopComponent(ctx context.Context, sandboxRef string) error { return nil }

func (p *fakeProvider) StartComponent(ctx context.Context, req provider.StartRequest) (provider.ComponentDescriptor, error) {
	if p.fail {
		return provider.ComponentDescriptor{}, assertErr
	}
	go func() {
		conn, err := transport.Dial("tcp", req.TransportEndpoint)
		if err != nil {
			return
		}
		env, _ := transport.Encode(transport.MsgReady, transport.Ready{ComponentID: req.ComponentID})
		_ = conn.WriteEnvelope(env)
		_, _ = conn.ReadEnvelope() // FUNCTION
		ackEnv, _ := transport.Encode(transport.MsgAck, transport.Ack{Ok: true})
		_ = conn.WriteEnvelope(ackEnv)
		for {
			env, err := conn.ReadEnvelope()
			if err != nil {
				return
			}
			if env.Type != transport.MsgInvokeRequest {
				continue
			}
			var invReq transport.InvokeRequest
			_ = transport.Decode(env, &invReq)
			respEnv, _ := transport.Encode(transport.MsgInvokeResponse, transport.InvokeResponse{
				SessionID: invReq.SessionID,
				Result:    &transport.ObjectRef{ID: "obj.out"},
			})
			_ = conn.WriteEnvelope(respEnv)
		}
	}()
	return provider.ComponentDescriptor{SandboxRef: "sandbox-1"}, nil
}

var assertErr = assertError("provider: start failed")

type assertError string

func (e assertError) Error() string { return string(e) }

func newTestScheduler(t *testing.T, providers map[string]provider.Provider, localPeer string) (*Scheduler, *ledger.Ledger, *pool.Router) {
	t.Helper()
	l := ledger.New(2*time.Second, 5*time.Second, nil, nil)
	p := pool.New(2 * time.Second)
	_, err := p.Listen("127.0.0.1:0")
	require.NoError(t, err)

	s := New(Config{
		LocalPeerID:      localPeer,
		Ledger:           l,
		Pool:             p,
		Peers:            nil,
		Providers:        providers,
		Weights:          Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2},
		ColdStartTimeout: 2 * time.Second,
	})
	return s, l, p
}

func TestColdStartThenReuse(t *testing.T) {
	fp := &fakeProvider{id: "prov-1", kind: types.ProviderContainerHost}
	s, l, _ := newTestScheduler(t, map[string]provider.Provider{"prov-1": fp}, "peer-1")
	l.RegisterProvider(types.Provider{
		ID:            "prov-1",
		PeerID:        "peer-1",
		Capacity:      types.Capacity{MilliCPU: 1000, MemoryBytes: 1 << 20},
		LastHeartbeat: time.Now(),
		ConnState:     types.ProviderConnected,
	})

	fn := &types.FunctionSpec{Name: "double", Language: types.LanguageJSON, Resources: types.ResourceRequest{MilliCPU: 100, MemoryBytes: 1024}}
	task := &types.Task{ID: "t1"}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res, err := s.Dispatch(ctx, task, fn, nil, pool.NewSessionID())
	require.NoError(t, err)
	assert.False(t, res.Remote)
	assert.NotEmpty(t, res.ComponentID)

	// A second dispatch for the same fingerprint should reuse the warm
	// component instead of cold-starting another one.
	res2, err := s.Dispatch(ctx, task, fn, nil, pool.NewSessionID())
	require.NoError(t, err)
	assert.Equal(t, res.ComponentID, res2.ComponentID)
}

func TestNoCapacityIsReportedAsTransient(t *testing.T) {
	s, l, _ := newTestScheduler(t, map[string]provider.Provider{}, "peer-1")
	l.RegisterProvider(types.Provider{
		ID:            "prov-1",
		PeerID:        "peer-1",
		Capacity:      types.Capacity{MilliCPU: 100, MemoryBytes: 1024},
		LastHeartbeat: time.Now(),
		ConnState:     types.ProviderConnected,
	})

	fn := &types.FunctionSpec{Name: "big", Language: types.LanguageJSON, Resources: types.ResourceRequest{MilliCPU: 999999, MemoryBytes: 1}}
	task := &types.Task{ID: "t1"}

	s.backpressurePollWindow = 100 * time.Millisecond
	s.backpressurePollEvery = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Dispatch(ctx, task, fn, nil, pool.NewSessionID())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestTagMismatchExcludesProvider(t *testing.T) {
	s, l, _ := newTestScheduler(t, map[string]provider.Provider{}, "peer-1")
	l.RegisterProvider(types.Provider{
		ID:            "prov-1",
		PeerID:        "peer-1",
		Capacity:      types.Capacity{MilliCPU: 1000, MemoryBytes: 1 << 20},
		Tags:          []string{"cpu-only"},
		LastHeartbeat: time.Now(),
		ConnState:     types.ProviderConnected,
	})

	fn := &types.FunctionSpec{Name: "gpu-fn", Language: types.LanguageJSON, Resources: types.ResourceRequest{MilliCPU: 10, MemoryBytes: 10, Tags: []string{"gpu"}}}
	task := &types.Task{ID: "t1"}

	s.backpressurePollWindow = 50 * time.Millisecond
	s.backpressurePollEvery = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Dispatch(ctx, task, fn, nil, pool.NewSessionID())
	require.Error(t, err)
}
