package peer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-run/lattice/pkg/ledger"
	"github.com/lattice-run/lattice/pkg/types"
)

// memStore is a minimal in-memory objectstore.Store for tests.
type memStore struct {
	mu      sync.Mutex
	objects map[string]*types.Object
}

func newMemStore() *memStore { return &memStore{objects: make(map[string]*types.Object)} }

func (s *memStore) Save(obj *types.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID] = obj
	return nil
}

func (s *memStore) Get(id string) (*types.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	return obj, nil
}

func (s *memStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	return ok
}

func (s *memStore) SaveStreamChunk(chunk types.StreamChunk) error { return nil }
func (s *memStore) GetStreamChunks(objectID string, fromOffset int64) ([]types.StreamChunk, error) {
	return nil, nil
}
func (s *memStore) CloseStream(objectID string) error { return nil }
func (s *memStore) SaveCA(data []byte) error          { return nil }
func (s *memStore) GetCA() ([]byte, error)             { return nil, fmt.Errorf("no ca") }
func (s *memStore) Close() error                       { return nil }
func (s *memStore) SaveProviderCatalog(providers []types.Provider) error { return nil }
func (s *memStore) LoadProviderCatalog() ([]types.Provider, error)      { return nil, nil }

// fakeRunner immediately "executes" any dispatched task by returning a
// fixed ObjectRef, standing in for a node's Scheduler+Pool.
type fakeRunner struct{}

func (fakeRunner) RunDispatchedTask(ctx context.Context, providerID string, task *types.Task, fn *types.FunctionSpec, argRefs []types.ObjectRef, sessionID string) (types.ObjectRef, error) {
	return types.ObjectRef{ID: "obj.remote-result"}, nil
}

// recordingReporter captures ReportResult callbacks for assertions.
type recordingReporter struct {
	mu      sync.Mutex
	reports []ReportResultRequest
	done    chan struct{}
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{done: make(chan struct{}, 1)}
}

func (r *recordingReporter) HandleRemoteResult(sessionID, taskID string, result *types.ObjectRef, errKind types.ErrorKind, message string) {
	r.mu.Lock()
	r.reports = append(r.reports, ReportResultRequest{SessionID: sessionID, TaskID: taskID, Result: result, ErrorKind: errKind, Message: message})
	r.mu.Unlock()
	select {
	case r.done <- struct{}{}:
	default:
	}
}

func newTestMesh(t *testing.T, peerID string, runner TaskRunner, reporter ResultReporter) (*Mesh, string, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(time.Second, 5*time.Second, nil, nil)
	m := New(Config{
		LocalPeerID:    peerID,
		Ledger:         l,
		Store:          newMemStore(),
		Runner:         runner,
		Reporter:       reporter,
		GossipInterval: 50 * time.Millisecond,
		MissThreshold:  3,
	})
	addr, err := m.Serve("127.0.0.1:0")
	require.NoError(t, err)
	m.cfg.LocalAddress = addr
	return m, addr, l
}

func TestGossipMergesProviderCatalog(t *testing.T) {
	a, addrA, ledgerA := newTestMesh(t, "peer-a", nil, nil)
	defer a.Stop()
	b, addrB, _ := newTestMesh(t, "peer-b", nil, nil)
	defer b.Stop()

	b.cfg.Ledger.RegisterProvider(types.Provider{
		ID:            "prov-b1",
		PeerID:        "peer-b",
		Capacity:      types.Capacity{MilliCPU: 1000, MemoryBytes: 1 << 20},
		LastHeartbeat: time.Now(),
		ConnState:     types.ProviderConnected,
	})

	a.AddPeer("peer-b", addrB)
	b.AddPeer("peer-a", addrA)
	a.Start()
	b.Start()

	require.Eventually(t, func() bool {
		_, ok := ledgerA.Provider("prov-b1")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDispatchRunsRemotelyAndReportsResult(t *testing.T) {
	origin, addrOrigin, originLedger := newTestMesh(t, "peer-origin", nil, nil)
	defer origin.Stop()
	reporter := newRecordingReporter()
	origin.cfg.Reporter = reporter

	remote, addrRemote, remoteLedger := newTestMesh(t, "peer-remote", fakeRunner{}, nil)
	defer remote.Stop()

	remoteLedger.RegisterProvider(types.Provider{
		ID:            "prov-remote-1",
		PeerID:        "peer-remote",
		Capacity:      types.Capacity{MilliCPU: 1000, MemoryBytes: 1 << 20},
		LastHeartbeat: time.Now(),
		ConnState:     types.ProviderConnected,
	})
	originLedger.RegisterProvider(types.Provider{
		ID:            "prov-remote-1",
		PeerID:        "peer-remote",
		Capacity:      types.Capacity{MilliCPU: 1000, MemoryBytes: 1 << 20},
		LastHeartbeat: time.Now(),
		ConnState:     types.ProviderConnected,
	})

	origin.AddPeer("peer-remote", addrRemote)
	remote.AddPeer("peer-origin", addrOrigin)

	fn := &types.FunctionSpec{Name: "fn", Language: types.LanguageJSON}
	task := &types.Task{ID: "task-1"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := origin.Dispatch(ctx, "prov-remote-1", task, fn, nil, "session-1")
	require.NoError(t, err)

	select {
	case <-reporter.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for report_result callback")
	}

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.reports, 1)
	assert.Equal(t, "session-1", reporter.reports[0].SessionID)
	require.NotNil(t, reporter.reports[0].Result)
	assert.Equal(t, "obj.remote-result", reporter.reports[0].Result.ID)
}

func TestFetchRemoteObject(t *testing.T) {
	holder, addrHolder, _ := newTestMesh(t, "peer-holder", nil, nil)
	defer holder.Stop()
	_ = holder.cfg.Store.Save(&types.Object{ID: "obj.x", Payload: []byte("hello")})

	seeker, _, _ := newTestMesh(t, "peer-seeker", nil, nil)
	defer seeker.Stop()
	seeker.AddPeer("peer-holder", addrHolder)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	obj, err := seeker.FetchRemoteObject(ctx, "peer-holder", "obj.x")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), obj.Payload)

	_, err = seeker.FetchRemoteObject(ctx, "peer-holder", "obj.missing")
	assert.Error(t, err)
}
