package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/lattice-run/lattice/pkg/peer"
	"github.com/lattice-run/lattice/pkg/types"
)

// fakePeerClient is a stand-in for peer.PeerAPIClient, exercising
// remoteStore without dialing a real connection.
type fakePeerClient struct {
	peer.PeerAPIClient

	savedObjects map[string]*types.Object
	saveErr      error
	fetchErr     error
}

func newFakePeerClient() *fakePeerClient {
	return &fakePeerClient{savedObjects: make(map[string]*types.Object)}
}

func (f *fakePeerClient) SaveObject(ctx context.Context, in *peer.SaveObjectRequest, opts ...grpc.CallOption) (*peer.SaveObjectResponse, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.savedObjects[in.Object.ID] = in.Object
	return &peer.SaveObjectResponse{}, nil
}

func (f *fakePeerClient) FetchObject(ctx context.Context, in *peer.FetchObjectRequest, opts ...grpc.CallOption) (*peer.FetchObjectResponse, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	obj, ok := f.savedObjects[in.ObjectID]
	if !ok {
		return &peer.FetchObjectResponse{Found: false}, nil
	}
	return &peer.FetchObjectResponse{Found: true, Object: obj}, nil
}

func TestRemoteStoreSaveThenGet(t *testing.T) {
	fake := newFakePeerClient()
	store := &remoteStore{client: fake}

	obj := &types.Object{ID: "obj-1", Payload: []byte("payload")}
	require.NoError(t, store.Save(obj))

	got, err := store.Get("obj-1")
	require.NoError(t, err)
	assert.Equal(t, obj, got)
	assert.True(t, store.Has("obj-1"))
}

func TestRemoteStoreGetMissing(t *testing.T) {
	fake := newFakePeerClient()
	store := &remoteStore{client: fake}

	_, err := store.Get("missing")
	assert.Error(t, err)
	assert.False(t, store.Has("missing"))
}

func TestRemoteStoreSaveError(t *testing.T) {
	fake := newFakePeerClient()
	fake.saveErr = fmt.Errorf("boom")
	store := &remoteStore{client: fake}

	err := store.Save(&types.Object{ID: "obj-1"})
	assert.Error(t, err)
}

func TestRemoteStoreUnsupportedSurface(t *testing.T) {
	store := &remoteStore{client: newFakePeerClient()}

	assert.Error(t, store.SaveStreamChunk(types.StreamChunk{}))

	_, err := store.GetStreamChunks("obj-1", 0)
	assert.Error(t, err)

	assert.Error(t, store.CloseStream("obj-1"))
	assert.Error(t, store.SaveCA([]byte("ca")))

	_, err = store.GetCA()
	assert.Error(t, err)

	assert.NoError(t, store.Close())
}
