package main

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lattice-run/lattice/pkg/peer"
	"github.com/lattice-run/lattice/pkg/types"
)

// remoteStore satisfies objectstore.Store by calling back to the
// owning control-plane peer's SaveObject/FetchObject RPCs (pkg/peer),
// since a component sandbox has no direct access to the peer's
// embedded database. Stream chunks and the certificate authority bucket
// are not part of the worker-facing surface; they return an error
// rather than silently no-op so a caller that relies on them fails
// loudly instead of losing data. Close holds nothing to release and
// returns nil.
type remoteStore struct {
	client peer.PeerAPIClient
}

func newRemoteStore(peerAddress string) (*remoteStore, error) {
	cc, err := grpc.NewClient(peerAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial owning peer %s: %w", peerAddress, err)
	}
	return &remoteStore{client: peer.NewPeerAPIClient(cc)}, nil
}

func (r *remoteStore) Save(obj *types.Object) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := r.client.SaveObject(ctx, &peer.SaveObjectRequest{Object: obj})
	return err
}

func (r *remoteStore) Get(id string) (*types.Object, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := r.client.FetchObject(ctx, &peer.FetchObjectRequest{ObjectID: id})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, fmt.Errorf("object %s not found on owning peer", id)
	}
	return resp.Object, nil
}

func (r *remoteStore) Has(id string) bool {
	_, err := r.Get(id)
	return err == nil
}

func (r *remoteStore) SaveStreamChunk(chunk types.StreamChunk) error {
	return fmt.Errorf("remotestore: streamed objects are not served over the worker RPC surface")
}

func (r *remoteStore) GetStreamChunks(objectID string, fromOffset int64) ([]types.StreamChunk, error) {
	return nil, fmt.Errorf("remotestore: streamed objects are not served over the worker RPC surface")
}

func (r *remoteStore) CloseStream(objectID string) error {
	return fmt.Errorf("remotestore: streamed objects are not served over the worker RPC surface")
}

func (r *remoteStore) SaveCA(data []byte) error {
	return fmt.Errorf("remotestore: the CA bucket is not part of the worker RPC surface")
}

func (r *remoteStore) GetCA() ([]byte, error) {
	return nil, fmt.Errorf("remotestore: the CA bucket is not part of the worker RPC surface")
}

func (r *remoteStore) SaveProviderCatalog(providers []types.Provider) error {
	return fmt.Errorf("remotestore: the provider catalog is not part of the worker RPC surface")
}

func (r *remoteStore) LoadProviderCatalog() ([]types.Provider, error) {
	return nil, fmt.Errorf("remotestore: the provider catalog is not part of the worker RPC surface")
}

func (r *remoteStore) Close() error { return nil }
