// Package objectstore implements the content-addressed object store
// (spec component C1): Save/Get for whole objects, SaveStreamChunk/
// GetStreamChunks for streamed ones, plus small auxiliary buckets for
// the certificate authority and the provider catalog so the rest of
// the node shares one embedded database file.
package objectstore

import "github.com/lattice-run/lattice/pkg/types"

// Store is the object store contract used by the RPC layer, the
// Component Runtime's result path, and the peer fetch_object handler.
type Store interface {
	Save(obj *types.Object) error
	Get(id string) (*types.Object, error)
	Has(id string) bool
	SaveStreamChunk(chunk types.StreamChunk) error
	GetStreamChunks(objectID string, fromOffset int64) ([]types.StreamChunk, error)
	CloseStream(objectID string) error

	// SaveCA and GetCA back pkg/security.CAStore.
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// SaveProviderCatalog and LoadProviderCatalog back
	// pkg/ledger.CatalogStore.
	SaveProviderCatalog(providers []types.Provider) error
	LoadProviderCatalog() ([]types.Provider, error)

	Close() error
}
