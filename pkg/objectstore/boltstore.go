package objectstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/lattice-run/lattice/pkg/types"
)

var (
	bucketObjects   = []byte("objects")
	bucketStreams   = []byte("stream_chunks")
	bucketCA        = []byte("ca")
	bucketProviders = []byte("providers")
)

// BoltStore is the embedded-database backed Store implementation, one
// per peer. Whole objects and the CA blob live in single-key-per-item
// buckets; stream chunks are keyed by objectID + big-endian offset so
// a range scan returns them in order.
type BoltStore struct {
	db *bolt.DB
	mu sync.Mutex // serializes stream-close bookkeeping
}

// NewBoltStore opens (creating if absent) the node's object database
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "lattice.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketObjects, bucketStreams, bucketCA, bucketProviders} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save writes an object. Per the content-addressing invariant, callers
// never overwrite an existing ID with different payload bytes; Save
// itself is a plain upsert and does not enforce that.
func (s *BoltStore) Save(obj *types.Object) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		data, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		return b.Put([]byte(obj.ID), data)
	})
}

func (s *BoltStore) Get(id string) (*types.Object, error) {
	var obj types.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("object not found: %s", id)
		}
		return json.Unmarshal(data, &obj)
	})
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (s *BoltStore) Has(id string) bool {
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		found = b.Get([]byte(id)) != nil
		return nil
	})
	return found
}

// streamKey packs objectID + big-endian offset so ForEach/Seek on the
// bucket returns chunks of one stream in append order, interleaved
// with other streams only at the bucket level (distinguished by the
// objectID prefix).
func streamKey(objectID string, offset int64) []byte {
	key := make([]byte, len(objectID)+1+8)
	copy(key, objectID)
	key[len(objectID)] = '\x00'
	binary.BigEndian.PutUint64(key[len(objectID)+1:], uint64(offset))
	return key
}

func (s *BoltStore) SaveStreamChunk(chunk types.StreamChunk) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		return b.Put(streamKey(chunk.ObjectID, chunk.Offset), data)
	})
}

func (s *BoltStore) GetStreamChunks(objectID string, fromOffset int64) ([]types.StreamChunk, error) {
	var chunks []types.StreamChunk
	prefix := append([]byte(objectID), '\x00')
	start := streamKey(objectID, fromOffset)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketStreams).Cursor()
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var chunk types.StreamChunk
			if err := json.Unmarshal(v, &chunk); err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, err
}

// CloseStream deletes the individual chunk records once the stream's
// final chunk has been folded into a whole Object by the caller.
func (s *BoltStore) CloseStream(objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := append([]byte(objectID), '\x00')
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketStreams).Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		b := tx.Bucket(bucketStreams)
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("root"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get([]byte("root"))
		if v == nil {
			return fmt.Errorf("CA not found in store")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// SaveProviderCatalog persists the full known-provider set, keyed by
// provider ID, so a restarted peer can recover it without waiting on a
// live heartbeat or a gossip round per spec §6. The bucket is dropped
// and recreated on every call so a provider that has left the catalog
// since the last save doesn't linger on disk.
func (s *BoltStore) SaveProviderCatalog(providers []types.Provider) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketProviders); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("reset provider catalog bucket: %w", err)
		}
		b, err := tx.CreateBucket(bucketProviders)
		if err != nil {
			return fmt.Errorf("recreate provider catalog bucket: %w", err)
		}
		for _, p := range providers {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal provider %s: %w", p.ID, err)
			}
			if err := b.Put([]byte(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadProviderCatalog returns the provider set saved by the most
// recent SaveProviderCatalog call, or an empty slice if none was ever
// saved (a fresh data directory).
func (s *BoltStore) LoadProviderCatalog() ([]types.Provider, error) {
	var providers []types.Provider
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProviders)
		return b.ForEach(func(k, v []byte) error {
			var p types.Provider
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshal provider %s: %w", k, err)
			}
			providers = append(providers, p)
			return nil
		})
	})
	return providers, err
}
