package objectstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-run/lattice/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "lattice-objectstore-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveGetRoundtrip(t *testing.T) {
	store := newTestStore(t)

	obj := &types.Object{ID: "obj.1", Source: "peer-a", Lang: types.LanguageJSON, Payload: []byte(`{"x":1}`)}
	require.NoError(t, store.Save(obj))

	got, err := store.Get("obj.1")
	require.NoError(t, err)
	require.Equal(t, obj.Payload, got.Payload)
	require.True(t, store.Has("obj.1"))
	require.False(t, store.Has("obj.missing"))
}

func TestGetMissingObject(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("nope")
	require.Error(t, err)
}

func TestStreamChunkOrderingAndClose(t *testing.T) {
	store := newTestStore(t)

	chunks := []types.StreamChunk{
		{ObjectID: "stream.1", Offset: 0, Payload: []byte("a")},
		{ObjectID: "stream.1", Offset: 1, Payload: []byte("b")},
		{ObjectID: "stream.1", Offset: 2, Payload: []byte("c"), EndOfStream: true},
	}
	for _, c := range chunks {
		require.NoError(t, store.SaveStreamChunk(c))
	}

	got, err := store.GetStreamChunks("stream.1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []byte("a"), got[0].Payload)
	require.Equal(t, []byte("b"), got[1].Payload)
	require.Equal(t, []byte("c"), got[2].Payload)
	require.True(t, got[2].EndOfStream)

	partial, err := store.GetStreamChunks("stream.1", 1)
	require.NoError(t, err)
	require.Len(t, partial, 2)

	require.NoError(t, store.CloseStream("stream.1"))
	cleared, err := store.GetStreamChunks("stream.1", 0)
	require.NoError(t, err)
	require.Empty(t, cleared)
}

func TestSaveAndGetCA(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCA()
	require.Error(t, err)

	require.NoError(t, store.SaveCA([]byte("ca-bytes")))
	data, err := store.GetCA()
	require.NoError(t, err)
	require.Equal(t, []byte("ca-bytes"), data)
}
