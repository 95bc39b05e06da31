package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/arborq/ragcore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutAndGetDoc(t *testing.T) {
	// Given an opened store
	s := openTestStore(t)

	// When a doc is persisted
	doc := store.Doc{ID: "d1", Name: "a.txt", Kind: "txt", ByteSize: 42, UploadedAt: time.Now()}
	require.NoError(t, s.PutDoc(doc))

	// Then it can be fetched back
	got, ok, err := s.GetDoc("d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a.txt", got.Name)
	assert.Equal(t, "txt", got.Kind)
}

func TestStore_DeleteDocCascades(t *testing.T) {
	// Given a doc with chunks and a vector
	s := openTestStore(t)
	require.NoError(t, s.PutDoc(store.Doc{ID: "d1", Name: "a.txt", Kind: "txt", UploadedAt: time.Now()}))
	require.NoError(t, s.PutChunks([]store.Chunk{
		{ID: "d1-chunk-0", DocID: "d1", PageNumber: 1, Text: "hello", StartOffset: 0, EndOffset: 5},
	}))
	require.NoError(t, s.PutVector("d1-chunk-0", []float32{0.1, 0.2}))
	require.NoError(t, s.PutBlob("d1", []byte("raw")))

	// When the doc is deleted
	require.NoError(t, s.DeleteDoc("d1"))

	// Then its doc, chunks, vector, and blob are all gone
	_, ok, err := s.GetDoc("d1")
	require.NoError(t, err)
	assert.False(t, ok)

	chunks, err := s.ChunksByDoc("d1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, ok, err = s.GetVector("d1-chunk-0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.GetBlob("d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ChunksByDocSecondaryIndex(t *testing.T) {
	// Given chunks from two docs
	s := openTestStore(t)
	require.NoError(t, s.PutChunks([]store.Chunk{
		{ID: "d1-chunk-0", DocID: "d1", Text: "a"},
		{ID: "d1-chunk-1", DocID: "d1", Text: "b"},
		{ID: "d2-chunk-0", DocID: "d2", Text: "c"},
	}))

	// When querying by doc id
	chunks, err := s.ChunksByDoc("d1")
	require.NoError(t, err)

	// Then only that doc's chunks are returned
	assert.Len(t, chunks, 2)
}

func TestStore_LexicalSnapshotRoundtrip(t *testing.T) {
	// Given a snapshot with nested maps
	s := openTestStore(t)
	snap := store.LexicalSnapshot{
		DF:           map[string]int{"fox": 1},
		TF:           map[string]map[string]int{"c1": {"fox": 2}},
		ChunkIDs:     []string{"c1"},
		AvgDocLength: 5.5,
	}

	// When persisted then fetched
	require.NoError(t, s.PutLexicalSnapshot(snap))
	got, ok, err := s.GetLexicalSnapshot()
	require.NoError(t, err)
	require.True(t, ok)

	// Then it roundtrips losslessly
	assert.Equal(t, snap, got)
}

func TestStore_DeleteAllVectorsInvalidatesOnEmbedderChange(t *testing.T) {
	// Given a persisted vector
	s := openTestStore(t)
	require.NoError(t, s.PutVector("c1", []float32{1, 2, 3}))

	// When all vectors are invalidated
	require.NoError(t, s.DeleteAllVectors())

	// Then none remain
	vectors, err := s.ListVectors()
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
