package index_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/arborq/ragcore/external"
	"github.com/arborq/ragcore/index"
	"github.com/arborq/ragcore/store"
	"github.com/arborq/ragcore/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVector_BuildIsIdempotent(t *testing.T) {
	// Given a store and a stub embedder
	st := newTestStore(t)
	emb := external.NewStubEmbedder(8)
	require.NoError(t, emb.Initialize(nil))
	v, err := index.NewVector(st, emb, telemetry.NopLogger{}, 0)
	require.NoError(t, err)

	chunks := []store.Chunk{{ID: "c1", Text: "hello world"}}

	// When Build runs twice
	require.NoError(t, v.Build(context.Background(), chunks))
	firstVec, ok, err := st.GetVector("c1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, v.Build(context.Background(), chunks))
	secondVec, ok, err := st.GetVector("c1")
	require.NoError(t, err)
	require.True(t, ok)

	// Then the vector is unchanged (restartable, skips existing)
	assert.Equal(t, firstVec, secondVec)
}

func TestVector_SearchSkipsDimensionMismatch(t *testing.T) {
	// Given one chunk with a correctly-dimensioned vector and one with a
	// stale, mismatched dimension
	st := newTestStore(t)
	emb := external.NewStubEmbedder(4)
	require.NoError(t, emb.Initialize(nil))
	v, err := index.NewVector(st, emb, telemetry.NopLogger{}, 0)
	require.NoError(t, err)

	require.NoError(t, v.Build(context.Background(), []store.Chunk{{ID: "good", Text: "alpha beta"}}))
	require.NoError(t, st.PutVector("bad", []float32{1, 2, 3})) // wrong dimension

	// When searching
	results, err := v.Search(context.Background(), "alpha", 5)
	require.NoError(t, err)

	// Then only the well-formed chunk is returned
	for _, r := range results {
		assert.NotEqual(t, "bad", r.ChunkID)
	}

	// And the corpus is flagged as needing a re-embed
	needs, err := v.NeedsReembed()
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestVector_NeedsReembedClearsAfterRebuild(t *testing.T) {
	// Given a dimension mismatch has been flagged
	st := newTestStore(t)
	emb := external.NewStubEmbedder(4)
	require.NoError(t, emb.Initialize(nil))
	v, err := index.NewVector(st, emb, telemetry.NopLogger{}, 0)
	require.NoError(t, err)
	require.NoError(t, st.PutVector("bad", []float32{1, 2, 3}))
	_, err = v.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	needs, err := v.NeedsReembed()
	require.NoError(t, err)
	require.True(t, needs)

	// When the caller clears the flag after rebuilding
	require.NoError(t, v.ClearNeedsReembed())

	// Then it no longer reports needing a re-embed
	needs, err = v.NeedsReembed()
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestVector_NeedsReembedFalseWhenNoMismatchSeen(t *testing.T) {
	// Given a store that has never produced a dimension mismatch
	st := newTestStore(t)
	emb := external.NewStubEmbedder(4)
	require.NoError(t, emb.Initialize(nil))
	v, err := index.NewVector(st, emb, telemetry.NopLogger{}, 0)
	require.NoError(t, err)

	// Then NeedsReembed reports false
	needs, err := v.NeedsReembed()
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestVector_EmptyStoreReturnsEmpty(t *testing.T) {
	// Given no persisted vectors
	st := newTestStore(t)
	emb := external.NewStubEmbedder(4)
	require.NoError(t, emb.Initialize(nil))
	v, err := index.NewVector(st, emb, telemetry.NopLogger{}, 0)
	require.NoError(t, err)

	// When searching
	results, err := v.Search(context.Background(), "anything", 5)

	// Then no error, no results
	require.NoError(t, err)
	assert.Empty(t, results)
}
