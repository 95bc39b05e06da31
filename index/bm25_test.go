package index_test

import (
	"testing"

	"github.com/arborq/ragcore/index"
	"github.com/arborq/ragcore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunksOf(pairs ...[2]string) []store.Chunk {
	var out []store.Chunk
	for _, p := range pairs {
		out = append(out, store.Chunk{ID: p[0], Text: p[1]})
	}
	return out
}

func TestLexical_ExactMatch(t *testing.T) {
	// Given S1's corpus: two docs, one mentioning "lazy dog"
	chunks := chunksOf(
		[2]string{"d1-chunk-0", "The quick brown fox jumps over the lazy dog"},
		[2]string{"d2-chunk-0", "Machine learning algorithms process data efficiently"},
	)
	snap := index.BuildLexical(chunks)
	lex := index.NewLexical(snap)

	// When searching for "lazy dog"
	results := lex.Search("lazy dog", 5)

	// Then exactly one citation for d1 survives, with a positive score
	require.Len(t, results, 1)
	assert.Equal(t, "d1-chunk-0", results[0].ChunkID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestLexical_EmptyIndexReturnsEmpty(t *testing.T) {
	// Given an empty corpus
	lex := index.NewLexical(index.BuildLexical(nil))

	// When searching
	results := lex.Search("anything", 5)

	// Then no error, no results
	assert.Empty(t, results)
}

func TestLexical_UnknownTermsContributeZero(t *testing.T) {
	// Given a corpus with no overlap with the query terms
	chunks := chunksOf([2]string{"c1", "apples and oranges"})
	lex := index.NewLexical(index.BuildLexical(chunks))

	// When searching for unrelated terms
	results := lex.Search("quantum mechanics", 5)

	// Then nothing is returned
	assert.Empty(t, results)
}

func TestLexical_ScoreMonotonicityInTermFrequency(t *testing.T) {
	// Given two chunks differing only in repetition of the query term
	chunks := chunksOf(
		[2]string{"low", "fox fox jumps over something irrelevant padding text"},
		[2]string{"high", "fox fox fox fox jumps over something irrelevant padding text"},
	)
	lex := index.NewLexical(index.BuildLexical(chunks))

	// When searching for the repeated term
	results := lex.Search("fox", 5)
	scoreByID := map[string]float64{}
	for _, r := range results {
		scoreByID[r.ChunkID] = r.Score
	}

	// Then higher term frequency never decreases the score
	require.Contains(t, scoreByID, "low")
	require.Contains(t, scoreByID, "high")
	assert.GreaterOrEqual(t, scoreByID["high"], scoreByID["low"])
}

func TestLexical_AvgDocLengthMatchesDefinition(t *testing.T) {
	// Given chunks with known token counts after stop-word removal
	chunks := chunksOf(
		[2]string{"c1", "fox dog cat"},   // 3 tokens
		[2]string{"c2", "fox dog"},       // 2 tokens
	)

	// When the snapshot is built
	snap := index.BuildLexical(chunks)

	// Then avgDocLength = (3+2)/2 per spec §8
	assert.Equal(t, 2.5, snap.AvgDocLength)
}
