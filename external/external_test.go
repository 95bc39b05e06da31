package external_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborq/ragcore/external"
)

func TestStubEmbedder_IsDeterministic(t *testing.T) {
	// Given an initialized stub embedder
	e := external.NewStubEmbedder(16)
	require.NoError(t, e.Initialize(nil))

	// When embedding the same text twice
	a, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)

	// Then the vectors are identical and of the declared dimension
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.Equal(t, 16, e.Dimensions())
}

func TestStubEmbedder_EmbedBatchMatchesIndividualCalls(t *testing.T) {
	// Given an initialized stub embedder
	e := external.NewStubEmbedder(8)
	require.NoError(t, e.Initialize(nil))

	texts := []string{"alpha", "beta", "gamma"}
	batch, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestDefaultExtractor_TxtProducesOnePage(t *testing.T) {
	// Given a plain text document
	e := external.DefaultExtractor{}

	// When extracting
	pages := e.Extract("doc1", "txt", []byte("hello world"))

	// Then it emits a single page starting at 1
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Equal(t, "hello world", pages[0].Text)
}

func TestDefaultExtractor_EmptyTextProducesNoPages(t *testing.T) {
	// Given an empty document
	e := external.DefaultExtractor{}

	// When extracting
	pages := e.Extract("doc1", "txt", []byte(""))

	// Then it returns an empty sequence rather than a blank page
	assert.Empty(t, pages)
}

func TestDefaultExtractor_UnsupportedKindProducesNoPages(t *testing.T) {
	// Given an unsupported file kind
	e := external.DefaultExtractor{}

	// When extracting
	pages := e.Extract("doc1", "docx", []byte("anything"))

	// Then it returns an empty sequence rather than erroring
	assert.Empty(t, pages)
}

func TestDefaultExtractor_CorruptPDFProducesNoPages(t *testing.T) {
	// Given bytes that are not a valid PDF
	e := external.DefaultExtractor{}

	// When extracting
	pages := e.Extract("doc1", "pdf", []byte("not a pdf"))

	// Then it returns an empty sequence rather than erroring
	assert.Empty(t, pages)
}

func TestExtractiveGenerator_ComposesFromChunks(t *testing.T) {
	// Given a few generation chunks
	g := &external.ExtractiveGenerator{MaxTokens: 64}
	chunks := []external.GenerationChunk{
		{Text: "The fox jumps over the sleeping dog. It is quick and very brown."},
		{Text: "The dog sleeps all afternoon in the sun. It is lazy."},
	}

	// When generating
	result, err := g.Generate(context.Background(), "what does the fox do?", chunks)

	// Then it returns a non-empty composed answer with metadata
	require.NoError(t, err)
	assert.NotEmpty(t, result.Answer)
	assert.Equal(t, "extractive", g.ID())
	assert.Contains(t, result.Metadata, "chunksUsed")
}

func TestPolishPostProcessor_UninitializedFallsBackToOriginalAnswer(t *testing.T) {
	// Given a post-processor with no underlying client
	p := external.NewPolishPostProcessor(nil)

	// When processing
	answer, err := p.Process(context.Background(), "original answer", "question", nil)

	// Then it reports an error but preserves the original answer for the
	// caller to fall back to
	require.Error(t, err)
	assert.Equal(t, "original answer", answer)
}

func TestGollmGenerator_UninitializedErrors(t *testing.T) {
	// Given a generator that has never had Initialize called
	g := external.NewGollmGenerator("gpt-4o-mini")

	// When generating
	_, err := g.Generate(context.Background(), "question", nil)

	// Then it reports the missing initialization rather than panicking
	require.Error(t, err)
}

func TestGollmGenerator_InitializeRequiresAPIKey(t *testing.T) {
	// Given a generator initialized without an apiKey
	g := external.NewGollmGenerator("gpt-4o-mini")

	// When initializing
	err := g.Initialize(map[string]string{})

	// Then it reports the missing credential
	require.Error(t, err)
}
