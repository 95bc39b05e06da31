// Package external defines the narrow contracts the core consumes from
// collaborators that are out of scope for this module: the page extractor,
// the embedder, and the generator/post-processor. Every contract is
// implementable with a deterministic stub, making the core fully testable
// without a real provider.
package external

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Embedder is the external vector producer, per spec §6. Implementations
// MUST be deterministic given identical input after Initialize, and MUST
// report a fixed Dimensions(). Swapping an embedder invalidates every
// stored vector; the orchestrator enforces that, not the embedder itself.
type Embedder interface {
	ID() string
	Initialize(cfg map[string]string) error
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	IsReady() bool
	Dimensions() int
}

// StubEmbedder is a deterministic, dependency-free Embedder for tests: it
// hashes tokens into a fixed-size vector rather than calling a real model.
// It satisfies the same determinism and dimension contracts a real provider
// must.
type StubEmbedder struct {
	dim   int
	ready bool
}

// NewStubEmbedder returns a StubEmbedder of the given dimension.
func NewStubEmbedder(dim int) *StubEmbedder {
	return &StubEmbedder{dim: dim}
}

func (s *StubEmbedder) ID() string { return "stub" }

func (s *StubEmbedder) Initialize(map[string]string) error {
	s.ready = true
	return nil
}

func (s *StubEmbedder) IsReady() bool  { return s.ready }
func (s *StubEmbedder) Dimensions() int { return s.dim }

func (s *StubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	for i, r := range text {
		v[i%s.dim] += float32(r%97) / 97.0
	}
	return v, nil
}

func (s *StubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// OpenAIEmbedder calls OpenAI's embeddings endpoint directly over HTTP,
// adapted from the teacher's rag/providers/openai.go implementation (same
// request/response shapes, same per-model dimension table).
type OpenAIEmbedder struct {
	apiKey    string
	client    *http.Client
	apiURL    string
	modelName string
	limiter   *rate.Limiter
	ready     bool
}

// NewOpenAIEmbedder constructs an embedder for the given model, rate-
// limited to avoid hammering the provider during batch embedding.
func NewOpenAIEmbedder(modelName string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:    &http.Client{Timeout: 30 * time.Second},
		apiURL:    "https://api.openai.com/v1/embeddings",
		modelName: modelName,
		limiter:   rate.NewLimiter(rate.Limit(10), 10),
	}
}

func (e *OpenAIEmbedder) ID() string { return "openai" }

func (e *OpenAIEmbedder) Initialize(cfg map[string]string) error {
	apiKey := cfg["apiKey"]
	if apiKey == "" {
		return fmt.Errorf("external: openai embedder requires an apiKey")
	}
	e.apiKey = apiKey
	if model := cfg["model"]; model != "" {
		e.modelName = model
	}
	e.ready = true
	return nil
}

func (e *OpenAIEmbedder) IsReady() bool { return e.ready }

func (e *OpenAIEmbedder) Dimensions() int {
	switch {
	case strings.Contains(e.modelName, "text-embedding-3-large"):
		return 3072
	case strings.Contains(e.modelName, "text-embedding-3-small"):
		return 1536
	case strings.Contains(e.modelName, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.ready {
		return nil, fmt.Errorf("external: openai embedder not initialized")
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return requestOpenAIEmbeddings(ctx, e.client, e.apiURL, e.apiKey, e.modelName, texts)
}
