package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/arborq/ragcore/external"
	"github.com/arborq/ragcore/store"
	"github.com/arborq/ragcore/telemetry"
)

// Vector is the brute-force cosine similarity index (C5). It persists
// embeddings through the store, which is the durable source of truth. Build
// also adds each new vector to a bounded in-memory LRU cache; Search does not
// consult that cache and reads every vector from the store on each query.
type Vector struct {
	st       *store.Store
	embedder external.Embedder
	log      telemetry.Logger
	cache    *lru.Cache[string, []float32]

	mu sync.RWMutex
}

// NewVector wires a Vector index over st, using embedder to produce
// vectors for chunks lacking one. cacheSize bounds the warm LRU cache; 0
// picks a sane default.
func NewVector(st *store.Store, embedder external.Embedder, log telemetry.Logger, cacheSize int) (*Vector, error) {
	if cacheSize <= 0 {
		cacheSize = 2048
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("index: creating vector cache: %w", err)
	}
	if log == nil {
		log = telemetry.NopLogger{}
	}
	return &Vector{st: st, embedder: embedder, log: log, cache: cache}, nil
}

// needsReembedKey flags, in store metadata, that a Search observed a stored
// vector whose dimension no longer matches the embedder in use (e.g. after
// an embedder swap that skipped invalidation) per spec §4.4. It is the
// persisted signal a caller can poll via NeedsReembed and act on by
// clearing the vector collection and rebuilding.
const needsReembedKey = "needs-reembed"

// maxConcurrentEmbeds bounds the number of in-flight embedder calls during
// Build, per spec §5's allowance for real threads around the embedder while
// the orchestrator's own state stays single-threaded.
const maxConcurrentEmbeds = 4

// Build ensures every chunk lacking a persisted vector gets one. It is
// restartable and idempotent: chunks with an existing vector are skipped.
func (v *Vector) Build(ctx context.Context, chunks []store.Chunk) error {
	var toEmbed []store.Chunk
	for _, c := range chunks {
		if _, ok, err := v.st.GetVector(c.ID); err != nil {
			return fmt.Errorf("index: checking existing vector for %s: %w", c.ID, err)
		} else if !ok {
			toEmbed = append(toEmbed, c)
		}
	}
	if len(toEmbed) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEmbeds)

	for _, c := range toEmbed {
		c := c
		g.Go(func() error {
			vec, err := v.embedder.Embed(ctx, c.Text)
			if err != nil {
				return fmt.Errorf("index: embedding chunk %s: %w", c.ID, err)
			}
			if err := v.st.PutVector(c.ID, vec); err != nil {
				return fmt.Errorf("index: persisting vector for %s: %w", c.ID, err)
			}
			v.mu.Lock()
			v.cache.Add(c.ID, vec)
			v.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Search embeds the query and computes cosine similarity against every
// persisted vector, per spec §4.4. A chunk whose stored vector dimension
// does not match the query's is skipped with a logged warning rather than
// failing the whole search.
func (v *Vector) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	queryVec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index: embedding query: %w", err)
	}

	vectors, err := v.st.ListVectors()
	if err != nil {
		return nil, fmt.Errorf("index: listing vectors: %w", err)
	}

	chunkIDs := make([]string, 0, len(vectors))
	for id := range vectors {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Strings(chunkIDs)

	scores := make(map[string]float64, len(vectors))
	var dimMismatch bool
	for _, id := range chunkIDs {
		vec := vectors[id]
		if len(vec) != len(queryVec) {
			v.log.Warn("vector dimension mismatch, skipping chunk", "chunkId", id, "expected", len(queryVec), "got", len(vec))
			dimMismatch = true
			continue
		}
		sim := cosineSimilarity(queryVec, vec)
		if sim != 0 {
			scores[id] = sim
		}
	}
	if dimMismatch {
		if err := v.st.PutMetadata(needsReembedKey, "true"); err != nil {
			v.log.Warn("failed to persist needs-reembed flag", "error", err)
		}
	}

	return topResults(chunkIDs, scores, topK), nil
}

// NeedsReembed reports whether a previous Search observed a stored vector
// whose dimension no longer matches the embedder in use, signaling the
// corpus should be cleared and re-embedded (e.g. via DeleteAllVectors
// followed by Build over every chunk).
func (v *Vector) NeedsReembed() (bool, error) {
	val, ok, err := v.st.GetMetadata(needsReembedKey)
	if err != nil {
		return false, err
	}
	return ok && val == "true", nil
}

// ClearNeedsReembed clears the needs-reembed flag, typically called once a
// caller has rebuilt the vector collection in response to NeedsReembed.
func (v *Vector) ClearNeedsReembed() error {
	return v.st.PutMetadata(needsReembedKey, "false")
}

// cosineSimilarity computes dot(a,b) / (|a|*|b|) using gonum's float
// helpers for the dot product and the Euclidean norm.
func cosineSimilarity(a, b []float32) float64 {
	af := make([]float64, len(a))
	bf := make([]float64, len(b))
	for i := range a {
		af[i] = float64(a[i])
		bf[i] = float64(b[i])
	}
	dot := floats.Dot(af, bf)
	normA := floats.Norm(af, 2)
	normB := floats.Norm(bf, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * normB)
}
