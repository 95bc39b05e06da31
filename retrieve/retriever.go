// Package retrieve implements the retriever registry (C7): the three named
// retrieval strategies (lexical, semantic, hybrid) behind one small
// interface, plus a registry an engine instance owns rather than a package
// global, per the no-global-mutable-state rule.
package retrieve

import (
	"context"
	"fmt"

	"github.com/arborq/ragcore/config"
	"github.com/arborq/ragcore/index"
	"github.com/arborq/ragcore/store"
)

// Retriever is the capability interface every retrieval strategy
// implements. A strategy MAY require embeddings (semantic, hybrid) and
// reports so through RequiresEmbeddings; the orchestrator does not consult
// it when selecting a strategy.
type Retriever interface {
	ID() string
	RequiresEmbeddings() bool
	Retrieve(ctx context.Context, query string, chunks []store.Chunk, cfg config.RetrievalConfig) ([]index.Result, error)
}

// Canonical retriever ids, per the resolved open question: the lexical
// strategy is addressed as "lexical", not "bm25" — "bm25" names the scoring
// formula, not the strategy a caller selects.
const (
	IDLexical  = "lexical"
	IDSemantic = "semantic"
	IDHybrid   = "hybrid"
)

// LexicalIndexFunc returns the currently cached lexical index (or nil if
// Absent, per spec §4.12's snapshot state machine). LexicalRetriever and
// HybridRetriever take one of these rather than a frozen *index.Lexical so
// that a rebuild triggered by a later ingest or lazy-rebuild is always
// visible on the very next query, instead of requiring re-registration.
type LexicalIndexFunc func() *index.Lexical

// LexicalRetriever wraps the BM25 ranker (C4).
type LexicalRetriever struct {
	lexical LexicalIndexFunc
}

// NewLexicalRetriever wraps an accessor to the live lexical index for the
// "lexical" strategy.
func NewLexicalRetriever(lexical LexicalIndexFunc) *LexicalRetriever {
	return &LexicalRetriever{lexical: lexical}
}

func (LexicalRetriever) ID() string               { return IDLexical }
func (LexicalRetriever) RequiresEmbeddings() bool { return false }

func (r *LexicalRetriever) Retrieve(_ context.Context, query string, _ []store.Chunk, cfg config.RetrievalConfig) ([]index.Result, error) {
	lexical := r.lexical()
	if lexical == nil {
		return nil, fmt.Errorf("retrieve: lexical index not built")
	}
	return lexical.Search(query, cfg.TopK), nil
}

// SemanticRetriever wraps the cosine-similarity vector index (C5).
type SemanticRetriever struct {
	vector *index.Vector
}

// NewSemanticRetriever wraps a Vector index for the "semantic" strategy.
func NewSemanticRetriever(vector *index.Vector) *SemanticRetriever {
	return &SemanticRetriever{vector: vector}
}

func (SemanticRetriever) ID() string               { return IDSemantic }
func (SemanticRetriever) RequiresEmbeddings() bool { return true }

func (r *SemanticRetriever) Retrieve(ctx context.Context, query string, _ []store.Chunk, cfg config.RetrievalConfig) ([]index.Result, error) {
	if r.vector == nil {
		return nil, fmt.Errorf("retrieve: vector index not built")
	}
	return r.vector.Search(ctx, query, cfg.TopK)
}

// HybridRetriever convex-combines semantic and lexical rankings via C6's
// fusion, at the caller-chosen alpha.
type HybridRetriever struct {
	lexical LexicalIndexFunc
	vector  *index.Vector
}

// NewHybridRetriever wires both underlying rankers for the "hybrid" strategy.
func NewHybridRetriever(lexical LexicalIndexFunc, vector *index.Vector) *HybridRetriever {
	return &HybridRetriever{lexical: lexical, vector: vector}
}

func (HybridRetriever) ID() string               { return IDHybrid }
func (HybridRetriever) RequiresEmbeddings() bool { return true }

func (r *HybridRetriever) Retrieve(ctx context.Context, query string, _ []store.Chunk, cfg config.RetrievalConfig) ([]index.Result, error) {
	lexical := r.lexical()
	if lexical == nil || r.vector == nil {
		return nil, fmt.Errorf("retrieve: hybrid requires both lexical and vector indices")
	}
	// Fetch the full, unbounded per-ranker result set before fusion: min/max
	// normalization must see every candidate each ranker produced, not just
	// its own top-K, or the two rankers' scores land on different scales.
	// Fuse truncates to cfg.TopK only after normalizing and combining.
	lexResults := lexical.Search(query, 0)
	semResults, err := r.vector.Search(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	return index.Fuse(semResults, lexResults, cfg.Alpha, cfg.TopK), nil
}
