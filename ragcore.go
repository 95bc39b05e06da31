// Package ragcore wires the store, index, retrieve, external, and pipeline
// packages into one engine and exposes ingest/query/reset as library entry
// points, per spec §6.
package ragcore

import (
	"context"
	"fmt"

	"github.com/arborq/ragcore/config"
	"github.com/arborq/ragcore/external"
	"github.com/arborq/ragcore/index"
	"github.com/arborq/ragcore/pipeline"
	"github.com/arborq/ragcore/retrieve"
	"github.com/arborq/ragcore/sampleloader"
	"github.com/arborq/ragcore/store"
	"github.com/arborq/ragcore/telemetry"
)

// Engine is the assembled RAG engine: one Store, one Vector index, one set
// of registries, and the Orchestrator driving them.
type Engine struct {
	st     *store.Store
	orch   *pipeline.Orchestrator
	loader *sampleloader.Loader
	log    telemetry.Logger
}

// Open assembles an Engine from cfg: it opens the store, builds the
// embedder and vector index named by cfg.RAG.Embedding.Strategy, registers
// the three retrieval strategies, the generators, and any configured
// post-processors, then validates cfg against every registry before
// returning.
func Open(cfg *config.Config) (*Engine, error) {
	log := telemetry.NewLogger(telemetry.ParseLogLevel(cfg.LogLevel))

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("ragcore: opening store: %w", err)
	}

	embedder, err := newEmbedder(cfg.RAG.Embedding)
	if err != nil {
		st.Close()
		return nil, err
	}

	vector, err := index.NewVector(st, embedder, log, 0)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("ragcore: building vector index: %w", err)
	}

	retrievers := retrieve.NewRegistry[retrieve.Retriever]()
	generators := retrieve.NewRegistry[external.Generator]()
	postProcessors := retrieve.NewRegistry[external.PostProcessor]()

	latency := telemetry.NewLatency(0)
	events := telemetry.NewEventLog(0)

	orch := pipeline.New(st, external.DefaultExtractor{}, vector, retrievers, generators, postProcessors,
		log, latency, events, cfg.RAG)

	// Retrievers are registered after New returns: lexical/hybrid close
	// over orch.CurrentLexical so a later rebuild is visible on the next
	// query without re-registering the strategy.
	retrievers.Register(retrieve.IDLexical, retrieve.NewLexicalRetriever(orch.CurrentLexical))
	retrievers.Register(retrieve.IDSemantic, retrieve.NewSemanticRetriever(vector))
	retrievers.Register(retrieve.IDHybrid, retrieve.NewHybridRetriever(orch.CurrentLexical, vector))

	generators.Register("extractive", &external.ExtractiveGenerator{})

	var gollmGen *external.GollmGenerator
	if cfg.RAG.Generation.Strategy == "gollm" || contains(cfg.RAG.PostProcess, "polish") {
		apiKey := cfg.RAG.Embedding.APIKey
		model := cfg.RAG.Generation.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		gollmGen = external.NewGollmGenerator(model)
		if err := gollmGen.Initialize(map[string]string{"apiKey": apiKey, "model": model}); err != nil {
			log.Warn("ragcore: gollm generator unavailable, not registering it", "error", err)
			gollmGen = nil
		} else {
			generators.Register("gollm", gollmGen)
		}
	}

	for _, id := range cfg.RAG.PostProcess {
		if id != "polish" {
			continue
		}
		if gollmGen == nil || gollmGen.LLM() == nil {
			log.Warn("ragcore: polish requested but no gollm client is available, not registering it")
			continue
		}
		postProcessors.Register("polish", external.NewPolishPostProcessor(gollmGen.LLM()))
	}

	if err := orch.ValidateConfig(cfg.RAG); err != nil {
		st.Close()
		return nil, fmt.Errorf("ragcore: %w", err)
	}

	var loader *sampleloader.Loader
	if cfg.SamplesDir != "" {
		loader = sampleloader.New(st, orch, cfg.SamplesDir, log)
	}

	return &Engine{st: st, orch: orch, loader: loader, log: log}, nil
}

// newEmbedder constructs and initializes the embedder named by strategy.
func newEmbedder(cfg config.EmbeddingConfig) (external.Embedder, error) {
	switch cfg.Strategy {
	case "stub":
		e := external.NewStubEmbedder(8)
		_ = e.Initialize(nil)
		return e, nil
	case "openai":
		e := external.NewOpenAIEmbedder(cfg.Model)
		if err := e.Initialize(map[string]string{"apiKey": cfg.APIKey, "model": cfg.Model}); err != nil {
			return nil, fmt.Errorf("ragcore: initializing openai embedder: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("ragcore: unknown embedding strategy %q", cfg.Strategy)
	}
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.st.Close()
}

// SeedSamples seeds the corpus from the configured samples directory once,
// if the corpus is empty and seeding has not already run. It is a no-op
// when no samples directory was configured.
func (e *Engine) SeedSamples(ctx context.Context) error {
	if e.loader == nil {
		return nil
	}
	return e.loader.SeedOnce(ctx)
}

// WatchSamples blocks, seeding immediately and then watching the samples
// directory for later additions. It returns when ctx is canceled. It is a
// no-op when no samples directory was configured.
func (e *Engine) WatchSamples(ctx context.Context) error {
	if e.loader == nil {
		<-ctx.Done()
		return nil
	}
	return e.loader.Watch(ctx)
}

// Ingest adds one document to the corpus. See pipeline.Orchestrator.Ingest.
func (e *Engine) Ingest(ctx context.Context, name, kind string, data []byte, onProgress func(pipeline.IngestProgress)) (store.Doc, error) {
	return e.orch.Ingest(ctx, name, kind, data, onProgress)
}

// Query answers a question against the corpus. See
// pipeline.Orchestrator.Query.
func (e *Engine) Query(ctx context.Context, req pipeline.QueryRequest) (pipeline.QueryResult, error) {
	return e.orch.Query(ctx, req)
}

// Reset clears the entire corpus. See pipeline.Orchestrator.Reset.
func (e *Engine) Reset(ctx context.Context) error {
	return e.orch.Reset(ctx)
}

// SetConfig validates and swaps the live RAGConfig. An embedder change
// invalidates the persisted vector store. See pipeline.Orchestrator.SetConfig.
func (e *Engine) SetConfig(cfg config.RAGConfig) error {
	return e.orch.SetConfig(cfg)
}
