package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/arborq/ragcore/config"
	"github.com/arborq/ragcore/external"
	"github.com/arborq/ragcore/index"
	"github.com/arborq/ragcore/retrieve"
	"github.com/arborq/ragcore/store"
	"github.com/arborq/ragcore/telemetry"
	"github.com/arborq/ragcore/textproc"
)

// Orchestrator is the pipeline orchestrator (C8): it holds the live RAGConfig
// and every registry, and drives Ingest/Query per spec §4.7. Its own state
// (the cached lexical snapshot reference, the retrieval/ingest mutex) is
// never package-global — callers construct and own one Orchestrator per
// engine instance.
type Orchestrator struct {
	st        *store.Store
	extractor external.Extractor
	vector    *index.Vector
	log       telemetry.Logger
	latency   *telemetry.Latency
	events    *telemetry.EventLog

	retrievers      *retrieve.Registry[retrieve.Retriever]
	generators      *retrieve.Registry[external.Generator]
	postProcessors  *retrieve.Registry[external.PostProcessor]

	cfg config.RAGConfig

	// ioMu serializes ingest against ingest/query, per spec §5's single-
	// threaded cooperative model: at most one ingest is ever in flight, and
	// a query queues behind an active ingest unless it only borrows
	// immutable state (the simplification taken here: queries hold the read
	// side of this lock, ingest holds the write side).
	ioMu sync.RWMutex

	lexicalMu sync.RWMutex
	lexical   *index.Lexical // nil when Absent, per §4.12's snapshot state machine
	rebuild   singleflight.Group
}

// New wires an Orchestrator over an already-open store and the given
// collaborators. Registries are populated by the caller (typically an
// engine constructor) before first use.
func New(
	st *store.Store,
	extractor external.Extractor,
	vector *index.Vector,
	retrievers *retrieve.Registry[retrieve.Retriever],
	generators *retrieve.Registry[external.Generator],
	postProcessors *retrieve.Registry[external.PostProcessor],
	log telemetry.Logger,
	latency *telemetry.Latency,
	events *telemetry.EventLog,
	cfg config.RAGConfig,
) *Orchestrator {
	if log == nil {
		log = telemetry.NopLogger{}
	}
	if latency == nil {
		latency = telemetry.NewLatency(0)
	}
	if events == nil {
		events = telemetry.NewEventLog(0)
	}
	return &Orchestrator{
		st:             st,
		extractor:      extractor,
		vector:         vector,
		retrievers:     retrievers,
		generators:     generators,
		postProcessors: postProcessors,
		log:            log,
		latency:        latency,
		events:         events,
		cfg:            cfg,
	}
}

// ValidateConfig checks that every strategy id named in cfg is present in
// its registry, per spec §4.7.
func (o *Orchestrator) ValidateConfig(cfg config.RAGConfig) error {
	if !o.retrievers.Has(cfg.Retrieval.Strategy) {
		return ProgrammerError("validateConfig", fmt.Sprintf("unknown retrieval strategy %q", cfg.Retrieval.Strategy), nil)
	}
	if !o.generators.Has(cfg.Generation.Strategy) {
		return ProgrammerError("validateConfig", fmt.Sprintf("unknown generation strategy %q", cfg.Generation.Strategy), nil)
	}
	for _, id := range cfg.PostProcess {
		if !o.postProcessors.Has(id) {
			return ProgrammerError("validateConfig", fmt.Sprintf("unknown post-processor %q", id), nil)
		}
	}
	return nil
}

// SetConfig replaces the live RAGConfig after validating it. Per spec §3's
// "on embedder change the vector store MUST be invalidated", swapping to a
// different embedding strategy/model clears the persisted vector collection
// under the write lock (spec §5), so stale embeddings from the old embedder
// are never compared against vectors produced by the new one.
func (o *Orchestrator) SetConfig(cfg config.RAGConfig) error {
	if err := o.ValidateConfig(cfg); err != nil {
		return err
	}

	if cfg.Embedding != o.cfg.Embedding {
		o.ioMu.Lock()
		defer o.ioMu.Unlock()
		if err := o.st.DeleteAllVectors(); err != nil {
			return TransientError("setConfig", "invalidating vectors after embedder change", err)
		}
		if err := o.vector.ClearNeedsReembed(); err != nil {
			return TransientError("setConfig", "clearing needs-reembed flag", err)
		}
	}

	o.cfg = cfg
	return nil
}

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := nonAlphaNum.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "doc"
	}
	return s
}

// IngestProgress reports fractional progress through Ingest, per spec
// §4.7's "emit terminal progress 1.0" and the onProgress callback shape.
type IngestProgress = float64

// Ingest runs the full ingest pipeline for one file: extract, persist doc,
// chunk, persist chunks, embed, persist vectors, rebuild the lexical
// snapshot over the whole corpus. It is cancelable at each suspension
// point; partial writes already committed are left in place.
func (o *Orchestrator) Ingest(ctx context.Context, name, kind string, data []byte, onProgress func(IngestProgress)) (store.Doc, error) {
	if onProgress == nil {
		onProgress = func(IngestProgress) {}
	}
	switch kind {
	case "txt", "md", "pdf":
	default:
		return store.Doc{}, InputError("ingest", fmt.Sprintf("unsupported kind %q", kind), nil)
	}

	o.ioMu.Lock()
	defer o.ioMu.Unlock()

	if err := ctx.Err(); err != nil {
		return store.Doc{}, CancelError("ingest")
	}

	docID := fmt.Sprintf("%s-%s", slugify(name), uuid.New().String())
	extPages := o.extractor.Extract(docID, kind, data)
	if len(extPages) == 0 {
		return store.Doc{}, InputError("ingest", fmt.Sprintf("extractor produced no pages for %q", name), nil)
	}

	doc := store.Doc{
		ID:         docID,
		Name:       name,
		Kind:       kind,
		ByteSize:   int64(len(data)),
		UploadedAt: time.Now(),
	}
	if err := retryOnce(func() error { return o.st.PutDoc(doc) }); err != nil {
		return store.Doc{}, TransientError("ingest", "persisting doc", err)
	}
	onProgress(0.1)

	if kind == "pdf" {
		if err := retryOnce(func() error { return o.st.PutBlob(docID, data) }); err != nil {
			return store.Doc{}, TransientError("ingest", "persisting blob", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return doc, CancelError("ingest")
	}

	pages := make([]textproc.Page, len(extPages))
	for i, p := range extPages {
		pages[i] = textproc.Page{DocID: p.DocID, PageNumber: p.PageNumber, Text: p.Text}
	}
	chunks, err := textproc.ChunkPages(pages, textproc.Config{
		ChunkSize:      o.cfg.Chunking.ChunkSize,
		OverlapPercent: o.cfg.Chunking.OverlapPercent,
	})
	if err != nil {
		return doc, InputError("ingest", "chunking config", err)
	}

	storeChunks := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = store.Chunk{
			ID: c.ID, DocID: c.DocID, PageNumber: c.PageNumber, Text: c.Text,
			StartOffset: c.StartOffset, EndOffset: c.EndOffset, TokenCount: c.TokenCount,
		}
	}
	if err := retryOnce(func() error { return o.st.PutChunks(storeChunks) }); err != nil {
		return doc, TransientError("ingest", "persisting chunks", err)
	}
	doc.Parsed = true
	if err := retryOnce(func() error { return o.st.PutDoc(doc) }); err != nil {
		return doc, TransientError("ingest", "persisting doc after chunking", err)
	}
	onProgress(0.4)

	if err := ctx.Err(); err != nil {
		return doc, CancelError("ingest")
	}

	if err := retryOnce(func() error { return o.vector.Build(ctx, storeChunks) }); err != nil {
		return doc, TransientError("ingest", "embedding chunks", err)
	}
	doc.IndexedVector = true
	if err := retryOnce(func() error { return o.st.PutDoc(doc) }); err != nil {
		return doc, TransientError("ingest", "persisting doc after embedding", err)
	}
	onProgress(0.7)

	if err := ctx.Err(); err != nil {
		return doc, CancelError("ingest")
	}

	if err := o.rebuildLexical(); err != nil {
		return doc, err
	}

	docs, err := o.st.ListDocs()
	if err != nil {
		return doc, TransientError("ingest", "listing docs for lexical flag", err)
	}
	for _, d := range docs {
		d.IndexedLexical = true
		if err := retryOnce(func() error { return o.st.PutDoc(d) }); err != nil {
			return doc, TransientError("ingest", "flagging doc indexed", err)
		}
		if d.ID == docID {
			doc = d
		}
	}

	onProgress(1.0)
	return doc, nil
}

// rebuildLexical rebuilds the BM25 snapshot over every persisted chunk, per
// spec §4.7's "global rebuild, not per-doc append" rule. Concurrent
// triggers (e.g. an ingest completing while a query's lazy rebuild is also
// in flight) are deduplicated via singleflight so the snapshot is built at
// most once per distinct request.
func (o *Orchestrator) rebuildLexical() error {
	_, err, _ := o.rebuild.Do("lexical", func() (interface{}, error) {
		chunks, err := o.st.ListChunks()
		if err != nil {
			return nil, TransientError("rebuildLexical", "listing chunks", err)
		}
		snap := index.BuildLexical(chunks)
		if err := retryOnce(func() error { return o.st.PutLexicalSnapshot(snap) }); err != nil {
			return nil, TransientError("rebuildLexical", "persisting snapshot", err)
		}
		o.lexicalMu.Lock()
		o.lexical = index.NewLexical(snap)
		o.lexicalMu.Unlock()
		return nil, nil
	})
	if err != nil {
		return err.(*Error)
	}
	return nil
}

// CurrentLexical returns the cached lexical index without triggering a
// rebuild, or nil if Absent. Wired into retrieve.LexicalRetriever /
// retrieve.HybridRetriever as their LexicalIndexFunc so a rebuild is visible
// on the next query without re-registering the retriever.
func (o *Orchestrator) CurrentLexical() *index.Lexical {
	o.lexicalMu.RLock()
	defer o.lexicalMu.RUnlock()
	return o.lexical
}

// ensureLexical returns the cached lexical index, lazily rebuilding it from
// the store if it is Absent (e.g. right after process start), per the
// snapshot state machine in spec §4.12.
func (o *Orchestrator) ensureLexical() (*index.Lexical, error) {
	o.lexicalMu.RLock()
	if o.lexical != nil {
		defer o.lexicalMu.RUnlock()
		return o.lexical, nil
	}
	o.lexicalMu.RUnlock()

	var snap store.LexicalSnapshot
	var ok bool
	if err := retryOnce(func() error {
		var err error
		snap, ok, err = o.st.GetLexicalSnapshot()
		return err
	}); err != nil {
		return nil, TransientError("query", "loading lexical snapshot", err)
	} else if ok {
		l := index.NewLexical(snap)
		o.lexicalMu.Lock()
		o.lexical = l
		o.lexicalMu.Unlock()
		return l, nil
	}

	if err := o.rebuildLexical(); err != nil {
		return nil, err
	}
	o.lexicalMu.RLock()
	defer o.lexicalMu.RUnlock()
	return o.lexical, nil
}

// QueryRequest is the query request shape from spec §6.
type QueryRequest struct {
	Text     string
	Mode     string // "" uses the configured default retrieval strategy
	TopK     int    // 0 uses the configured default
	Alpha    float64
	HasAlpha bool // distinguishes an explicit alpha=0 override from "unset"
	ChatMode string // "search" or "chat"
	Polish   bool
}

// Citation joins a ranked chunk back to its document, preserving rank.
type Citation struct {
	Rank       int
	ChunkID    string
	DocID      string
	DocName    string
	PageNumber int
	Score      float64
}

// LatencyBreakdown reports per-stage durations for one query.
type LatencyBreakdown struct {
	Retrieval  time.Duration
	Generation time.Duration
	Polish     time.Duration
	Total      time.Duration
}

// QueryResult is the query result shape from spec §6.
type QueryResult struct {
	Chunks          []store.Chunk
	Citations       []Citation
	Scores          []index.Result
	Latency         LatencyBreakdown
	GeneratedAnswer string
}

// buildCitations joins ranked results back to their persisted chunks,
// preserving rank. A result whose chunk id is no longer present among
// chunks signals consistency drift (a stale lexical snapshot entry); such
// results are dropped from the output and reported via the bool return.
func buildCitations(results []index.Result, chunks []store.Chunk, getDocName func(string) string) ([]Citation, []store.Chunk, bool) {
	chunkByID := make(map[string]store.Chunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}

	citations := make([]Citation, 0, len(results))
	matchedChunks := make([]store.Chunk, 0, len(results))
	var drift bool
	for i, r := range results {
		c, ok := chunkByID[r.ChunkID]
		if !ok {
			drift = true
			continue
		}
		citations = append(citations, Citation{
			Rank: i, ChunkID: c.ID, DocID: c.DocID, DocName: getDocName(c.DocID),
			PageNumber: c.PageNumber, Score: r.Score,
		})
		matchedChunks = append(matchedChunks, c)
	}
	return citations, matchedChunks, drift
}

// Query resolves a retriever, retrieves, optionally generates and polishes
// an answer, and records latency/events, per spec §4.7. Stages run strictly
// in order; no stage observes a later stage's state.
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	o.ioMu.RLock()
	defer o.ioMu.RUnlock()

	start := time.Now()
	queryID := uuid.New().String()
	o.events.Append(telemetry.Event{ID: queryID, Timestamp: start, Type: telemetry.EventQueryStart,
		Data: map[string]interface{}{"text": req.Text}})

	mode := req.Mode
	if mode == "" {
		mode = o.cfg.Retrieval.Strategy
	}
	retriever, err := o.retrievers.Get(mode)
	if err != nil {
		return QueryResult{}, ProgrammerError("query", fmt.Sprintf("unknown retrieval mode %q", mode), err)
	}

	if retriever.ID() == retrieve.IDLexical || retriever.ID() == retrieve.IDHybrid {
		if _, err := o.ensureLexical(); err != nil {
			return QueryResult{}, err
		}
	}

	var chunks []store.Chunk
	if err := retryOnce(func() error {
		var err error
		chunks, err = o.st.ListChunks()
		return err
	}); err != nil {
		return QueryResult{}, TransientError("query", "listing chunks", err)
	}

	topK := req.TopK
	if topK == 0 {
		topK = o.cfg.Retrieval.TopK
	}
	alpha := o.cfg.Retrieval.Alpha
	if req.HasAlpha {
		alpha = req.Alpha
	}
	retrievalCfg := config.RetrievalConfig{Strategy: mode, TopK: topK, Alpha: alpha}

	retrievalStart := time.Now()
	var results []index.Result
	if err := retryOnce(func() error {
		var err error
		results, err = retriever.Retrieve(ctx, req.Text, chunks, retrievalCfg)
		return err
	}); err != nil {
		return QueryResult{}, TransientError("query", "retrieving", err)
	}
	retrievalDuration := time.Since(retrievalStart)
	o.events.Append(telemetry.Event{ID: queryID, Timestamp: time.Now(), Type: telemetry.EventRetrievalComplete,
		Duration: retrievalDuration, Data: map[string]interface{}{"count": len(results)}})

	docNameCache := make(map[string]string)
	getDocName := func(docID string) string {
		if name, ok := docNameCache[docID]; ok {
			return name
		}
		if d, ok, err := o.st.GetDoc(docID); err == nil && ok {
			docNameCache[docID] = d.Name
			return d.Name
		}
		return ""
	}

	citations, matchedChunks, drift := buildCitations(results, chunks, getDocName)
	if drift {
		// Consistency drift: the lexical snapshot references a chunk no
		// longer present in the store. Per spec §7.3, log, self-heal by
		// rebuilding the affected index, then retry the query once rather
		// than silently dropping the stale citations.
		driftErr := ConsistencyError("query", "lexical snapshot references a chunk no longer in the store", nil)
		o.log.Warn("consistency drift detected, rebuilding lexical index and retrying", "queryId", queryID, "error", driftErr)
		o.events.Append(telemetry.Event{ID: queryID, Timestamp: time.Now(), Type: telemetry.EventError,
			Data: map[string]interface{}{"stage": "retrieval", "error": driftErr.Error()}})

		if err := o.rebuildLexical(); err != nil {
			return QueryResult{}, err
		}
		chunks, err = o.st.ListChunks()
		if err != nil {
			return QueryResult{}, TransientError("query", "listing chunks after self-heal", err)
		}
		results, err = retriever.Retrieve(ctx, req.Text, chunks, retrievalCfg)
		if err != nil {
			return QueryResult{}, TransientError("query", "retrying retrieval after self-heal", err)
		}
		citations, matchedChunks, _ = buildCitations(results, chunks, getDocName)
	}
	o.events.Append(telemetry.Event{ID: queryID, Timestamp: time.Now(), Type: telemetry.EventContextBuilt,
		Data: map[string]interface{}{"citations": len(citations)}})

	var generationDuration, polishDuration time.Duration
	var answer string
	if req.ChatMode == "chat" && len(citations) > 0 {
		top := matchedChunks
		if len(top) > 5 {
			top = top[:5]
		}
		genChunks := make([]external.GenerationChunk, len(top))
		for i, c := range top {
			genChunks[i] = external.GenerationChunk{Text: c.Text, DocName: getDocName(c.DocID), PageNum: c.PageNumber}
		}

		generator, err := o.generators.Get(o.cfg.Generation.Strategy)
		if err != nil {
			return QueryResult{}, ProgrammerError("query", fmt.Sprintf("unknown generation strategy %q", o.cfg.Generation.Strategy), err)
		}
		genStart := time.Now()
		var result external.GenerationResult
		genErr := retryOnce(func() error {
			var err error
			result, err = generator.Generate(ctx, req.Text, genChunks)
			return err
		})
		generationDuration = time.Since(genStart)
		if genErr != nil {
			// Per spec §7's propagation policy, a generation failure in a
			// chat query must still return the retrieval result with
			// generatedAnswer omitted, not a fatal empty result — the
			// citations already computed above are preserved on the
			// QueryResult built after this block.
			o.log.Warn("generation failed, returning retrieval result without a generated answer", "error", genErr)
			o.events.Append(telemetry.Event{ID: queryID, Timestamp: time.Now(), Type: telemetry.EventError,
				Data: map[string]interface{}{"stage": "generation", "error": genErr.Error()}})
		} else {
			answer = result.Answer
			o.events.Append(telemetry.Event{ID: queryID, Timestamp: time.Now(), Type: telemetry.EventGenerationComplete,
				Duration: generationDuration})

			if req.Polish && answer != "" {
				polishStart := time.Now()
				for _, id := range o.cfg.PostProcess {
					pp, err := o.postProcessors.Get(id)
					if err != nil {
						continue // unknown post-processor id: skip rather than fail the whole query
					}
					polished, err := pp.Process(ctx, answer, req.Text, genChunks)
					if err != nil {
						o.log.Warn("post-processor failed, keeping prior answer", "id", id, "error", err)
						o.events.Append(telemetry.Event{ID: queryID, Timestamp: time.Now(), Type: telemetry.EventError,
							Data: map[string]interface{}{"stage": "polish", "id": id, "error": err.Error()}})
						break // short-circuit on error, preserving the prior answer, per spec §4.7
					}
					answer = polished
				}
				polishDuration = time.Since(polishStart)
				o.events.Append(telemetry.Event{ID: queryID, Timestamp: time.Now(), Type: telemetry.EventPolishComplete,
					Duration: polishDuration})
			}
		}
	}

	total := time.Since(start)
	o.latency.Record(total)
	o.events.Append(telemetry.Event{ID: queryID, Timestamp: time.Now(), Type: telemetry.EventQueryComplete,
		Duration: total})

	return QueryResult{
		Chunks:    matchedChunks,
		Citations: citations,
		Scores:    results,
		Latency: LatencyBreakdown{
			Retrieval:  retrievalDuration,
			Generation: generationDuration,
			Polish:     polishDuration,
			Total:      total,
		},
		GeneratedAnswer: answer,
	}, nil
}

// Reset deletes every persisted doc, chunk, vector and blob, and replaces the
// lexical snapshot with an empty one, returning the store to its empty-corpus
// state.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.ioMu.Lock()
	defer o.ioMu.Unlock()
	if err := ctx.Err(); err != nil {
		return CancelError("reset")
	}

	docs, err := o.st.ListDocs()
	if err != nil {
		return TransientError("reset", "listing docs", err)
	}
	for _, d := range docs {
		if err := retryOnce(func() error { return o.st.DeleteDoc(d.ID) }); err != nil {
			return TransientError("reset", fmt.Sprintf("deleting doc %s", d.ID), err)
		}
	}
	if err := retryOnce(func() error { return o.st.PutLexicalSnapshot(index.BuildLexical(nil)) }); err != nil {
		return TransientError("reset", "clearing lexical snapshot", err)
	}
	o.lexicalMu.Lock()
	o.lexical = nil
	o.lexicalMu.Unlock()
	return nil
}
