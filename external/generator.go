package external

import (
	"context"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"

	"github.com/arborq/ragcore/compose"
)

// GenerationChunk is the minimal view a Generator needs from a retrieved
// chunk.
type GenerationChunk struct {
	Text     string
	DocName  string
	PageNum  int
}

// GenerationResult is the output of a Generator.
type GenerationResult struct {
	Answer   string
	Metadata map[string]interface{}
}

// Generator is the external generative/polish model contract, per spec §6.
// It MUST return within the orchestrator's deadline or fail, and MUST NOT
// silently drop citations — the orchestrator owns citation attachment, not
// the generator.
type Generator interface {
	ID() string
	Initialize(cfg map[string]string) error
	Generate(ctx context.Context, question string, chunks []GenerationChunk) (GenerationResult, error)
}

// PostProcessor optionally rewrites a generated answer, e.g. "polish". A
// failure here MUST fall back to the pre-post-processing answer; the
// orchestrator enforces that fallback, not the post-processor.
type PostProcessor interface {
	ID() string
	Process(ctx context.Context, answer, question string, chunks []GenerationChunk) (string, error)
}

// ExtractiveGenerator is the core's own default Generator: no network
// calls, delegates to the extractive composer (C9). It is always available
// so `chat` mode degrades gracefully when no external rewriter is chosen.
type ExtractiveGenerator struct {
	MaxTokens int
}

func (ExtractiveGenerator) ID() string { return "extractive" }

func (e *ExtractiveGenerator) Initialize(map[string]string) error { return nil }

func (e *ExtractiveGenerator) Generate(_ context.Context, question string, chunks []GenerationChunk) (GenerationResult, error) {
	composeChunks := make([]compose.Chunk, len(chunks))
	for i, c := range chunks {
		composeChunks[i] = compose.Chunk{Text: c.Text}
	}
	maxTokens := e.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	answer, meta := compose.Compose(question, composeChunks, maxTokens)
	return GenerationResult{
		Answer: answer,
		Metadata: map[string]interface{}{
			"modelId":       meta.ModelID,
			"chunksUsed":    meta.ChunksUsed,
			"contextLength": meta.ContextLength,
		},
	}, nil
}

// GollmGenerator is an LLM-backed Generator using
// github.com/teilomillet/gollm, adapted from the teacher's simple_rag.go
// direct usage of gollm.NewLLM/Generate.
type GollmGenerator struct {
	llm   gollm.LLM
	model string
}

// NewGollmGenerator constructs a generator for the named chat model; call
// Initialize before use.
func NewGollmGenerator(model string) *GollmGenerator {
	return &GollmGenerator{model: model}
}

func (GollmGenerator) ID() string { return "gollm" }

// LLM returns the underlying client once Initialize has run, so a caller
// can share it with PolishPostProcessor instead of paying for a second
// client and a second credential check.
func (g *GollmGenerator) LLM() gollm.LLM { return g.llm }

func (g *GollmGenerator) Initialize(cfg map[string]string) error {
	apiKey := cfg["apiKey"]
	if apiKey == "" {
		return fmt.Errorf("external: gollm generator requires an apiKey")
	}
	model := g.model
	if m := cfg["model"]; m != "" {
		model = m
	}
	llm, err := gollm.NewLLM(
		gollm.SetProvider("openai"),
		gollm.SetModel(model),
		gollm.SetAPIKey(apiKey),
	)
	if err != nil {
		return fmt.Errorf("external: initializing gollm: %w", err)
	}
	g.llm = llm
	return nil
}

func (g *GollmGenerator) Generate(ctx context.Context, question string, chunks []GenerationChunk) (GenerationResult, error) {
	if g.llm == nil {
		return GenerationResult{}, fmt.Errorf("external: gollm generator not initialized")
	}

	var contexts []string
	for _, c := range chunks {
		contexts = append(contexts, c.Text)
	}
	prompt := fmt.Sprintf(`Here are some relevant sections from the corpus:

%s

Based on this information, please answer the following question: %s

If the information isn't found in the provided context, please say so clearly.`,
		strings.Join(contexts, "\n\n---\n\n"), question)

	resp, err := g.llm.Generate(ctx, gollm.NewPrompt(prompt))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("external: gollm generation: %w", err)
	}
	return GenerationResult{
		Answer:   resp,
		Metadata: map[string]interface{}{"modelId": g.model},
	}, nil
}

// PolishPostProcessor rewrites an answer for tone/clarity through the same
// gollm backend as GollmGenerator.
type PolishPostProcessor struct {
	llm gollm.LLM
}

// NewPolishPostProcessor wraps an already-initialized gollm.LLM so the
// generator and the polish step can share one client.
func NewPolishPostProcessor(llm gollm.LLM) *PolishPostProcessor {
	return &PolishPostProcessor{llm: llm}
}

func (PolishPostProcessor) ID() string { return "polish" }

func (p *PolishPostProcessor) Process(ctx context.Context, answer, question string, _ []GenerationChunk) (string, error) {
	if p.llm == nil {
		return answer, fmt.Errorf("external: polish post-processor not initialized")
	}
	prompt := fmt.Sprintf("Polish the following answer to the question %q for clarity and tone, without adding new facts:\n\n%s", question, answer)
	polished, err := p.llm.Generate(ctx, gollm.NewPrompt(prompt))
	if err != nil {
		return answer, fmt.Errorf("external: polish: %w", err)
	}
	return polished, nil
}
