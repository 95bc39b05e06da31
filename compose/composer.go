// Package compose implements the extractive answer composer (C9), the
// default generator used whenever no external rewriter is configured.
package compose

import (
	"regexp"
	"strings"
)

// Chunk is the minimal view the composer needs from a retrieved chunk.
type Chunk struct {
	Text string
}

// Metadata describes how an answer was produced.
type Metadata struct {
	ModelID      string
	ChunksUsed   int
	ContextLength int
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

const (
	maxChunksConsidered  = 3
	maxSentencesPerChunk = 2
	minSentenceLength    = 20
	charsPerToken        = 4
)

// Compose builds an extractive answer from the top chunks, per spec §4.8.
// The question is accepted for interface symmetry with external.Generator
// but is not used for extraction. The composer never invents tokens not
// present in its inputs.
func Compose(question string, chunks []Chunk, maxTokens int) (string, Metadata) {
	_ = question

	considered := chunks
	if len(considered) > maxChunksConsidered {
		considered = considered[:maxChunksConsidered]
	}

	var kept []string
	for _, c := range considered {
		sentences := sentenceSplit.Split(c.Text, -1)
		taken := 0
		for _, s := range sentences {
			trimmed := strings.TrimSpace(s)
			if len(trimmed) <= minSentenceLength {
				continue
			}
			kept = append(kept, trimmed)
			taken++
			if taken >= maxSentencesPerChunk {
				break
			}
		}
	}

	answer := strings.Join(kept, ". ")
	if maxTokens > 0 {
		budget := maxTokens * charsPerToken
		if len(answer) > budget {
			answer = answer[:budget]
		}
	}
	if answer != "" && !strings.HasSuffix(answer, ".") {
		answer += "."
	}

	return answer, Metadata{
		ModelID:       "simple-extractive",
		ChunksUsed:    len(considered),
		ContextLength: len(answer),
	}
}
