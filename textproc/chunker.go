package textproc

import (
	"fmt"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Page is the transient value object produced by the external page
// extractor. It is never persisted once chunking is complete.
type Page struct {
	DocID      string
	PageNumber int
	Text       string
}

// Chunk is an addressable substring of a page. Ids are stable across a
// byte-identical re-ingest under the same config, except that the docId
// itself changes on re-ingest (it carries a fresh uuid per ingest), so a
// chunk id is never reused across two ingests of "the same" document.
type Chunk struct {
	ID          string
	DocID       string
	PageNumber  int
	Text        string
	StartOffset int
	EndOffset   int
	TokenCount  int
}

// Config holds the chunker's window parameters, per spec §4.2.
type Config struct {
	ChunkSize      int // chars, [100, 1000]
	OverlapPercent int // [0, 30]
}

// TokenCounter estimates the token count of a chunk's text. The default
// implementation is the char/4 estimate mandated by spec §4.2, and it is the
// one ChunkPages always uses; TikTokenCounter is an exact alternative that no
// caller in this module wires in.
type TokenCounter interface {
	Count(text string) int
}

// DefaultTokenCounter implements the ceil(|text|/4) estimate from spec §4.2.
type DefaultTokenCounter struct{}

func (DefaultTokenCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// TikTokenCounter wraps github.com/pkoukk/tiktoken-go for an exact token
// count against a named encoding. The chunker's own TokenCount field always
// uses the spec-mandated estimate instead.
type TikTokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTikTokenCounter loads the named encoding (e.g. "cl100k_base").
func NewTikTokenCounter(encoding string) (*TikTokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("textproc: loading tiktoken encoding %q: %w", encoding, err)
	}
	return &TikTokenCounter{enc: enc}, nil
}

func (t *TikTokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// boundaryWindow is the number of trailing characters of a candidate window
// searched for a cut boundary, per spec §4.2.
const boundaryWindow = 100

// ChunkPages turns an ordered sequence of pages into overlapping, sentence-aware
// chunks. Chunk ordinal is a single counter across every page of one ingest
// call, matching spec §4.2's "global counter" requirement.
func ChunkPages(pages []Page, cfg Config) ([]Chunk, error) {
	if cfg.ChunkSize < 100 || cfg.ChunkSize > 1000 {
		return nil, fmt.Errorf("textproc: chunkSize %d out of range [100,1000]", cfg.ChunkSize)
	}
	if cfg.OverlapPercent < 0 || cfg.OverlapPercent > 30 {
		return nil, fmt.Errorf("textproc: overlapPercent %d out of range [0,30]", cfg.OverlapPercent)
	}

	overlapSize := cfg.ChunkSize * cfg.OverlapPercent / 100
	var out []Chunk
	ordinal := 0

	for _, page := range pages {
		if page.Text == "" {
			continue
		}
		counter := DefaultTokenCounter{}
		for pos := 0; pos < len(page.Text); {
			windowEnd := pos + cfg.ChunkSize
			if windowEnd > len(page.Text) {
				windowEnd = len(page.Text)
			}

			cut := boundaryCut(page.Text, pos, windowEnd)

			text := strings.TrimSpace(page.Text[pos:cut])
			if text != "" {
				out = append(out, Chunk{
					ID:          fmt.Sprintf("%s-chunk-%d", page.DocID, ordinal),
					DocID:       page.DocID,
					PageNumber:  page.PageNumber,
					Text:        text,
					StartOffset: pos,
					EndOffset:   cut,
					TokenCount:  counter.Count(text),
				})
				ordinal++
			}

			next := cut - overlapSize
			if next <= pos {
				next = cut
			}
			pos = next

			if cut >= len(page.Text) {
				break
			}
		}
	}
	return out, nil
}

// boundaryCut computes the boundary-adjusted end of the window [pos, end)
// by the first rule that fires, searching only within the last
// boundaryWindow characters of the window, per spec §4.2.
func boundaryCut(text string, pos, end int) int {
	searchStart := end - boundaryWindow
	if searchStart < pos {
		searchStart = pos
	}
	window := text[searchStart:end]

	// Rule 1: last occurrence of [.!?] followed by whitespace. Punctuation
	// that ends the whole text counts as followed by whitespace.
	if end == len(text) && end > searchStart {
		if c := text[end-1]; c == '.' || c == '!' || c == '?' {
			return end
		}
	}
	if idx := lastSentencePunct(window); idx >= 0 {
		return searchStart + idx
	}
	// Rule 2: last occurrence of a paragraph break "\n\n".
	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return searchStart + idx + 2
	}
	// Rule 3: last whitespace.
	if idx := lastWhitespace(window); idx >= 0 {
		return searchStart + idx + 1
	}
	// Rule 4: raw window end.
	return end
}

// lastSentencePunct returns the index immediately after the last
// [.!?] that is followed by whitespace within s, or -1.
func lastSentencePunct(s string) int {
	for i := len(s) - 2; i >= 0; i-- {
		c := s[i]
		if (c == '.' || c == '!' || c == '?') && isSpace(s[i+1]) {
			return i + 1
		}
	}
	// Punctuation that is the last byte of s has no following character
	// here and does not match; boundaryCut handles the end-of-text case.
	return -1
}

func lastWhitespace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if isSpace(s[i]) {
			return i
		}
	}
	return -1
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
