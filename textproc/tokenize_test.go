package textproc_test

import (
	"testing"

	"github.com/arborq/ragcore/textproc"
	"github.com/stretchr/testify/assert"
)

func TestTokenize_LowercasesAndDropsStopWords(t *testing.T) {
	// Given mixed-case text containing several stop-words
	text := "The Quick Brown Fox jumps over the Lazy Dog"

	// When it is tokenized
	tokens := textproc.Tokenize(text)

	// Then stop-words are dropped and the rest is lowercased
	assert.Equal(t, []string{"quick", "brown", "fox", "jumps", "over", "lazy", "dog"}, tokens)
}

func TestTokenize_NonAlphanumericBecomesSpace(t *testing.T) {
	// Given punctuation-heavy text
	text := "hello, world! it's 2024-2025."

	// When it is tokenized
	tokens := textproc.Tokenize(text)

	// Then punctuation splits tokens rather than joining them
	assert.Equal(t, []string{"hello", "world", "s", "2024", "2025"}, tokens)
}

func TestTokenize_Idempotence(t *testing.T) {
	// Given arbitrary text
	text := "Machine Learning algorithms process data, efficiently!"

	// When tokenized twice, rejoining with spaces between
	once := textproc.Tokenize(text)
	joined := ""
	for i, tok := range once {
		if i > 0 {
			joined += " "
		}
		joined += tok
	}
	twice := textproc.Tokenize(joined)

	// Then the result is stable (tokenization idempotence law, spec §8)
	assert.Equal(t, once, twice)
}

func TestTokenize_OnlyStopWordsYieldsEmpty(t *testing.T) {
	// Given text made entirely of stop-words
	text := "the a an and"

	// When tokenized
	tokens := textproc.Tokenize(text)

	// Then no tokens survive
	assert.Empty(t, tokens)
}
