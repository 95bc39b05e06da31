// Package textproc implements the deterministic text-processing stages of
// ingestion and query: the tokenizer (C1) and the chunker (C2).
package textproc

import "strings"

// stopWords is the fixed ~24-word English stop-word set from spec §4.1.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "will": {}, "with": {},
}

func isAlphaNumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Tokenize lowercases the input, replaces any rune outside [A-Za-z0-9] with
// a space, splits on whitespace, drops empty tokens, and drops stop-words.
// It is a pure function, identical at index and query time: non-ASCII
// letters are treated as non-alphanumeric by this contract.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if isAlphaNumeric(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
