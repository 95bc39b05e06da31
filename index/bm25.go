// Package index implements the two rankers (C4 lexical, C5 vector) and
// their score-fusion (C6).
package index

import (
	"math"
	"sort"

	"github.com/arborq/ragcore/store"
	"github.com/arborq/ragcore/textproc"
)

// bm25K1 and bm25B are the fixed constants from spec §4.3.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Lexical is a BM25 ranker built atomically from a whole-corpus snapshot.
// Unlike the teacher's incremental Add/Remove index, the orchestrator
// rebuilds this from scratch on every ingest (spec §4.7's "rebuild-on-every-
// ingest" rule), so Lexical only needs to Build once and Search many times.
type Lexical struct {
	snapshot store.LexicalSnapshot
	N        int
}

// BuildLexical tokenizes every chunk and accumulates the BM25 statistics
// defined in spec §4.3: per-chunk tf, global df, and avgDocLength.
func BuildLexical(chunks []store.Chunk) store.LexicalSnapshot {
	tf := make(map[string]map[string]int, len(chunks))
	df := make(map[string]int)
	chunkIDs := make([]string, 0, len(chunks))
	var totalLength int

	for _, c := range chunks {
		tokens := textproc.Tokenize(c.Text)
		counts := make(map[string]int, len(tokens))
		for _, t := range tokens {
			counts[t]++
		}
		tf[c.ID] = counts
		chunkIDs = append(chunkIDs, c.ID)
		for term := range counts {
			df[term]++
		}
		for _, n := range counts {
			totalLength += n
		}
	}

	var avg float64
	if len(chunks) > 0 {
		avg = float64(totalLength) / float64(len(chunks))
	}

	return store.LexicalSnapshot{
		DF:           df,
		TF:           tf,
		ChunkIDs:     chunkIDs,
		AvgDocLength: avg,
	}
}

// NewLexical wraps a persisted snapshot for search.
func NewLexical(snap store.LexicalSnapshot) *Lexical {
	return &Lexical{snapshot: snap, N: len(snap.ChunkIDs)}
}

// Result is a single (chunk id, score) ranking output common to both
// rankers.
type Result struct {
	ChunkID string
	Score   float64
}

// Search scores every chunk in the snapshot against the query, drops zero
// scores, sorts descending (ties broken by snapshot order), and returns the
// top K. Implementations MAY use inverted postings internally; this one
// scans query terms against every chunk's tf map as the BM25 formula
// defines, since the snapshot is already a small in-memory object.
func (l *Lexical) Search(query string, topK int) []Result {
	if l.N == 0 {
		return nil
	}
	queryTokens := textproc.Tokenize(query)

	scores := make(map[string]float64)
	for _, term := range queryTokens {
		df := l.snapshot.DF[term]
		if df == 0 {
			continue
		}
		idf := math.Log((float64(l.N)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for _, chunkID := range l.snapshot.ChunkIDs {
			tf := l.snapshot.TF[chunkID][term]
			if tf == 0 {
				continue
			}
			lc := chunkLength(l.snapshot.TF[chunkID])
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*lc/l.snapshot.AvgDocLength)
			scores[chunkID] += idf * float64(tf) * (bm25K1 + 1) / denom
		}
	}

	return topResults(l.snapshot.ChunkIDs, scores, topK)
}

// chunkLength is L_c = Σ tf_c(t), per spec §9's resolved open question: a
// distinct-token-weighted sum, not the raw token count.
func chunkLength(tf map[string]int) float64 {
	var sum int
	for _, n := range tf {
		sum += n
	}
	return float64(sum)
}

// topResults sorts nonzero scores descending, tie-breaking by the chunk's
// position in order (earlier wins), then truncates to topK.
func topResults(order []string, scores map[string]float64, topK int) []Result {
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}

	out := make([]Result, 0, len(scores))
	for id, score := range scores {
		if score == 0 {
			continue
		}
		out = append(out, Result{ChunkID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return rank[out[i].ChunkID] < rank[out[j].ChunkID]
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
