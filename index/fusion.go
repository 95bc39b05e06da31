package index

import "sort"

// Normalize performs per-ranker min-max scaling to [0,1] over the *full*
// result set, per spec §4.5: normalizing only the top-K would destabilize
// fusion at the truncation boundary.
func Normalize(results []Result) map[string]float64 {
	out := make(map[string]float64, len(results))
	if len(results) == 0 {
		return out
	}

	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	if max == min {
		for _, r := range results {
			out[r.ChunkID] = 1.0
		}
		return out
	}
	for _, r := range results {
		out[r.ChunkID] = (r.Score - min) / (max - min)
	}
	return out
}

// Fuse convex-combines normalized semantic and lexical scores:
// final(c) = alpha*semantic(c) + (1-alpha)*lexical(c). A chunk present in
// only one ranker's output contributes 0 for the missing side. Ties break
// by lexical-normalized score, then by chunk id.
func Fuse(semantic, lexical []Result, alpha float64, topK int) []Result {
	normSemantic := Normalize(semantic)
	normLexical := Normalize(lexical)

	seen := make(map[string]struct{}, len(normSemantic)+len(normLexical))
	for id := range normSemantic {
		seen[id] = struct{}{}
	}
	for id := range normLexical {
		seen[id] = struct{}{}
	}

	out := make([]Result, 0, len(seen))
	for id := range seen {
		final := alpha*normSemantic[id] + (1-alpha)*normLexical[id]
		out = append(out, Result{ChunkID: id, Score: final})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		li, lj := normLexical[out[i].ChunkID], normLexical[out[j].ChunkID]
		if li != lj {
			return li > lj
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
