package rag

import "sort"

// fusedEntry accumulates per-fingerprint contributions in dense-first
// insertion order, which keeps ties stable.
type fusedEntry struct {
	passage Passage
	score   float64
	origin  Origin
}

// fuse merges dense and sparse result sets into one ranked, deduplicated
// list of at most k passages.
//
// Canonical fusion law: dense distances are converted to similarity in
// [0,1]; sparse scores are normalized by the maximum score present in the
// sparse batch (batch-relative, not globally comparable). A passage found by
// a single strategy keeps that strategy's weighted score; a passage found by
// both gets the sum of both weighted contributions, rewarding agreement
// between strategies.
func fuse(dense []DenseHit, sparse []SparseHit, k int, denseWeight, sparseWeight float64) []ScoredPassage {
	if k <= 0 {
		return nil
	}

	entries := make([]*fusedEntry, 0, len(dense)+len(sparse))
	byFingerprint := make(map[string]*fusedEntry, len(dense)+len(sparse))

	for _, hit := range dense {
		fp := hit.Passage.Fingerprint()
		similarity := similarityFromDistance(hit.Distance)
		if existing, ok := byFingerprint[fp]; ok {
			// Duplicate within the dense batch: keep the better score.
			if w := similarity * denseWeight; w > existing.score {
				existing.score = w
			}
			continue
		}
		entry := &fusedEntry{
			passage: hit.Passage,
			score:   similarity * denseWeight,
			origin:  OriginDense,
		}
		byFingerprint[fp] = entry
		entries = append(entries, entry)
	}

	var maxSparse float64
	for _, hit := range sparse {
		if hit.Score > maxSparse {
			maxSparse = hit.Score
		}
	}

	for _, hit := range sparse {
		var normalized float64
		if maxSparse > 0 {
			normalized = hit.Score / maxSparse
		}
		weighted := normalized * sparseWeight

		fp := hit.Passage.Fingerprint()
		if existing, ok := byFingerprint[fp]; ok {
			if existing.origin == OriginDense {
				existing.score += weighted
				existing.origin = OriginBoth
			}
			continue
		}
		entry := &fusedEntry{
			passage: hit.Passage,
			score:   weighted,
			origin:  OriginSparse,
		}
		byFingerprint[fp] = entry
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	if len(entries) > k {
		entries = entries[:k]
	}

	fused := make([]ScoredPassage, len(entries))
	for i, entry := range entries {
		fused[i] = ScoredPassage{
			Passage: entry.passage,
			Score:   entry.score,
			Origin:  entry.origin,
		}
	}
	return fused
}
