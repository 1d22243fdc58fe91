package rag

import (
	"context"

	"go.uber.org/zap"
)

const maxDenseOverfetch = 100

// denseSearch queries the vector index for the k nearest unique passages.
// The index is over-fetched by min(k*5, 100) candidates to compensate for
// near-duplicate chunks, then deduplicated by fingerprint preserving the
// index's similarity order. An unavailable or empty index degrades to an
// empty result; errors never cross this boundary.
func (e *Engine) denseSearch(ctx context.Context, query string, k int) []DenseHit {
	if k <= 0 {
		return nil
	}

	collection := e.vector.Load()
	if collection == nil {
		e.logger.Warn("Vector collection not available, skipping dense retrieval")
		return nil
	}

	total := collection.Count()
	if total == 0 {
		return nil
	}

	limit := k * 5
	if limit > maxDenseOverfetch {
		limit = maxDenseOverfetch
	}
	if limit > total {
		limit = total
	}

	results, err := collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		e.logger.Warn("Vector query failed, degrading to empty dense result",
			zap.Error(err),
			zap.Int("limit", limit))
		return nil
	}

	hits := make([]DenseHit, 0, k)
	seen := make(map[string]bool, k)
	for _, res := range results {
		passage := Passage{
			ID:       res.ID,
			Content:  res.Content,
			Metadata: res.Metadata,
		}
		fp := passage.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true

		// chromem reports cosine similarity in [-1,1]; the retrieval
		// contract speaks in distance = 1 - similarity, in [0,2].
		hits = append(hits, DenseHit{
			Passage:  passage,
			Distance: 1 - float64(res.Similarity),
		})
		if len(hits) >= k {
			break
		}
	}
	return hits
}
