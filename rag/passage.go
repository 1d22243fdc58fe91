package rag

import "context"

// Passage is one indexed chunk of corpus text. Immutable once indexed.
type Passage struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Fingerprint returns the content dedup key for this passage.
func (p Passage) Fingerprint() string {
	return Fingerprint(p.Content)
}

// Origin names which retrieval strategy produced a scored passage.
type Origin string

const (
	OriginDense  Origin = "dense"
	OriginSparse Origin = "sparse"
	OriginBoth   Origin = "both"
)

// ScoredPassage is a retrieval or fusion result. Never persisted.
type ScoredPassage struct {
	Passage Passage
	Score   float64
	Origin  Origin
}

// DenseHit is a raw vector-index result. Distance is a non-negative
// dissimilarity in [0,2] for cosine space.
type DenseHit struct {
	Passage  Passage
	Distance float64
}

// SparseHit is a raw lexical-index result with an unnormalized BM25 score.
type SparseHit struct {
	Passage Passage
	Score   float64
}

// GenerationProvider is the external text-generation capability. On provider
// failure implementations return an error; callers degrade to a synthetic
// answer rather than propagating it to the user.
type GenerationProvider interface {
	Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// similarityFromDistance converts a cosine distance in [0,2] to a
// similarity in [0,1].
func similarityFromDistance(distance float64) float64 {
	sim := 1 - distance/2
	if sim < 0 {
		return 0
	}
	return sim
}
