package rag

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// BM25 Okapi parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

var titlePrefixRe = regexp.MustCompile(`^\[([^\]]+)\]\s*(.*)`)

// preprocess applies the pinned lexical pipeline, identically to indexed
// passages and queries: lower-case, merge a bracketed title prefix into the
// token stream, strip punctuation except interior hyphens, tokenize on
// whitespace, drop stop-words and tokens of length <= 2 or containing
// non-letter runes.
func preprocess(text string) []string {
	text = strings.ToLower(text)

	if m := titlePrefixRe.FindStringSubmatch(text); m != nil {
		text = m[1] + " " + m[2]
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		tok = strings.Trim(tok, "-")
		if len([]rune(tok)) <= 2 || stopwords[tok] || !isAlphabetic(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// isAlphabetic reports whether the token is made of letters only, allowing
// interior hyphens for compound words.
func isAlphabetic(tok string) bool {
	for i, r := range tok {
		if r == '-' && i > 0 {
			continue
		}
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

type posting struct {
	doc  int
	freq int
}

// sparseIndex is an immutable BM25 index over the fingerprint-deduplicated
// passage set. Rebuilds construct a fresh index and swap it in atomically;
// a built index is never mutated.
type sparseIndex struct {
	passages  []Passage
	docLens   []int
	avgDocLen float64
	postings  map[string][]posting
}

// buildSparseIndex tokenizes and indexes the given passages, skipping
// fingerprint duplicates.
func buildSparseIndex(passages []Passage, logger *zap.Logger) *sparseIndex {
	idx := &sparseIndex{
		postings: make(map[string][]posting),
	}

	seen := make(map[string]bool)
	for _, p := range passages {
		fp := p.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true

		tokens := preprocess(p.Content)
		doc := len(idx.passages)
		idx.passages = append(idx.passages, p)
		idx.docLens = append(idx.docLens, len(tokens))

		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		for tok, f := range freqs {
			idx.postings[tok] = append(idx.postings[tok], posting{doc: doc, freq: f})
		}
	}

	var total int
	for _, l := range idx.docLens {
		total += l
	}
	if len(idx.docLens) > 0 {
		idx.avgDocLen = float64(total) / float64(len(idx.docLens))
	}

	if logger != nil {
		logger.Info("Lexical index built",
			zap.Int("passages", len(idx.passages)),
			zap.Int("terms", len(idx.postings)))
	}
	return idx
}

// search scores every indexed passage against the query with BM25, sorts
// descending and returns the top k. Results are already unique by
// fingerprint since the index is deduplicated at build time, but the scan
// still guards against duplicates for safety.
func (idx *sparseIndex) search(query string, k int) []SparseHit {
	if idx == nil || len(idx.passages) == 0 || k <= 0 {
		return nil
	}

	queryTokens := preprocess(query)
	if len(queryTokens) == 0 {
		return nil
	}

	n := float64(len(idx.passages))
	scores := make([]float64, len(idx.passages))
	for _, tok := range queryTokens {
		plist, ok := idx.postings[tok]
		if !ok {
			continue
		}
		idf := idfOkapi(n, float64(len(plist)))
		for _, p := range plist {
			f := float64(p.freq)
			dl := float64(idx.docLens[p.doc])
			denom := f + bm25K1*(1-bm25B+bm25B*dl/idx.avgDocLen)
			scores[p.doc] += idf * f * (bm25K1 + 1) / denom
		}
	}

	order := make([]int, len(idx.passages))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	hits := make([]SparseHit, 0, k)
	seen := make(map[string]bool, k)
	for _, doc := range order {
		p := idx.passages[doc]
		fp := p.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		hits = append(hits, SparseHit{Passage: p, Score: scores[doc]})
		if len(hits) >= k {
			break
		}
	}
	return hits
}

// idfOkapi is the non-negative Okapi BM25 inverse document frequency.
func idfOkapi(n, df float64) float64 {
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}
