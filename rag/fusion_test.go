package rag

import (
	"math"
	"testing"
)

func TestFuseSingleSourceKeepsWeightedScore(t *testing.T) {
	dense := []DenseHit{
		{Passage: Passage{Content: "о компании"}, Distance: 0.2}, // similarity 0.9
	}
	sparse := []SparseHit{
		{Passage: Passage{Content: "о вакансиях"}, Score: 4.0}, // normalized 1.0
	}

	fused := fuse(dense, sparse, 10, 0.6, 0.4)
	if len(fused) != 2 {
		t.Fatalf("fused = %d results, want 2", len(fused))
	}

	byContent := make(map[string]ScoredPassage)
	for _, sp := range fused {
		byContent[sp.Passage.Content] = sp
	}

	d := byContent["о компании"]
	if d.Origin != OriginDense {
		t.Errorf("dense-only origin = %s, want %s", d.Origin, OriginDense)
	}
	if math.Abs(d.Score-0.9*0.6) > 1e-9 {
		t.Errorf("dense-only score = %f, want %f", d.Score, 0.9*0.6)
	}

	s := byContent["о вакансиях"]
	if s.Origin != OriginSparse {
		t.Errorf("sparse-only origin = %s, want %s", s.Origin, OriginSparse)
	}
	if math.Abs(s.Score-0.4) > 1e-9 {
		t.Errorf("sparse-only score = %f, want 0.4", s.Score)
	}
}

func TestFuseAgreementSumsWeightedScores(t *testing.T) {
	shared := Passage{Content: "офис компании в Москве"}
	dense := []DenseHit{
		{Passage: shared, Distance: 0.0}, // similarity 1.0
	}
	sparse := []SparseHit{
		{Passage: Passage{Content: "Офис  Компании в  Москве"}, Score: 2.0}, // same fingerprint, normalized 1.0
	}

	fused := fuse(dense, sparse, 10, 0.6, 0.4)
	if len(fused) != 1 {
		t.Fatalf("fused = %d results, want 1 after fingerprint merge", len(fused))
	}
	if fused[0].Origin != OriginBoth {
		t.Errorf("origin = %s, want %s", fused[0].Origin, OriginBoth)
	}
	if math.Abs(fused[0].Score-1.0) > 1e-9 {
		t.Errorf("score = %f, want 1.0 (0.6 + 0.4)", fused[0].Score)
	}
}

func TestFuseNoDuplicateFingerprints(t *testing.T) {
	dense := []DenseHit{
		{Passage: Passage{Content: "про услуги"}, Distance: 0.4},
		{Passage: Passage{Content: "Про  услуги"}, Distance: 0.1}, // dense duplicate, better
	}
	sparse := []SparseHit{
		{Passage: Passage{Content: "про услуги"}, Score: 3.0},
		{Passage: Passage{Content: "про клиентов"}, Score: 1.0},
	}

	fused := fuse(dense, sparse, 10, 0.6, 0.4)
	seen := make(map[string]bool)
	for _, sp := range fused {
		fp := sp.Passage.Fingerprint()
		if seen[fp] {
			t.Fatalf("duplicate fingerprint %s in fused results", fp)
		}
		seen[fp] = true
	}

	// The in-batch dense duplicate keeps the better similarity (0.95*0.6)
	// and then gains the full sparse contribution (1.0*0.4).
	want := 0.95*0.6 + 0.4
	if math.Abs(fused[0].Score-want) > 1e-9 {
		t.Errorf("merged score = %f, want %f", fused[0].Score, want)
	}
	if fused[0].Origin != OriginBoth {
		t.Errorf("merged origin = %s, want %s", fused[0].Origin, OriginBoth)
	}
}

func TestFuseSortedAndTruncated(t *testing.T) {
	var dense []DenseHit
	for _, d := range []struct {
		content  string
		distance float64
	}{
		{"первый", 0.1},
		{"второй", 0.5},
		{"третий", 0.9},
		{"четвертый", 1.3},
	} {
		dense = append(dense, DenseHit{Passage: Passage{Content: d.content}, Distance: d.distance})
	}

	fused := fuse(dense, nil, 2, 0.6, 0.4)
	if len(fused) != 2 {
		t.Fatalf("fused = %d results, want 2", len(fused))
	}
	if fused[0].Passage.Content != "первый" || fused[1].Passage.Content != "второй" {
		t.Errorf("ranking wrong: got %q then %q", fused[0].Passage.Content, fused[1].Passage.Content)
	}
	if fused[0].Score < fused[1].Score {
		t.Error("results not sorted descending")
	}
}

func TestFuseEmptyInputs(t *testing.T) {
	if got := fuse(nil, nil, 5, 0.6, 0.4); len(got) != 0 {
		t.Errorf("fuse(nil, nil) = %v, want empty", got)
	}
	if got := fuse([]DenseHit{{Passage: Passage{Content: "x"}, Distance: 0.1}}, nil, 0, 0.6, 0.4); got != nil {
		t.Errorf("k=0 should yield nil, got %v", got)
	}
}
