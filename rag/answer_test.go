package rag

import (
	"strings"
	"testing"

	"qa-agent/config"

	"go.uber.org/zap"
)

func TestKnowsAnswer(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{
			name:   "grounded_answer",
			answer: "Компания основана в 2005 году, офисы расположены в Москве и Саратове.",
			want:   true,
		},
		{
			name:   "exact_refusal",
			answer: noAnswerText,
			want:   false,
		},
		{
			name:   "refusal_phrase_embedded",
			answer: "К сожалению, НЕТ ИНФОРМАЦИИ об этом в предоставленных материалах.",
			want:   false,
		},
		{
			name:   "dont_know",
			answer: "Честно говоря, не знаю.",
			want:   false,
		},
		{
			name:   "could_not_find",
			answer: "Мне не удалось найти подходящих сведений.",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := knowsAnswer(tt.answer); got != tt.want {
				t.Errorf("knowsAnswer(%q) = %v, want %v", tt.answer, got, tt.want)
			}
		})
	}
}

func newAnswerEngine() *Engine {
	logger, _ := zap.NewDevelopment()
	return &Engine{
		cfg: &config.Config{
			CompanyName:          "Neoflex",
			SourceScoreThreshold: 0.3,
			MaxSources:           3,
		},
		logger: logger,
	}
}

func TestSelectSources(t *testing.T) {
	e := newAnswerEngine()

	chunks := []ScoredPassage{
		{Passage: Passage{Content: "первый документ", Metadata: map[string]string{"url": "https://a", "original_title": "Первый"}}, Score: 0.9},
		{Passage: Passage{Content: "второй документ", Metadata: map[string]string{"url": "https://b", "title": "Второй"}}, Score: 0.7},
		{Passage: Passage{Content: "ниже порога", Metadata: map[string]string{"url": "https://c"}}, Score: 0.2},
		{Passage: Passage{Content: "третий документ", Metadata: map[string]string{"url": "https://d"}}, Score: 0.5},
		{Passage: Passage{Content: "четвертый документ", Metadata: map[string]string{"url": "https://e"}}, Score: 0.4},
	}

	sources := e.selectSources(chunks)
	if len(sources) != 3 {
		t.Fatalf("sources = %d, want 3 (cap)", len(sources))
	}
	for _, src := range sources {
		if src.Score <= 0.3 {
			t.Errorf("source %q below threshold: %f", src.URL, src.Score)
		}
		if src.URL == "https://c" {
			t.Error("below-threshold passage included")
		}
	}
	if sources[0].Title != "Первый" {
		t.Errorf("title = %q, want original_title value", sources[0].Title)
	}
	if sources[1].Title != "Второй" {
		t.Errorf("title = %q, want fallback to title metadata", sources[1].Title)
	}
}

func TestSelectSourcesTruncatesPreview(t *testing.T) {
	e := newAnswerEngine()

	long := strings.Repeat("а", 450)
	sources := e.selectSources([]ScoredPassage{
		{Passage: Passage{Content: long, Metadata: map[string]string{}}, Score: 0.8},
	})
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(sources))
	}
	preview := []rune(sources[0].ContentPreview)
	if len(preview) != sourcePreviewLen+3 {
		t.Errorf("preview length = %d runes, want %d plus ellipsis", len(preview), sourcePreviewLen+3)
	}
	if !strings.HasSuffix(sources[0].ContentPreview, "...") {
		t.Error("long preview should end with ellipsis")
	}
}

func TestBuildGroundedPromptNumbersDocuments(t *testing.T) {
	e := newAnswerEngine()

	prompt := e.buildGroundedPrompt(
		"Где офисы?",
		"История диалога: (диалог только начался)",
		[]ScoredPassage{
			{Passage: Passage{Content: "Офисы в Москве"}, Score: 0.92},
			{Passage: Passage{Content: "Офис в Саратове"}, Score: 0.41},
		},
	)

	for _, want := range []string{
		"[Документ 1, релевантность: 0.92]",
		"[Документ 2, релевантность: 0.41]",
		"Офисы в Москве",
		"Текущий вопрос пользователя: Где офисы?",
		"Neoflex",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("grounded prompt missing %q", want)
		}
	}
}
