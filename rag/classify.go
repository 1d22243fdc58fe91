package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "qa-agent/errors"

	"go.uber.org/zap"
)

// Classification categories, reported back to the caller for diagnostics.
const (
	CategoryLLM             = "llm_classification"
	CategoryKeyword         = "keyword_heuristic"
	CategoryExplicitMention = "explicit_mention"
	CategoryGeneral         = "general_heuristic"
	CategoryForced          = "forced_company"
)

const defaultLLMConfidence = 0.8

// ClassificationResult is the routing verdict for one question. Produced
// fresh per turn, never cached.
type ClassificationResult struct {
	IsAboutCompany bool    `json:"is_about_company"`
	Confidence     float64 `json:"confidence"`
	Category       string  `json:"category"`
	Reason         string  `json:"reason"`
}

// Keyword vocabulary for the deterministic fallback. Matched as lower-cased
// substrings so Russian stems cover their inflected forms.
var companyKeywords = []string{
	"компани", "фирм", "организац",
	"офис", "адрес", "контакт",
	"услуг", "сервис", "решен", "продукт",
	"клиент", "заказчик", "партнер",
	"ваканс", "работ", "карьер",
	"mlops", "data science", "ai", "искусственн",
}

const classifyPromptTemplate = `Ты - классификатор вопросов для чат-бота компании %[1]s.

Твоя задача - определить, относится ли вопрос пользователя к компании %[1]s или это общий вопрос.

КОМПАНИЯ %[1]s: Это IT-компания, которая создает решения на основе искусственного интеллекта,
предоставляет услуги data science, занимается разработкой программного обеспечения и т.д.

К ВОПРОСАМ О КОМПАНИИ ОТНОСЯТСЯ:
- Вопросы о решениях, услугах, продуктах компании
- Вопросы о клиентах, партнерах, кейсах внедрения
- Вопросы об офисах, адресах, контактах
- Вопросы о вакансиях, карьере в компании
- Вопросы об экспертизе, технологиях компании
- Вопросы, явно содержащие название компании
- Уточняющие вопросы в контексте предыдущих вопросов о компании

ОБЩИЕ ВОПРОСЫ:
- Приветствия, прощания
- Вопросы о погоде, времени
- Философские, абстрактные вопросы
- Вопросы о других компаниях/технологиях
- Общие вопросы о программировании, data science (без привязки к компании)
- Вопросы, не связанные с деятельностью компании

%[2]s

ТЕКУЩИЙ ВОПРОС: %[3]s

ОТВЕТЬ В ФОРМАТЕ JSON:
{
  "is_about_company": true/false,
  "confidence": число от 0 до 1,
  "reason": "краткое объяснение решения"
}

Важно: ответь ТОЛЬКО JSON, без других текстов.`

// classify routes the question to grounded retrieval or free dialogue. The
// LLM path is primary; any failure there falls back silently to the
// deterministic keyword heuristic, which is pure and total.
func (e *Engine) classify(ctx context.Context, question, historyText string) ClassificationResult {
	prompt := fmt.Sprintf(classifyPromptTemplate, e.cfg.CompanyName, historyText, question)

	response, err := e.generator.Complete(ctx, prompt, e.cfg.ClassifyTemperature, e.cfg.ClassifyMaxTokens)
	if err != nil {
		e.logger.Warn("LLM classification failed, using keyword heuristic",
			zap.Error(apperrors.WrapErrorf(apperrors.ErrClassificationFailed, "llm verdict: %v", err)))
		return e.classifyWithHeuristics(question)
	}

	verdict, ok := extractVerdict(response)
	if !ok {
		e.logger.Warn("LLM classification returned no well-formed verdict",
			zap.String("response", truncateForLog(response, 200)))
		return e.classifyWithHeuristics(question)
	}

	e.logger.Info("LLM classification",
		zap.Bool("is_about_company", verdict.IsAboutCompany),
		zap.Float64("confidence", verdict.Confidence))
	return verdict
}

// llmVerdict is the schema expected inside the model's JSON reply. The
// pointer field distinguishes a missing boolean from an explicit false.
type llmVerdict struct {
	IsAboutCompany *bool    `json:"is_about_company"`
	Confidence     *float64 `json:"confidence"`
	Reason         string   `json:"reason"`
}

// extractVerdict parses the first well-formed brace-delimited JSON object in
// the response that carries the expected boolean field.
func extractVerdict(response string) (ClassificationResult, bool) {
	for _, candidate := range jsonObjectCandidates(response) {
		var v llmVerdict
		if err := json.Unmarshal([]byte(candidate), &v); err != nil || v.IsAboutCompany == nil {
			continue
		}
		confidence := defaultLLMConfidence
		if v.Confidence != nil {
			confidence = *v.Confidence
		}
		reason := v.Reason
		if reason == "" {
			reason = "Не указано"
		}
		return ClassificationResult{
			IsAboutCompany: *v.IsAboutCompany,
			Confidence:     confidence,
			Category:       CategoryLLM,
			Reason:         reason,
		}, true
	}
	return ClassificationResult{}, false
}

// jsonObjectCandidates yields brace-balanced substrings starting at each '{'
// in the text, respecting JSON string quoting.
func jsonObjectCandidates(text string) []string {
	var candidates []string
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidates = append(candidates, text[start:i+1])
					i = len(text)
				}
			}
		}
	}
	return candidates
}

// classifyWithHeuristics is the deterministic fallback: a fixed vocabulary
// scan over the lower-cased question. It never fails and never calls
// external services.
func (e *Engine) classifyWithHeuristics(question string) ClassificationResult {
	lower := strings.ToLower(question)

	// An explicit company-name mention is the strongest signal.
	for _, variant := range e.cfg.CompanyNameVariants {
		if strings.Contains(lower, variant) {
			return ClassificationResult{
				IsAboutCompany: true,
				Confidence:     0.9,
				Category:       CategoryExplicitMention,
				Reason:         "Явное упоминание " + e.cfg.CompanyName,
			}
		}
	}

	for _, keyword := range companyKeywords {
		if strings.Contains(lower, keyword) {
			return ClassificationResult{
				IsAboutCompany: true,
				Confidence:     0.7,
				Category:       CategoryKeyword,
				Reason:         "Найдено ключевое слово: " + keyword,
			}
		}
	}

	return ClassificationResult{
		IsAboutCompany: false,
		Confidence:     0.6,
		Category:       CategoryGeneral,
		Reason:         "Не найдено указаний на тему компании",
	}
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
