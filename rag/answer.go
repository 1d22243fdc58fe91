package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Fixed refusal used when a company-routed question finds no evidence.
// Returned without invoking generation: it saves a network call and avoids
// an ungrounded answer.
const noAnswerText = "На основе предоставленной информации не могу ответить на вопрос"

// Synthetic answer used when the generation provider fails outright.
const generationErrorText = "Произошла ошибка при обращении к модели. Попробуйте повторить вопрос позже."

const sourcePreviewLen = 200

// Phrases that mark the answer as not grounded in the context. Matched
// case-insensitively; any hit suppresses source attachment.
var notFoundPhrases = []string{
	"не могу ответить",
	"нет информации",
	"информации нет",
	"не могу найти",
	"не предоставлено",
	"не знаю",
	"не удалось найти",
}

const groundedPromptTemplate = `Ты - профессиональный ассистент компании %[1]s.
Твоя задача - отвечать на вопросы пользователей на основе предоставленного контекста и истории диалога.

ВНИМАНИЕ - КРИТИЧЕСКИ ВАЖНЫЕ ПРАВИЛА:
1. Отвечай ТОЛЬКО на основе информации из предоставленного контекста.
2. Учитывай историю диалога для понимания контекста беседы.
3. Если в контексте НЕТ информации для ответа на вопрос, скажи: "На основе предоставленной информации не могу ответить на вопрос".
4. Не придумывай информацию, не упоминай факты не из контекста.
5. Если информация есть - ответь кратко, точно и по делу.
6. Для важных фактов укажи источники в формате [Документ X].

%[2]s

Контекст для ответа (информация с сайта компании %[1]s):
%[3]s

Текущий вопрос пользователя: %[4]s

Помни: если информации для ответа нет - говори "не могу ответить". Не выдумывай!

Ответ (отвечай как в диалоге, естественно):`

const dialoguePromptTemplate = `Ты - полезный и дружелюбный AI-ассистент.
Ты можешь поддерживать беседу на любые темы, давать советы, отвечать на общие вопросы.
Будь вежливым, полезным и дружелюбным.

%s

Текущий вопрос пользователя: %s

Ответь естественно и дружелюбно, как в диалоге:`

// Source is one retrieved passage surfaced to the caller as evidence.
type Source struct {
	ContentPreview string  `json:"content_preview"`
	Score          float64 `json:"score"`
	URL            string  `json:"url"`
	Title          string  `json:"title"`
}

// buildGroundedPrompt assembles the grounding instructions, the serialized
// session history, numbered context blocks and the question.
func (e *Engine) buildGroundedPrompt(question, historyText string, chunks []ScoredPassage) string {
	var contextBuilder strings.Builder
	for i, chunk := range chunks {
		contextBuilder.WriteString(fmt.Sprintf("[Документ %d, релевантность: %.2f]\n%s\n\n",
			i+1, chunk.Score, strings.TrimSpace(chunk.Passage.Content)))
	}
	return fmt.Sprintf(groundedPromptTemplate,
		e.cfg.CompanyName, historyText, strings.TrimRight(contextBuilder.String(), "\n"), question)
}

func buildDialoguePrompt(question, historyText string) string {
	return fmt.Sprintf(dialoguePromptTemplate, historyText, question)
}

// generateAnswer invokes generation, degrading to a synthetic error string
// on provider failure rather than surfacing the error.
func (e *Engine) generateAnswer(ctx context.Context, prompt string, temperature float64, maxTokens int) string {
	answer, err := e.generator.Complete(ctx, prompt, temperature, maxTokens)
	if err != nil {
		e.logger.Error("Generation failed, returning synthetic answer", zap.Error(err))
		return generationErrorText
	}
	return answer
}

// knowsAnswer scans the answer for the fixed "cannot answer" phrases.
func knowsAnswer(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range notFoundPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	return true
}

// selectSources picks up to maxSources fused passages above the relevance
// threshold and shapes them for the caller.
func (e *Engine) selectSources(chunks []ScoredPassage) []Source {
	sources := make([]Source, 0, e.cfg.MaxSources)
	for _, chunk := range chunks {
		if len(sources) >= e.cfg.MaxSources {
			break
		}
		if chunk.Score <= e.cfg.SourceScoreThreshold {
			continue
		}

		preview := chunk.Passage.Content
		if len([]rune(preview)) > sourcePreviewLen {
			preview = string([]rune(preview)[:sourcePreviewLen]) + "..."
		}
		title := chunk.Passage.Metadata["original_title"]
		if title == "" {
			title = chunk.Passage.Metadata["title"]
		}
		sources = append(sources, Source{
			ContentPreview: preview,
			Score:          chunk.Score,
			URL:            chunk.Passage.Metadata["url"],
			Title:          title,
		})
	}
	return sources
}
