package rag

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	apperrors "qa-agent/errors"

	"go.uber.org/zap"
)

// Page is one crawled page as written by the crawler pipeline.
type Page struct {
	URL     string `json:"url"`
	State   string `json:"state"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// typographicReplacer normalizes quotes, dashes and ellipses the crawler
// leaves in Russian page text.
var typographicReplacer = strings.NewReplacer(
	"«", `"`, "»", `"`, "„", `"`, "“", `"`, "”", `"`,
	"—", "-", "–", "-", "‒", "-",
	"…", "...",
)

// cleanText collapses whitespace runs and normalizes typographic characters.
func cleanText(text string) string {
	text = typographicReplacer.Replace(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Ingest loads the corpus file (JSON or CSV), chunks it into passages and
// rebuilds both indices.
func (e *Engine) Ingest(ctx context.Context, path string) error {
	pages, err := LoadPages(path)
	if err != nil {
		return err
	}
	passages := e.ChunkPages(pages)
	if len(passages) == 0 {
		return apperrors.WrapErrorf(apperrors.ErrInvalidInput, "corpus %s produced no passages", path)
	}
	e.logger.Info("Corpus loaded",
		zap.String("path", path),
		zap.Int("pages", len(pages)),
		zap.Int("passages", len(passages)))
	return e.BuildIndex(ctx, passages)
}

// LoadPages reads crawled pages from a JSON array or a CSV export with
// url/state/title/text columns.
func LoadPages(path string) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return loadPagesJSON(path)
	case ".csv":
		return loadPagesCSV(path)
	default:
		return nil, fmt.Errorf("unsupported corpus format: %s", path)
	}
}

func loadPagesJSON(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.WrapError(err, "read corpus file")
	}
	var pages []Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, apperrors.WrapError(err, "decode corpus JSON")
	}
	return pages, nil
}

func loadPagesCSV(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.WrapError(err, "open corpus file")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.WrapError(err, "read CSV header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimPrefix(strings.TrimSpace(strings.ToLower(name)), "\uFEFF")] = i
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var pages []Page
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.WrapError(err, "read CSV record")
		}
		pages = append(pages, Page{
			URL:     field(record, "url"),
			State:   field(record, "state"),
			Title:   field(record, "title"),
			Content: field(record, "text"),
		})
	}
	return pages, nil
}

// ChunkPages cleans and splits pages into passages. Pages with too little
// content are skipped; each chunk carries the page metadata and, when
// enabled, a truncated "[Title] " prefix so the lexical index can weigh
// title terms.
func (e *Engine) ChunkPages(pages []Page) []Passage {
	splitter := NewRegexSentenceSplitter()

	var passages []Passage
	for _, page := range pages {
		content := cleanText(page.Content)
		if len([]rune(content)) < e.cfg.MinPageChars {
			e.logger.Debug("Skipping page with too little content", zap.String("url", page.URL))
			continue
		}

		titlePrefix := ""
		if e.cfg.IncludeTitles {
			titlePrefix = formatTitlePrefix(page.Title, e.cfg.MaxTitleLength)
		}

		chunks := chunkText(content, splitter, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
		for i, chunk := range chunks {
			if titlePrefix != "" && !strings.HasPrefix(chunk, titlePrefix) {
				chunk = titlePrefix + chunk
			}
			passage := Passage{
				Content: chunk,
				Metadata: map[string]string{
					"url":            page.URL,
					"state":          page.State,
					"original_title": page.Title,
					"chunk_index":    strconv.Itoa(i),
					"source":         "crawled_data",
				},
			}
			passage.ID = passage.Fingerprint()
			passages = append(passages, passage)
		}
	}
	return passages
}

// formatTitlePrefix builds the bracketed title marker, truncated to the
// configured length.
func formatTitlePrefix(title string, maxLen int) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	runes := []rune(title)
	if maxLen > 3 && len(runes) > maxLen {
		title = string(runes[:maxLen-3]) + "..."
	}
	return "[" + title + "] "
}

// chunkText accumulates sentences into chunks of at most chunkSize runes,
// carrying a tail of at least overlap runes into the next chunk.
func chunkText(text string, splitter SentenceSplitter, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		return []string{text}
	}
	if len([]rune(text)) <= chunkSize {
		return []string{text}
	}

	sentences := splitter.Split(text)
	var chunks []string
	var current []string
	currentLen := 0
	newSinceFlush := false

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))

		// Seed the next chunk with the trailing sentences that cover the
		// overlap window.
		var tail []string
		tailLen := 0
		for i := len(current) - 1; i >= 0 && tailLen < overlap; i-- {
			tail = append([]string{current[i]}, tail...)
			tailLen += len([]rune(current[i])) + 1
		}
		if tailLen >= currentLen {
			// Overlap would reproduce the whole chunk; start fresh instead.
			tail, tailLen = nil, 0
		}
		current, currentLen = tail, tailLen
		newSinceFlush = false
	}

	for _, sentence := range sentences {
		sentenceLen := len([]rune(sentence)) + 1
		if currentLen > 0 && currentLen+sentenceLen > chunkSize {
			flush()
		}
		current = append(current, sentence)
		currentLen += sentenceLen
		newSinceFlush = true
	}
	if newSinceFlush && currentLen > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
