package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"qa-agent/config"
	apperrors "qa-agent/errors"
	"qa-agent/memory"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const collectionPrefix = "company-corpus-v"

// Engine is the hybrid retrieval and conversational routing core. Retrieval
// is read-only over shared indices; rebuilds swap whole index values
// atomically so queries never observe a partial index.
type Engine struct {
	cfg       *config.Config
	db        *chromem.DB
	embedder  chromem.EmbeddingFunc
	generator GenerationProvider
	memory    *memory.Memory
	logger    *zap.Logger

	vector atomic.Pointer[chromem.Collection]
	sparse atomic.Pointer[sparseIndex]

	rebuildMu sync.Mutex
	version   int
}

// AskRequest carries one question through the engine.
type AskRequest struct {
	Question  string
	SessionID string
	DenseK    int
	SparseK   int
	Classify  bool
}

// AskResult is the full answer envelope returned to the serving layer.
type AskResult struct {
	Answer           string                `json:"answer"`
	Sources          []Source              `json:"sources"`
	UsedChunks       int                   `json:"used_chunks"`
	TotalChunksFound int                   `json:"total_chunks_found"`
	Question         string                `json:"question"`
	SessionID        string                `json:"session_id"`
	KnowsAnswer      bool                  `json:"knows_answer"`
	HistoryLength    int                   `json:"history_length"`
	IsAboutCompany   bool                  `json:"is_about_company"`
	Classification   *ClassificationResult `json:"classification,omitempty"`
}

// New opens the persistent vector index at the configured path and adopts
// the newest existing corpus collection, if any. The corpus itself is
// (re)built through Ingest.
func New(cfg *config.Config, generator GenerationProvider, embedder chromem.EmbeddingFunc, mem *memory.Memory, logger *zap.Logger) (*Engine, error) {
	db, err := chromem.NewPersistentDB(cfg.VectorDBPath, false)
	if err != nil {
		return nil, apperrors.WrapError(err, "open vector database")
	}

	e := &Engine{
		cfg:       cfg,
		db:        db,
		embedder:  embedder,
		generator: generator,
		memory:    mem,
		logger:    logger,
	}

	if name, version, ok := newestCollection(db); ok {
		collection := db.GetCollection(name, embedder)
		if collection != nil {
			e.vector.Store(collection)
			e.version = version
			logger.Info("Adopted persisted vector collection",
				zap.String("collection", name),
				zap.Int("documents", collection.Count()))

			// The lexical index lives in memory only; rebuild it from the
			// passage sidecar so both indices serve after a restart even
			// without the corpus file.
			passages, err := loadPersistedPassages(e.passagesPath())
			switch {
			case err == nil && len(passages) > 0:
				e.sparse.Store(buildSparseIndex(passages, logger))
			case err != nil && !os.IsNotExist(err):
				logger.Warn("Failed to restore lexical index from passage sidecar", zap.Error(err))
			}
		}
	}

	return e, nil
}

// passagesPath is the sidecar file next to the vector store holding the
// deduplicated passage set of the current indices.
func (e *Engine) passagesPath() string {
	return e.cfg.VectorDBPath + ".passages.json"
}

// newestCollection finds the highest-versioned corpus collection in the
// persistent store.
func newestCollection(db *chromem.DB) (string, int, bool) {
	best := -1
	bestName := ""
	for name := range db.ListCollections() {
		if !strings.HasPrefix(name, collectionPrefix) {
			continue
		}
		v, err := strconv.Atoi(strings.TrimPrefix(name, collectionPrefix))
		if err != nil {
			continue
		}
		if v > best {
			best = v
			bestName = name
		}
	}
	return bestName, best, best >= 0
}

// Ready reports whether both indices hold at least one passage.
func (e *Engine) Ready() bool {
	collection := e.vector.Load()
	sparse := e.sparse.Load()
	return collection != nil && collection.Count() > 0 && sparse != nil && len(sparse.passages) > 0
}

// Stats reports index sizes for the health surface.
func (e *Engine) Stats() (vectorDocs, sparseDocs int) {
	if collection := e.vector.Load(); collection != nil {
		vectorDocs = collection.Count()
	}
	if sparse := e.sparse.Load(); sparse != nil {
		sparseDocs = len(sparse.passages)
	}
	return vectorDocs, sparseDocs
}

// Memory exposes the session store for the serving layer.
func (e *Engine) Memory() *memory.Memory {
	return e.memory
}

// Ask answers one question: classify, retrieve (when company-routed), fuse,
// generate, record both turns, attach sources. Degraded collaborators
// shrink the result; they never produce an error for the caller beyond
// input validation.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "empty question")
	}
	if req.SessionID == "" {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "empty session id")
	}

	denseK := req.DenseK
	if denseK <= 0 {
		denseK = e.cfg.DenseK
	}
	sparseK := req.SparseK
	if sparseK <= 0 {
		sparseK = e.cfg.SparseK
	}

	historyText := e.memory.FormatHistory(req.SessionID)

	var classification ClassificationResult
	if req.Classify {
		classification = e.classify(ctx, question, historyText)
	} else {
		classification = ClassificationResult{
			IsAboutCompany: true,
			Confidence:     1.0,
			Category:       CategoryForced,
			Reason:         "Классификация отключена",
		}
	}

	var chunks []ScoredPassage
	if classification.IsAboutCompany {
		chunks = e.retrieve(ctx, question, denseK, sparseK)
	}

	var answer string
	switch {
	case classification.IsAboutCompany && len(chunks) == 0:
		e.logger.Warn("Company question found no supporting passages",
			zap.String("session_id", req.SessionID))
		answer = noAnswerText
	case classification.IsAboutCompany:
		prompt := e.buildGroundedPrompt(question, historyText, chunks)
		answer = e.generateAnswer(ctx, prompt, e.cfg.GroundedTemperature, e.cfg.GroundedMaxTokens)
	default:
		prompt := buildDialoguePrompt(question, historyText)
		answer = e.generateAnswer(ctx, prompt, e.cfg.DialogueTemperature, e.cfg.DialogueMaxTokens)
	}

	e.memory.AddMessage(req.SessionID, memory.RoleUser, question)
	e.memory.AddMessage(req.SessionID, memory.RoleAssistant, answer)

	knows := knowsAnswer(answer)

	var sources []Source
	if classification.IsAboutCompany && knows && len(chunks) > 0 {
		sources = e.selectSources(chunks)
	}
	if sources == nil {
		sources = []Source{}
	}

	result := &AskResult{
		Answer:           answer,
		Sources:          sources,
		UsedChunks:       len(sources),
		TotalChunksFound: len(chunks),
		Question:         question,
		SessionID:        req.SessionID,
		KnowsAnswer:      knows,
		HistoryLength:    len(e.memory.GetHistory(req.SessionID, 0)),
		IsAboutCompany:   classification.IsAboutCompany,
	}
	if req.Classify {
		c := classification
		result.Classification = &c
	}
	return result, nil
}

// retrieve runs dense and sparse search concurrently (neither depends on
// the other) and fuses the result sets.
func (e *Engine) retrieve(ctx context.Context, question string, denseK, sparseK int) []ScoredPassage {
	var denseHits []DenseHit
	var sparseHits []SparseHit

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		denseHits = e.denseSearch(ctx, question, denseK)
	}()
	go func() {
		defer wg.Done()
		sparseHits = e.sparseSearch(question, sparseK)
	}()
	wg.Wait()

	fused := fuse(denseHits, sparseHits, denseK+sparseK, e.cfg.DenseWeight, e.cfg.SparseWeight)
	e.logger.Debug("Hybrid retrieval",
		zap.Int("dense", len(denseHits)),
		zap.Int("sparse", len(sparseHits)),
		zap.Int("fused", len(fused)))
	return fused
}

// sparseSearch queries the current lexical index snapshot.
func (e *Engine) sparseSearch(query string, k int) []SparseHit {
	idx := e.sparse.Load()
	if idx == nil {
		e.logger.Warn("Lexical index not available, skipping sparse retrieval")
		return nil
	}
	return idx.search(query, k)
}

// BuildIndex rebuilds both indices from the given passages and swaps them
// in atomically. The vector collection is reused when the persisted one
// already holds exactly the deduplicated passage set (saves re-embedding);
// otherwise a fresh versioned collection is built and the old one dropped
// only after the swap.
func (e *Engine) BuildIndex(ctx context.Context, passages []Passage) error {
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()

	unique := dedupeByFingerprint(passages)
	if len(unique) == 0 {
		return apperrors.WrapError(apperrors.ErrInvalidInput, "no passages to index")
	}
	for i := range unique {
		if unique[i].ID == "" {
			unique[i].ID = unique[i].Fingerprint()
		}
	}

	// The sparse index is cheap to rebuild and always refreshed.
	e.sparse.Store(buildSparseIndex(unique, e.logger))

	if current := e.vector.Load(); current != nil && collectionHoldsExactly(ctx, current, unique) {
		e.logger.Info("Vector collection already matches corpus, skipping re-embedding",
			zap.Int("documents", len(unique)))
		e.persistPassages(unique)
		return nil
	}

	nextVersion := e.version + 1
	name := fmt.Sprintf("%s%d", collectionPrefix, nextVersion)
	collection, err := e.db.CreateCollection(name, nil, e.embedder)
	if err != nil {
		return apperrors.WrapError(err, "create vector collection")
	}

	docs := make([]chromem.Document, 0, len(unique))
	for _, p := range unique {
		docs = append(docs, chromem.Document{
			ID:       p.ID,
			Content:  p.Content,
			Metadata: p.Metadata,
		})
	}
	if err := collection.AddDocuments(ctx, docs, 4); err != nil {
		// Leave the previous collection serving; drop the half-built one.
		if delErr := e.db.DeleteCollection(name); delErr != nil {
			e.logger.Warn("Failed to drop half-built collection", zap.Error(delErr))
		}
		return apperrors.WrapError(err, "embed corpus documents")
	}

	old := e.vector.Swap(collection)
	oldVersion := e.version
	e.version = nextVersion

	if old != nil {
		oldName := fmt.Sprintf("%s%d", collectionPrefix, oldVersion)
		if err := e.db.DeleteCollection(oldName); err != nil {
			e.logger.Warn("Failed to delete previous vector collection",
				zap.Error(err),
				zap.String("collection", oldName))
		}
	}

	e.persistPassages(unique)

	e.logger.Info("Vector index rebuilt",
		zap.String("collection", name),
		zap.Int("documents", len(unique)))
	return nil
}

// collectionHoldsExactly reports whether the collection contains precisely
// the given passage set. Passage IDs are content fingerprints, so equal
// counts plus every ID present means set equality; a count match alone could
// pair a reloaded corpus with a stale collection.
func collectionHoldsExactly(ctx context.Context, c *chromem.Collection, passages []Passage) bool {
	if c.Count() != len(passages) {
		return false
	}
	for _, p := range passages {
		if _, err := c.GetByID(ctx, p.ID); err != nil {
			return false
		}
	}
	return true
}

// persistPassages writes the passage sidecar. Failures are logged and
// swallowed: the indices already serve, only restart recovery degrades.
func (e *Engine) persistPassages(passages []Passage) {
	data, err := json.Marshal(passages)
	if err != nil {
		e.logger.Warn("Failed to encode passage sidecar", zap.Error(err))
		return
	}
	tmp := e.passagesPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err == nil {
		err = os.Rename(tmp, e.passagesPath())
	}
	if err != nil {
		e.logger.Warn("Failed to persist passage sidecar", zap.Error(err))
	}
}

func loadPersistedPassages(path string) ([]Passage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var passages []Passage
	if err := json.Unmarshal(data, &passages); err != nil {
		return nil, err
	}
	return passages, nil
}

// dedupeByFingerprint keeps the first passage per fingerprint, preserving
// input order.
func dedupeByFingerprint(passages []Passage) []Passage {
	seen := make(map[string]bool, len(passages))
	unique := make([]Passage, 0, len(passages))
	for _, p := range passages {
		fp := p.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		unique = append(unique, p)
	}
	return unique
}
