package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"qa-agent/config"
	apperrors "qa-agent/errors"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embedding request/response mirror llama.cpp's expected schema
type embeddingRequest struct {
	Content string `json:"content"`
}

type embeddingResponse []struct {
	Embedding [][]float32 `json:"embedding"`
}

type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *zap.Logger
	embedCache *lru.Cache
}

func New(cfg *config.Config, logger *zap.Logger) *Client {
	// Embeddings are deterministic for identical input, so an LRU over the
	// raw text is safe and saves repeated round-trips for popular queries.
	var cache *lru.Cache
	if cfg.EmbedCacheSize > 0 {
		cache, _ = lru.New(cfg.EmbedCacheSize)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.LLMRequestTimeout},
		logger:     logger,
		embedCache: cache,
	}
}

// Complete performs a non-streaming chat completion call with a single user
// message, the way the question-answering prompts are framed.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model:       c.cfg.LLMModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(c.cfg.MainLLMHost, "/"))
	bodyBytes, err := c.postWithRetry(ctx, url, jsonBody)
	if err != nil {
		return "", apperrors.WrapErrorf(apperrors.ErrGenerationFailed, "chat completion: %v", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(bodyBytes, &cr); err != nil {
		return "", apperrors.WrapErrorf(apperrors.ErrGenerationFailed, "decode chat response: %v", err)
	}
	if len(cr.Choices) == 0 {
		return "", apperrors.WrapError(apperrors.ErrGenerationFailed, "no response choices from llm server")
	}
	if cr.Usage.TotalTokens > 0 {
		c.logger.Debug("LLM tokens used", zap.Int("total_tokens", cr.Usage.TotalTokens))
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// Embed generates an embedding vector for the provided text using the
// llama.cpp-compatible embeddings endpoint.
func (c *Client) Embed(ctx context.Context, doc string) ([]float32, error) {
	if c.embedCache != nil {
		if cached, ok := c.embedCache.Get(doc); ok {
			return cached.([]float32), nil
		}
	}

	reqBody := embeddingRequest{Content: doc}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", strings.TrimRight(c.cfg.EmbeddingLLMHost, "/"))
	bodyBytes, err := c.postWithRetry(ctx, url, jsonBody)
	if err != nil {
		// An unreachable embedder makes dense retrieval unavailable.
		return nil, apperrors.WrapErrorf(apperrors.ErrRetrievalUnavailable, "embedding request: %v", err)
	}

	var er embeddingResponse
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrRetrievalUnavailable, "decode embedding response: %v", err)
	}
	if len(er) == 0 || len(er[0].Embedding) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrRetrievalUnavailable, "embedding response was empty")
	}
	vector := er[0].Embedding[0]
	if c.embedCache != nil {
		c.embedCache.Add(doc, vector)
	}
	return vector, nil
}

// postWithRetry POSTs the payload, retrying transport failures and 503s
// (model still loading) with exponential backoff. Context cancellation is
// never retried.
func (c *Client) postWithRetry(ctx context.Context, url string, jsonBody []byte) ([]byte, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.LLMAPIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.LLMAPIKey)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			c.backoffSleep(attempt)
			continue
		}

		if r.StatusCode == http.StatusServiceUnavailable {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			lastErr = fmt.Errorf("llm server status %s", r.Status)
			c.logger.Warn("LLM service unavailable, retrying", zap.Int("attempt", attempt+1))
			c.backoffSleep(attempt)
			continue
		}

		resp = r
		break
	}
	if resp == nil {
		return nil, fmt.Errorf("no response from LLM server: %w", lastErr)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm server status %s: %s", resp.Status, string(bodyBytes))
	}
	return bodyBytes, nil
}

func (c *Client) backoffSleep(attempt int) {
	// Exponential backoff with jitter and cap
	base := c.cfg.RetryDelaySeconds
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<attempt)
	if c.cfg.BackoffMaxSeconds > 0 && d > c.cfg.BackoffMaxSeconds {
		d = c.cfg.BackoffMaxSeconds
	}
	jitter := time.Duration(float64(d) * 0.1)
	if jitter <= 0 {
		time.Sleep(d)
		return
	}
	time.Sleep(d - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter)))
}
