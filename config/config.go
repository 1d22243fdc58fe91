package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the application's configuration
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	WebPort  int    `mapstructure:"WEB_PORT"`

	// LLM endpoints (OpenAI-compatible chat completions + llama.cpp embeddings)
	MainLLMHost       string        `mapstructure:"MAIN_LLM_HOST"`
	EmbeddingLLMHost  string        `mapstructure:"EMBEDDING_LLM_HOST"`
	LLMModel          string        `mapstructure:"LLM_MODEL"`
	LLMAPIKey         string        `mapstructure:"LLM_API_KEY"`
	LLMRequestTimeout time.Duration `mapstructure:"LLM_REQUEST_TIMEOUT"`
	MaxRetries        int           `mapstructure:"MAX_RETRIES"`
	RetryDelaySeconds time.Duration `mapstructure:"RETRY_DELAY_SECONDS"`
	BackoffMaxSeconds time.Duration `mapstructure:"BACKOFF_MAX_SECONDS"`
	EmbedCacheSize    int           `mapstructure:"EMBED_CACHE_SIZE"`

	// Corpus and indices
	CorpusPath     string `mapstructure:"CORPUS_PATH"`
	VectorDBPath   string `mapstructure:"VECTOR_DB_PATH"`
	WatchCorpus    bool   `mapstructure:"WATCH_CORPUS"`
	ChunkSize      int    `mapstructure:"CHUNK_SIZE"`
	ChunkOverlap   int    `mapstructure:"CHUNK_OVERLAP"`
	IncludeTitles  bool   `mapstructure:"INCLUDE_TITLES"`
	MaxTitleLength int    `mapstructure:"MAX_TITLE_LENGTH"`
	MinPageChars   int    `mapstructure:"MIN_PAGE_CHARS"`

	// Retrieval
	DenseK               int     `mapstructure:"DENSE_K"`
	SparseK              int     `mapstructure:"SPARSE_K"`
	DenseWeight          float64 `mapstructure:"DENSE_WEIGHT"`
	SparseWeight         float64 `mapstructure:"SPARSE_WEIGHT"`
	SourceScoreThreshold float64 `mapstructure:"SOURCE_SCORE_THRESHOLD"`
	MaxSources           int     `mapstructure:"MAX_SOURCES"`

	// Generation
	GroundedTemperature float64 `mapstructure:"GROUNDED_TEMPERATURE"`
	GroundedMaxTokens   int     `mapstructure:"GROUNDED_MAX_TOKENS"`
	DialogueTemperature float64 `mapstructure:"DIALOGUE_TEMPERATURE"`
	DialogueMaxTokens   int     `mapstructure:"DIALOGUE_MAX_TOKENS"`
	ClassifyTemperature float64 `mapstructure:"CLASSIFY_TEMPERATURE"`
	ClassifyMaxTokens   int     `mapstructure:"CLASSIFY_MAX_TOKENS"`

	// Routing
	CompanyName         string   `mapstructure:"COMPANY_NAME"`
	CompanyNameVariants []string `mapstructure:"COMPANY_NAME_VARIANTS"`

	// Session memory
	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	MaxHistoryLength     int           `mapstructure:"MAX_HISTORY_LENGTH"`
	SessionSweepInterval time.Duration `mapstructure:"SESSION_SWEEP_INTERVAL"`
	SessionStoreBackend  string        `mapstructure:"SESSION_STORE_BACKEND"`
	SessionStorePath     string        `mapstructure:"SESSION_STORE_PATH"`
}

func Load(logger *zap.Logger) *Config {
	var config Config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")        // For running locally
	viper.AddConfigPath("../")      // For running from docker subdir
	viper.AddConfigPath("./config") // Common config folder
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("WEB_PORT", 8000)
	viper.SetDefault("MAIN_LLM_HOST", "http://localhost:8080")
	viper.SetDefault("EMBEDDING_LLM_HOST", "http://localhost:8081")
	viper.SetDefault("LLM_MODEL", "")
	viper.SetDefault("LLM_API_KEY", "")
	viper.SetDefault("LLM_REQUEST_TIMEOUT", 30)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_DELAY_SECONDS", 2)
	viper.SetDefault("BACKOFF_MAX_SECONDS", 30)
	viper.SetDefault("EMBED_CACHE_SIZE", 512)
	viper.SetDefault("CORPUS_PATH", "data/crawled_data.json")
	viper.SetDefault("VECTOR_DB_PATH", "data/vector_db")
	viper.SetDefault("WATCH_CORPUS", false)
	viper.SetDefault("CHUNK_SIZE", 1000)
	viper.SetDefault("CHUNK_OVERLAP", 200)
	viper.SetDefault("INCLUDE_TITLES", true)
	viper.SetDefault("MAX_TITLE_LENGTH", 100)
	viper.SetDefault("MIN_PAGE_CHARS", 50)
	viper.SetDefault("DENSE_K", 5)
	viper.SetDefault("SPARSE_K", 5)
	viper.SetDefault("DENSE_WEIGHT", 0.6)
	viper.SetDefault("SPARSE_WEIGHT", 0.4)
	viper.SetDefault("SOURCE_SCORE_THRESHOLD", 0.3)
	viper.SetDefault("MAX_SOURCES", 3)
	viper.SetDefault("GROUNDED_TEMPERATURE", 0.1)
	viper.SetDefault("GROUNDED_MAX_TOKENS", 1000)
	viper.SetDefault("DIALOGUE_TEMPERATURE", 0.7)
	viper.SetDefault("DIALOGUE_MAX_TOKENS", 800)
	viper.SetDefault("CLASSIFY_TEMPERATURE", 0.1)
	viper.SetDefault("CLASSIFY_MAX_TOKENS", 200)
	viper.SetDefault("COMPANY_NAME", "Neoflex")
	viper.SetDefault("COMPANY_NAME_VARIANTS", []string{"neoflex", "неофлекс"})
	viper.SetDefault("SESSION_TTL", 24)
	viper.SetDefault("MAX_HISTORY_LENGTH", 10)
	viper.SetDefault("SESSION_SWEEP_INTERVAL", 10)
	viper.SetDefault("SESSION_STORE_BACKEND", "file")
	viper.SetDefault("SESSION_STORE_PATH", "data/chat_sessions.json")

	if err := viper.ReadInConfig(); err != nil {
		if logger != nil {
			logger.Warn("Could not read config file, using defaults/env vars", zap.Error(err))
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		// Config unmarshaling is critical - fail fast during bootstrap
		if logger != nil {
			logger.Fatal("Unable to decode config into struct", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: Unable to decode config into struct: %v\n", err)
			os.Exit(1)
		}
	}

	// Normalize company name variants: lower-cased, no blanks
	variants := make([]string, 0, len(config.CompanyNameVariants)+1)
	seen := make(map[string]bool)
	for _, v := range append(config.CompanyNameVariants, config.CompanyName) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		variants = append(variants, v)
	}
	config.CompanyNameVariants = variants

	// Convert seconds/hours/minutes to proper time.Duration
	config.LLMRequestTimeout = config.LLMRequestTimeout * time.Second
	config.RetryDelaySeconds = config.RetryDelaySeconds * time.Second
	config.BackoffMaxSeconds = config.BackoffMaxSeconds * time.Second
	config.SessionTTL = config.SessionTTL * time.Hour
	config.SessionSweepInterval = config.SessionSweepInterval * time.Minute

	return &config
}
