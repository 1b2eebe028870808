package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Embedding providers
const (
	EmbeddingVoyage = "voyage"
	EmbeddingOpenAI = "openai"
)

// Config holds all daemon configuration loaded from environment variables.
type Config struct {
	// Environment
	Env      string // "development", "production", etc.
	LogLevel string

	// Server
	ServerAddr      string
	ShutdownTimeout time.Duration

	// Store
	StoreBackend  string // memory, postgres or redis; inferred from the URLs when unset
	DatabaseURL   string
	RedisURL      string
	RunMigrations bool

	// Pinecone. The similarity tier scans the store when PineconeHost is empty.
	PineconeAPIKey    string
	PineconeHost      string
	PineconeNamespace string

	// Embedding
	EmbeddingProvider    string
	VoyageAPIKey         string
	VoyageModel          string
	OpenAIAPIKey         string
	OpenAIEmbeddingModel string
	EmbeddingDimensions  int

	// Classifier (any OpenAI-compatible chat completions host)
	ClassifierAPIKey       string
	ClassifierBaseURL      string
	ClassifierModel        string
	ClassifierTemperature  float64 // negative leaves it to the host
	ClassifierJSONObject   bool
	ClassifierDumpRequests bool

	// Resolver
	MinSimilarity  float64
	ResolveTimeout time.Duration

	// Jobs
	Workers               int
	QueueSize             int
	IngredientConcurrency int
	JobTimeout            time.Duration
	JobTTL                time.Duration // 0 keeps jobs forever
	SweepInterval         time.Duration

	// Seed
	SeedOnStart bool
	SeedFile    string
}

// Load reads configuration from the environment, after loading a .env file
// when one exists, and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ServerAddr:      getEnv("SERVER_ADDR", ":8080"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", "")),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		RunMigrations: getEnvAsBool("RUN_MIGRATIONS", true),

		PineconeAPIKey:    getEnv("PINECONE_API_KEY", ""),
		PineconeHost:      getEnv("PINECONE_HOST", ""),
		PineconeNamespace: getEnv("PINECONE_NAMESPACE", "ingredients"),

		EmbeddingProvider:    strings.ToLower(getEnv("EMBEDDING_PROVIDER", EmbeddingVoyage)),
		VoyageAPIKey:         getEnv("VOYAGE_API_KEY", ""),
		VoyageModel:          getEnv("VOYAGE_MODEL", ""),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", ""),
		EmbeddingDimensions:  getEnvAsInt("EMBEDDING_DIMENSIONS", 0),

		ClassifierAPIKey:       getEnv("CLASSIFIER_API_KEY", getEnv("OPENAI_API_KEY", "")),
		ClassifierBaseURL:      getEnv("CLASSIFIER_BASE_URL", ""),
		ClassifierModel:        getEnv("CLASSIFIER_MODEL", ""),
		ClassifierTemperature:  getEnvAsFloat("CLASSIFIER_TEMPERATURE", 0),
		ClassifierJSONObject:   getEnvAsBool("CLASSIFIER_JSON_OBJECT", false),
		ClassifierDumpRequests: getEnvAsBool("CLASSIFIER_DUMP_REQUESTS", false),

		MinSimilarity:  getEnvAsFloat("MIN_SIMILARITY", 0.85),
		ResolveTimeout: getEnvAsDuration("RESOLVE_TIMEOUT", 2*time.Minute),

		Workers:               getEnvAsInt("JOB_WORKERS", 4),
		QueueSize:             getEnvAsInt("JOB_QUEUE_SIZE", 256),
		IngredientConcurrency: getEnvAsInt("JOB_INGREDIENT_CONCURRENCY", 8),
		JobTimeout:            getEnvAsDuration("JOB_TIMEOUT", 3*time.Minute),
		JobTTL:                getEnvAsDuration("JOB_TTL", 0),
		SweepInterval:         getEnvAsDuration("JOB_SWEEP_INTERVAL", time.Minute),

		SeedOnStart: getEnvAsBool("SEED_ON_START", false),
		SeedFile:    getEnv("SEED_FILE", ""),
	}

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = inferStoreBackend(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func inferStoreBackend(cfg *Config) string {
	switch {
	case cfg.DatabaseURL != "":
		return StorePostgres
	case cfg.RedisURL != "":
		return StoreRedis
	default:
		return StoreMemory
	}
}

// Validate checks the combinations Load cannot default away
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("STORE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.EmbeddingProvider {
	case EmbeddingVoyage, EmbeddingOpenAI:
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}

	if c.MinSimilarity <= 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("MIN_SIMILARITY must be in (0, 1], got %v", c.MinSimilarity)
	}
	if c.Workers <= 0 || c.QueueSize <= 0 || c.IngredientConcurrency <= 0 {
		return fmt.Errorf("job worker, queue and concurrency settings must be positive")
	}
	if c.PineconeHost != "" && c.PineconeAPIKey == "" {
		return fmt.Errorf("PINECONE_HOST is set but PINECONE_API_KEY is empty")
	}
	return nil
}

// IsDev returns true if the environment is set to development.
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// UsePinecone reports whether similarity search goes to Pinecone
func (c *Config) UsePinecone() bool {
	return c.PineconeHost != ""
}

// SlogLevel maps LOG_LEVEL onto slog levels, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
