package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the chat server.
type Config struct {
	HTTPPort       string
	AllowedOrigins []string
	StorageBackend string // "postgres" or "memory"
	StateBackend   string // "server" or "cookie"; where keys and settings persist

	Auth        AuthConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Cache       CacheConfig
	Providers   ProvidersConfig
	Search      SearchConfig
	Attachments AttachmentsConfig
	Titles      TitlesConfig
	RateLimit   RateLimitConfig
	Usage       UsageConfig
	TurnLog     TurnLogConfig
}

// AuthConfig holds session token settings
type AuthConfig struct {
	JWTSecret      []byte
	TokenTTL       time.Duration
	GoogleClientID string
	DevLogin       bool // enables POST /api/auth/dev
	CookieSecure   bool
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings. An empty Address selects
// in-memory cache, queue and pub/sub backends.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CacheConfig holds TTLs of the denormalized read replicas
type CacheConfig struct {
	ThreadTTL         time.Duration
	BranchedThreadTTL time.Duration
	ThreadListTTL     time.Duration
	StreamsTTL        time.Duration
	PartialShareTTL   time.Duration
	MemoryCapacity    int
}

// ProvidersConfig holds upstream base URLs and timeouts. Base URLs are
// overridable so tests and self-hosted proxies can stand in for vendors.
type ProvidersConfig struct {
	OpenAIBaseURL     string
	AnthropicBaseURL  string
	GoogleBaseURL     string
	OpenRouterBaseURL string
	ValidationTimeout time.Duration
	RequestTimeout    time.Duration
	MaxToolSteps      int
}

// SearchConfig holds web search tool settings
type SearchConfig struct {
	BraveAPIKey  string
	BraveBaseURL string
	ResultCount  int
}

// AttachmentsConfig holds blob storage settings
type AttachmentsConfig struct {
	S3Bucket     string
	S3Region     string
	S3Prefix     string
	S3Endpoint   string // optional, for S3-compatible stores such as Minio
	PublicURL    string // base URL objects are served from
	MaxSizeBytes int64
}

// TitlesConfig holds settings of the title generation worker
type TitlesConfig struct {
	OpenRouterAPIKey string
	Model            string
	BatchSize        int
	BatchTimeout     time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
}

// RateLimitConfig holds per-user request limits (requests per minute)
type RateLimitConfig struct {
	ChatPerMinute       int
	ValidationPerMinute int
}

// UsageConfig holds settings of the token usage worker
type UsageConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Retention    time.Duration // how long monthly counters are kept
}

// TurnLogConfig holds settings of the chat turn log. An empty S3Bucket
// writes records to the process log instead.
type TurnLogConfig struct {
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	S3Endpoint    string
	PodName       string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "":
		return defaultValue
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	backend := strings.ToLower(getEnvString("STORAGE_BACKEND", "postgres"))
	if backend != "postgres" && backend != "memory" {
		return nil, fmt.Errorf("STORAGE_BACKEND must be postgres or memory, got %q", backend)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if backend == "postgres" && dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	state := strings.ToLower(getEnvString("STATE_BACKEND", "server"))
	if state != "server" && state != "cookie" {
		return nil, fmt.Errorf("STATE_BACKEND must be server or cookie, got %q", state)
	}

	cfg := &Config{
		HTTPPort:       getEnvString("HTTP_PORT", "8080"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		StorageBackend: backend,
		StateBackend:   state,
		Auth: AuthConfig{
			JWTSecret:      []byte(getEnvString("JWT_SECRET", "supersecretkey")),
			TokenTTL:       getEnvDuration("AUTH_TOKEN_TTL", 30*24*time.Hour),
			GoogleClientID: getEnvString("GOOGLE_CLIENT_ID", ""),
			DevLogin:       getEnvBool("AUTH_DEV_LOGIN", false),
			CookieSecure:   getEnvBool("AUTH_COOKIE_SECURE", true),
		},
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Cache: CacheConfig{
			ThreadTTL:         getEnvDuration("CACHE_THREAD_TTL", 30*time.Second),
			BranchedThreadTTL: getEnvDuration("CACHE_BRANCHED_THREAD_TTL", 120*time.Second),
			ThreadListTTL:     getEnvDuration("CACHE_THREAD_LIST_TTL", 300*time.Second),
			StreamsTTL:        getEnvDuration("CACHE_STREAMS_TTL", 86400*time.Second),
			PartialShareTTL:   getEnvDuration("CACHE_PARTIAL_SHARE_TTL", 7*24*time.Hour),
			MemoryCapacity:    getEnvInt("CACHE_MEMORY_CAPACITY", 10000),
		},
		Providers: ProvidersConfig{
			OpenAIBaseURL:     getEnvString("OPENAI_BASE_URL", "https://api.openai.com"),
			AnthropicBaseURL:  getEnvString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			GoogleBaseURL:     getEnvString("GOOGLE_BASE_URL", "https://generativelanguage.googleapis.com"),
			OpenRouterBaseURL: getEnvString("OPENROUTER_BASE_URL", "https://openrouter.ai"),
			ValidationTimeout: getEnvDuration("PROVIDER_VALIDATION_TIMEOUT", 10*time.Second),
			RequestTimeout:    getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 5*time.Minute),
			MaxToolSteps:      getEnvInt("PROVIDER_MAX_TOOL_STEPS", 5),
		},
		Search: SearchConfig{
			BraveAPIKey:  getEnvString("BRAVE_API_KEY", ""),
			BraveBaseURL: getEnvString("BRAVE_BASE_URL", "https://api.search.brave.com/res/v1"),
			ResultCount:  getEnvInt("SEARCH_RESULT_COUNT", 5),
		},
		Attachments: AttachmentsConfig{
			S3Bucket:     getEnvString("ATTACHMENTS_S3_BUCKET", ""),
			S3Region:     getEnvString("ATTACHMENTS_S3_REGION", "us-east-1"),
			S3Prefix:     getEnvString("ATTACHMENTS_S3_PREFIX", "attachments/"),
			S3Endpoint:   getEnvString("ATTACHMENTS_S3_ENDPOINT", ""),
			PublicURL:    getEnvString("ATTACHMENTS_PUBLIC_URL", ""),
			MaxSizeBytes: getEnvInt64("ATTACHMENTS_MAX_SIZE", 10<<20), // default 10 MiB
		},
		Titles: TitlesConfig{
			OpenRouterAPIKey: getEnvString("TITLES_OPENROUTER_API_KEY", ""),
			Model:            getEnvString("TITLES_MODEL", "openai/gpt-4.1-nano"),
			BatchSize:        getEnvInt("TITLES_BATCH_SIZE", 10),
			BatchTimeout:     getEnvDuration("TITLES_BATCH_TIMEOUT", 2*time.Second),
			MaxRetries:       getEnvInt("TITLES_MAX_RETRIES", 3),
			RetryBackoff:     getEnvDuration("TITLES_RETRY_BACKOFF", 1*time.Second),
		},
		RateLimit: RateLimitConfig{
			ChatPerMinute:       getEnvInt("RATE_LIMIT_CHAT_PER_MINUTE", 30),
			ValidationPerMinute: getEnvInt("RATE_LIMIT_VALIDATION_PER_MINUTE", 10),
		},
		Usage: UsageConfig{
			BatchSize:    getEnvInt("USAGE_BATCH_SIZE", 50),
			BatchTimeout: getEnvDuration("USAGE_BATCH_TIMEOUT", 2*time.Second),
			MaxRetries:   getEnvInt("USAGE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_RETRY_BACKOFF", 500*time.Millisecond),
			Retention:    getEnvDuration("USAGE_RETENTION", 60*24*time.Hour),
		},
		TurnLog: TurnLogConfig{
			S3Bucket:      getEnvString("TURN_LOG_S3_BUCKET", ""),
			S3Region:      getEnvString("TURN_LOG_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("TURN_LOG_S3_PREFIX", "turns/"),
			S3Endpoint:    getEnvString("TURN_LOG_S3_ENDPOINT", ""),
			PodName:       getEnvString("POD_NAME", "chat-0"),
			BufferSize:    getEnvInt("TURN_LOG_BUFFER_SIZE", 1000),
			BatchSize:     getEnvInt("TURN_LOG_BATCH_SIZE", 100),
			FlushInterval: getEnvDuration("TURN_LOG_FLUSH_INTERVAL", 30*time.Second),
		},
	}

	if cfg.Cache.BranchedThreadTTL < cfg.Cache.ThreadTTL {
		return nil, fmt.Errorf("CACHE_BRANCHED_THREAD_TTL (%s) must not be shorter than CACHE_THREAD_TTL (%s)",
			cfg.Cache.BranchedThreadTTL, cfg.Cache.ThreadTTL)
	}

	return cfg, nil
}

// UseRedis reports whether a Redis address is configured
func (c *Config) UseRedis() bool {
	return c.Redis.Address != ""
}
