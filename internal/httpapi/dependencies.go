package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"llm_chat/internal/attachments"
	"llm_chat/internal/auth"
	"llm_chat/internal/cache"
	"llm_chat/internal/config"
	"llm_chat/internal/credentials"
	"llm_chat/internal/effects"
	"llm_chat/internal/logging"
	"llm_chat/internal/providers"
	"llm_chat/internal/queue"
	"llm_chat/internal/ratelimit"
	"llm_chat/internal/routing"
	"llm_chat/internal/search"
	"llm_chat/internal/session"
	"llm_chat/internal/storage"
	"llm_chat/internal/streams"
	"llm_chat/internal/threads"
	"llm_chat/internal/titles"
	"llm_chat/internal/usage"
	"llm_chat/internal/utils"
)

// ChatClients creates upstream clients for resolved routes
type ChatClients interface {
	ClientFor(route routing.Route) (providers.ChatClient, error)
	MaxSteps() int
}

// ToolBuilder assembles the tools offered to a model
type ToolBuilder interface {
	CreateToolsConfig(modelKey string, mode providers.SearchMode, userID string, keys credentials.Keys) providers.ToolsConfig
}

// TitleQueue schedules title generation for new threads
type TitleQueue interface {
	Enqueue(ctx context.Context, job *titles.Job) error
}

// UsageRecorder accepts per-turn token usage and reports monthly totals
type UsageRecorder interface {
	Enqueue(ctx context.Context, u *usage.Update) error
	Monthly(ctx context.Context, userID string, year, month int) (*usage.Summary, error)
}

// HealthChecker is a backend probed by /health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// StateFactory returns the persistence adapter holding userID's keys and settings
type StateFactory func(w http.ResponseWriter, r *http.Request, userID string) session.Adapter

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Config      *config.Config
	Threads     *threads.Service
	Streams     streams.Manager
	Chat        ChatClients
	Tools       ToolBuilder
	Validator   credentials.Checker
	State       StateFactory
	Uploader    *attachments.Uploader
	Files       *attachments.MemoryStore // set when uploads are served by this process
	Titles      TitleQueue
	Usage       UsageRecorder
	TurnLog     logging.Sink
	Auth        *auth.Handler
	ChatLimiter ratelimit.Limiter
	KeyLimiter  ratelimit.Limiter
	Effects     *effects.Runner
	Health      map[string]HealthChecker

	closers []func(ctx context.Context) error
}

// NewDependencies builds every backend named by cfg. Redis-backed components
// fall back to in-process implementations when no Redis address is set.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	logger := utils.NewLogger("bootstrap")
	deps := &Dependencies{
		Config: cfg,
		Health: make(map[string]HealthChecker),
	}

	var redisClient *redis.Client
	if cfg.UseRedis() {
		rc, err := storage.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		redisClient = rc.Client()
		deps.Health["redis"] = rc
		deps.onClose(func(context.Context) error { return rc.Close() })
	} else {
		logger.Warn("No Redis address configured, using in-process cache, queue and pub/sub")
	}

	var repo storage.Repository
	switch cfg.StorageBackend {
	case "memory":
		repo = storage.NewMemoryRepository()
	default:
		db, err := storage.NewDB(cfg.Database)
		if err != nil {
			deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			deps.Close(ctx)
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		repo = db.NewRepository()
		deps.Health["database"] = db
		deps.onClose(func(context.Context) error { return db.Close() })
	}

	var store cache.Store
	if redisClient != nil {
		store = cache.NewRedisStore(redisClient)
		deps.Streams = streams.NewRedisManager(redisClient, cfg.Cache.StreamsTTL)
	} else {
		store = cache.NewMemoryStore(cfg.Cache.MemoryCapacity)
		deps.Streams = streams.NewMemoryManager(cfg.Cache.StreamsTTL)
	}
	deps.Threads = threads.NewService(repo, store, cfg.Cache)

	var blobs attachments.BlobStore
	if cfg.Attachments.S3Bucket != "" {
		s3Store, err := attachments.NewS3Store(ctx, cfg.Attachments)
		if err != nil {
			deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize attachment storage: %w", err)
		}
		blobs = s3Store
	} else {
		deps.Files = attachments.NewMemoryStore(cfg.Attachments.PublicURL + "/files")
		blobs = deps.Files
	}
	deps.Uploader = attachments.NewUploader(blobs, cfg.Attachments.MaxSizeBytes)

	factory := providers.NewFactory(cfg.Providers, nil)
	deps.Chat = factory
	deps.Tools = providers.NewToolFactory(search.NewClient(cfg.Search, nil), blobs, cfg.Providers.OpenAIBaseURL, nil)
	deps.Validator = credentials.NewValidator(credentials.Endpoints{
		OpenAI:     cfg.Providers.OpenAIBaseURL,
		Anthropic:  cfg.Providers.AnthropicBaseURL,
		Google:     cfg.Providers.GoogleBaseURL,
		OpenRouter: cfg.Providers.OpenRouterBaseURL,
	}, nil, cfg.Providers.ValidationTimeout)
	deps.State = NewStateFactory(cfg, redisClient)

	worker, err := newTitleWorker(cfg, factory, redisClient, deps.Threads)
	if err != nil {
		deps.Close(ctx)
		return nil, err
	}
	worker.Start(context.Background())
	deps.Titles = worker
	deps.onClose(func(context.Context) error { return worker.Stop() })

	usageWorker := newUsageWorker(cfg, redisClient)
	usageWorker.Start(context.Background())
	deps.Usage = usageWorker
	deps.onClose(func(context.Context) error { return usageWorker.Stop() })

	var turnWriter logging.BatchWriter = logging.NewLogWriter()
	if cfg.TurnLog.S3Bucket != "" {
		s3Writer, err := logging.NewS3Writer(ctx, cfg.TurnLog)
		if err != nil {
			deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize turn log: %w", err)
		}
		turnWriter = s3Writer
	}
	turnLog := logging.NewBatchSink(turnWriter, cfg.TurnLog)
	deps.TurnLog = turnLog
	deps.onClose(turnLog.Close)

	deps.Auth = auth.NewHandler(cfg.Auth, auth.NewGoogleVerifier(cfg.Auth.GoogleClientID))
	deps.ChatLimiter = ratelimit.New(redisClient, "chat", cfg.RateLimit.ChatPerMinute)
	deps.KeyLimiter = ratelimit.New(redisClient, "keys", cfg.RateLimit.ValidationPerMinute)

	deps.Effects = effects.NewRunner(10 * time.Second)
	deps.onClose(deps.Effects.Close)

	return deps, nil
}

func newTitleWorker(cfg *config.Config, factory *providers.Factory, client *redis.Client, titler titles.Titler) (*titles.Worker, error) {
	qcfg := queue.DefaultConfig("titles")
	qcfg.BatchSize = cfg.Titles.BatchSize
	qcfg.BatchTimeout = cfg.Titles.BatchTimeout
	qcfg.MaxRetries = cfg.Titles.MaxRetries
	qcfg.RetryBackoff = cfg.Titles.RetryBackoff
	q, dlq := queue.New(qcfg, client)

	var generator titles.Generator = titles.HeuristicGenerator{}
	if cfg.Titles.OpenRouterAPIKey != "" {
		mg, err := titles.NewModelGenerator(factory, cfg.Titles)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize title generator: %w", err)
		}
		generator = mg
	}

	return titles.NewWorker(q, dlq, generator, titler, qcfg), nil
}

func newUsageWorker(cfg *config.Config, client *redis.Client) *usage.Worker {
	qcfg := queue.DefaultConfig("usage")
	qcfg.BatchSize = cfg.Usage.BatchSize
	qcfg.BatchTimeout = cfg.Usage.BatchTimeout
	qcfg.MaxRetries = cfg.Usage.MaxRetries
	qcfg.RetryBackoff = cfg.Usage.RetryBackoff
	q, dlq := queue.New(qcfg, client)

	var tracker usage.Tracker = usage.NewMemoryTracker()
	if client != nil {
		tracker = usage.NewRedisTracker(client, cfg.Usage.Retention)
	}
	return usage.NewWorker(q, dlq, tracker, qcfg)
}

// NewStateFactory picks where keys and settings live: browser cookies, a
// per-user Redis hash, or process memory.
func NewStateFactory(cfg *config.Config, client *redis.Client) StateFactory {
	if cfg.StateBackend == "cookie" {
		opts := session.CookieOptions{Secure: cfg.Auth.CookieSecure}
		return func(w http.ResponseWriter, r *http.Request, userID string) session.Adapter {
			return session.NewCookieAdapter(w, r, opts)
		}
	}
	if client != nil {
		return func(w http.ResponseWriter, r *http.Request, userID string) session.Adapter {
			return session.NewRedisAdapter(client, userID, session.DefaultMaxAge)
		}
	}
	registry := session.NewMemoryRegistry()
	return func(w http.ResponseWriter, r *http.Request, userID string) session.Adapter {
		return registry.For(userID)
	}
}

func (d *Dependencies) onClose(fn func(ctx context.Context) error) {
	d.closers = append(d.closers, fn)
}

// Close releases backends in reverse order of creation
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
