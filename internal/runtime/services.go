// Package runtime assembles the process from configuration: database,
// optional Redis, blob backend, collaborator adapters, core services,
// worker and janitor. main starts and stops what this package builds.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/drafterhq/drafter-core/internal/adapters/driven/blob"
	"github.com/drafterhq/drafter-core/internal/adapters/driven/classify"
	"github.com/drafterhq/drafter-core/internal/adapters/driven/docparse"
	"github.com/drafterhq/drafter-core/internal/adapters/driven/generate"
	"github.com/drafterhq/drafter-core/internal/adapters/driven/postgres"
	redisadapter "github.com/drafterhq/drafter-core/internal/adapters/driven/redis"
	"github.com/drafterhq/drafter-core/internal/config"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
	"github.com/drafterhq/drafter-core/internal/core/ports/driving"
	"github.com/drafterhq/drafter-core/internal/core/services"
	"github.com/drafterhq/drafter-core/internal/worker"
)

// Services is the assembled dependency graph. Fields are wired once by New
// and read-only afterwards.
type Services struct {
	Config *config.Config
	Logger *slog.Logger

	DB    *postgres.DB
	Redis *redis.Client // nil when REDIS_URL is unset
	Blobs driven.BlobStore

	// Driving surface for an embedding transport layer.
	Templates driving.TemplateService
	Documents driving.DocumentService
	Jobs      driving.JobService

	Pipeline *services.Pipeline
	Worker   *worker.Worker
	Janitor  *services.Janitor // nil when disabled

	closers []func() error
}

// New connects the infrastructure and wires every service. On error,
// everything already connected is torn down before returning.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{Config: cfg, Logger: logger}

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s.DB = db
	s.onClose(db.Close)

	if err := db.InitSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	logger.Info("postgres connected, schema initialized")

	jobStore := postgres.NewJobStore(db, cfg.Lease)
	templateStore := postgres.NewTemplateStore(db)
	documentStore := postgres.NewDocumentStore(db)
	auditStore := postgres.NewAuditStore(db)

	// Redis carries wake-up notifications and the janitor lock. Without it
	// the system stays correct: workers poll and the janitor falls back to
	// the Postgres advisory lock.
	var notifier driven.JobNotifier
	var lock driven.DistributedLock = postgres.NewAdvisoryLock(db)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			s.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s.Redis = client
		s.onClose(client.Close)

		n := redisadapter.NewNotifier(client)
		s.onClose(n.Close)
		notifier = n
		lock = redisadapter.NewLock(client)
		logger.Info("redis connected", "lock", "redis")
	} else {
		logger.Info("redis disabled, workers rely on polling", "lock", "postgres advisory")
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Blobs = blobs
	logger.Info("blob store ready", "backend", cfg.BlobBackend)

	parser := docparse.NewParser()

	classifier, err := newClassifier(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.onClose(classifier.Close)

	generator, err := s.newGenerator(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	assembler := services.NewAssembler(services.AssemblerConfig{
		Templates:         templateStore,
		Documents:         documentStore,
		Blobs:             blobs,
		Generator:         generator,
		Logger:            logger,
		GenerationTimeout: cfg.GenerationTimeout,
		MaxOutputChars:    cfg.MaxOutputChars,
	})

	s.Pipeline = services.NewPipeline(services.PipelineConfig{
		Templates:  templateStore,
		Blobs:      blobs,
		Parser:     parser,
		Classifier: classifier,
		Assembler:  assembler,
		Audit:      auditStore,
		Notifier:   notifier,
		Logger:     logger,
	})

	s.Templates = services.NewTemplateService(templateStore, blobs, auditStore, notifier, logger)
	s.Documents = services.NewDocumentService(documentStore, templateStore, jobStore, blobs, auditStore, notifier, logger)
	s.Jobs = services.NewJobService(jobStore, auditStore, notifier, logger)

	w := worker.NewWorker(worker.WorkerConfig{
		Jobs:         jobStore,
		Notifier:     notifier,
		Logger:       logger,
		WorkerID:     cfg.WorkerID,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.PollInterval,
		ClaimTimeout: cfg.ClaimTimeout,
		Lease:        cfg.Lease,
		Heartbeat:    cfg.Heartbeat,
	})
	for jobType, handler := range s.Pipeline.Handlers() {
		w.Register(jobType, handler)
	}
	s.Worker = w

	if cfg.JanitorEnabled {
		s.Janitor = services.NewJanitor(services.JanitorConfig{
			Jobs:         jobStore,
			Templates:    templateStore,
			Lock:         lock,
			Logger:       logger,
			Interval:     cfg.JanitorInterval,
			Retention:    cfg.JobRetention,
			ReplayWindow: cfg.ReplayWindow,
		})
	}

	return s, nil
}

// Close tears down every connected resource, newest first.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Logger.Warn("close failed during shutdown", "error", err)
		}
	}
	s.closers = nil
}

func (s *Services) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// newBlobStore selects the blob backend from configuration.
func newBlobStore(ctx context.Context, cfg *config.Config) (driven.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendFS:
		store, err := blob.NewFS(cfg.BlobFSRoot)
		if err != nil {
			return nil, fmt.Errorf("filesystem blob store: %w", err)
		}
		return store, nil
	case config.BlobBackendGCS:
		store, err := blob.NewGCS(ctx, cfg.BlobGCSBucket, cfg.BlobGCSPrefix)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	case config.BlobBackendMemory:
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// newClassifier builds the section classifier. The Gemini pass is enabled
// only when configured on and a key is present; otherwise classification
// runs rules-only.
func newClassifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*classify.Classifier, error) {
	apiKey := ""
	if cfg.LLMClassifyEnabled {
		apiKey = cfg.GeminiAPIKey
		if apiKey == "" {
			logger.Warn("LLM_CLASSIFY_ENABLED is set but GEMINI_API_KEY is empty, classification runs rules-only")
		}
	}
	classifier, err := classify.NewClassifier(ctx, classify.Config{
		APIKey:    apiKey,
		Model:     cfg.GeminiModel,
		Threshold: cfg.LLMConfidenceThreshold,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("section classifier: %w", err)
	}
	return classifier, nil
}

// newGenerator builds the content generator: Gemini when a key is
// configured, the deterministic development generator otherwise.
func (s *Services) newGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (driven.ContentGenerator, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is empty, using the deterministic content generator")
		return generate.NewDeterministic(), nil
	}
	g, err := generate.NewGenerator(ctx, generate.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("content generator: %w", err)
	}
	s.onClose(g.Close)
	return g, nil
}
