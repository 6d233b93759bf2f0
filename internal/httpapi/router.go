package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"costshield/internal/auth"
	"costshield/internal/config"
	"costshield/internal/ledger"
	"costshield/internal/logging"
	"costshield/internal/models"
	"costshield/internal/pricing"
	"costshield/internal/queue"
	"costshield/internal/recorder"
	"costshield/internal/relay"
	"costshield/internal/storage"
	"costshield/internal/tokens"
	"costshield/internal/vault"
)

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		URL:                 cfg.Database.URL,
		MaxOpenConns:        cfg.Database.MaxOpenConns,
		MaxIdleConns:        cfg.Database.MaxIdleConns,
		ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     cfg.Database.ConnMaxIdleTime,
		CredentialCacheSize: cfg.Cache.CredentialCacheSize,
		CredentialCacheTTL:  cfg.Cache.CredentialCacheTTL,
		PricingCacheSize:    cfg.Cache.PricingCacheSize,
		PricingCacheTTL:     cfg.Cache.PricingCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	keyVault, err := vault.New(cfg.Vault.MasterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	credentialRepo := db.NewCredentialRepository()
	upstreamKeyRepo := db.NewUpstreamKeyRepository()
	budgetRepo := db.NewBudgetRepository()
	pricingRepo := db.NewPricingRepository()
	usageRepo := db.NewUsageRepository()

	// Usage queue: Redis when configured, in-memory otherwise
	queueCfg := queue.DefaultConfig("usage")
	queueCfg.BatchSize = cfg.Recorder.BatchSize
	queueCfg.BatchTimeout = cfg.Recorder.BatchTimeout
	queueCfg.MaxRetries = cfg.Recorder.MaxRetries
	queueCfg.RetryBackoff = cfg.Recorder.RetryBackoff
	queueCfg.UseRedis = cfg.Redis.Enabled

	var usageQueue queue.Queue
	var usageDLQ queue.DeadLetterQueue
	if cfg.Redis.Enabled {
		queueCfg.RedisAddr = cfg.Redis.Address
		queueCfg.RedisPassword = cfg.Redis.Password
		queueCfg.RedisDB = cfg.Redis.DB

		usageQueue, err = queue.NewRedisQueue(queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create usage queue: %w", err)
		}
		usageDLQ, err = queue.NewRedisDeadLetterQueue(queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create usage DLQ: %w", err)
		}
	} else {
		usageQueue = queue.NewMemoryQueue(queueCfg)
		usageDLQ = queue.NewMemoryDeadLetterQueue()
	}

	// Optional S3 archive for persisted usage batches
	var archive recorder.Archive
	if cfg.Archive.Enabled {
		s3Archive, err := recorder.NewS3Archive(context.Background(),
			cfg.Archive.Bucket, cfg.Archive.Region, cfg.Archive.Prefix, cfg.Archive.PodName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create usage archive: %w", err)
		}
		archive = s3Archive
	}

	worker := recorder.NewWorker(usageQueue, usageDLQ, &recorderStore{
		usage:       usageRepo,
		credentials: credentialRepo,
	}, archive, queueCfg)
	worker.Start(context.Background())

	auditLogger, err := logging.NewAuditLogger(
		cfg.Audit.FilePathTemplate,
		cfg.Audit.MaxSize,
		cfg.Audit.MaxFiles,
		cfg.Audit.BufferSize,
		cfg.Audit.FlushInterval,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	deps := &Dependencies{
		Auth:         auth.NewAuthenticator(credentialRepo),
		Tokens:       tokens.NewEstimator(),
		Pricing:      pricing.NewModel(pricingRepo),
		Ledger:       ledger.New(budgetRepo, usageRepo, cfg.Ledger.DefaultCeilingUSD),
		Vault:        keyVault,
		UpstreamKeys: upstreamKeyRepo,
		Relay:        relay.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout),
		Recorder:     worker,
		Audit:        auditLogger,
		Health:       db,
		DB:           db,
		Worker:       worker,
		AuditLogger:  auditLogger,
		UsageQueue:   usageQueue,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return mux, deps, nil
}

// recorderStore adapts the repositories to the recorder's Store interface
type recorderStore struct {
	usage       *storage.UsageRepository
	credentials *storage.CredentialRepository
}

func (s *recorderStore) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	return s.usage.CreateBatch(ctx, records)
}

func (s *recorderStore) TouchLastUsed(ctx context.Context, credentialID uuid.UUID, usedAt time.Time) error {
	return s.credentials.TouchLastUsed(ctx, credentialID, usedAt)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Proxy everything under /v1/ to the upstream
	mux.HandleFunc("/v1/", deps.handleProxy)

	// Health check endpoint - public
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Health(r.Context()); err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, "unhealthy")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}
