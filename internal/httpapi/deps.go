package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"costshield/internal/auth"
	"costshield/internal/logging"
	"costshield/internal/models"
	"costshield/internal/queue"
	"costshield/internal/recorder"
	"costshield/internal/relay"
	"costshield/internal/storage"
	"costshield/internal/tokens"
)

// Authenticator resolves Authorization headers into identities
type Authenticator interface {
	Authenticate(ctx context.Context, authorizationHeader string) (*auth.Identity, error)
}

// TokenCounter estimates prompt tokens before the request is admitted
type TokenCounter interface {
	CountMessages(messages []tokens.Message, model string) (int, error)
}

// PricingModel turns token counts into USD
type PricingModel interface {
	Estimate(ctx context.Context, modelName string, inputTokens, maxOutputTokens int) (float64, error)
	Settle(ctx context.Context, modelName string, inputTokens, outputTokens int) (float64, error)
}

// BudgetLedger admits or rejects requests against budgets
type BudgetLedger interface {
	Reserve(ctx context.Context, accountID uuid.UUID, budgetID *uuid.UUID, estimatedCost float64) error
}

// KeyVault decrypts stored upstream credentials
type KeyVault interface {
	Decrypt(ciphertextBase64 string) (string, error)
}

// UpstreamKeyStore looks up the upstream credential for an account
type UpstreamKeyStore interface {
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.UpstreamCredential, error)
}

// Relay forwards requests to the upstream provider
type Relay interface {
	Forward(ctx context.Context, method, path string, body []byte, bearer string, stream bool) (*relay.Response, error)
}

// UsageRecorder persists usage records asynchronously
type UsageRecorder interface {
	Record(ctx context.Context, record *models.UsageRecord) error
	TouchLastUsed(ctx context.Context, credentialID uuid.UUID, usedAt time.Time)
}

// AuditSink receives one audit entry per proxied request
type AuditSink interface {
	Log(entry logging.AuditEntry)
}

// HealthChecker reports backing store health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Auth         Authenticator
	Tokens       TokenCounter
	Pricing      PricingModel
	Ledger       BudgetLedger
	Vault        KeyVault
	UpstreamKeys UpstreamKeyStore
	Relay        Relay
	Recorder     UsageRecorder
	Audit        AuditSink
	Health       HealthChecker

	// DB is the backing store, owned here for shutdown
	DB *storage.DB
	// Worker is the recorder worker, owned here for shutdown
	Worker *recorder.Worker
	// AuditLogger is the concrete audit logger, owned here for shutdown
	AuditLogger *logging.AuditLogger
	// UsageQueue is closed on shutdown after the worker drains
	UsageQueue queue.Queue
}

// Shutdown stops background work in dependency order: the worker drains
// into the database, then the queue, audit log and database close.
func (d *Dependencies) Shutdown() {
	if d.Worker != nil {
		_ = d.Worker.Stop()
	}
	if d.UsageQueue != nil {
		_ = d.UsageQueue.Close()
	}
	if d.AuditLogger != nil {
		d.AuditLogger.Shutdown()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// newRequestID returns a UUID request ID for tracing
func newRequestID() uuid.UUID {
	return uuid.New()
}

// writeJSONError writes a flat JSON error body
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
