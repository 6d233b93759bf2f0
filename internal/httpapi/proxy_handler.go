package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"costshield/internal/auth"
	"costshield/internal/ledger"
	"costshield/internal/logging"
	"costshield/internal/models"
	"costshield/internal/relay"
	"costshield/internal/storage"
	"costshield/internal/tokens"
	"costshield/internal/vault"
)

const (
	defaultModel     = "gpt-3.5-turbo"
	defaultMaxTokens = 4096
)

// handleProxy fronts the upstream API under /v1/.
//
// Flow for POST:
//  1. Authenticate via Bearer proxy key
//  2. Decode JSON body, apply model/max_tokens defaults
//  3. Count prompt tokens
//  4. Price the worst case and reserve it against the budget
//  5. Decrypt the account's upstream credential
//  6. Forward upstream (buffered or streaming)
//  7. Settle against observed usage and record
//
// GET requests skip estimation and admission and pass straight through
// with the decrypted credential.
func (d *Dependencies) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := newRequestID()
	ctx := r.Context()

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// 1. Auth via "Authorization: Bearer <key>". Every failure mode gets
	// the same 401.
	identity, err := d.Auth.Authenticate(ctx, r.Header.Get("Authorization"))
	if err != nil {
		d.audit(logging.AuditEntry{
			RequestID:  reqID.String(),
			Method:     r.Method,
			Endpoint:   r.URL.Path,
			StatusCode: http.StatusUnauthorized,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      "unauthenticated",
		})
		writeJSONError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	if r.Method == http.MethodGet {
		d.handlePassthrough(w, r, identity, reqID, start)
		return
	}

	// 2. Decode request body. The raw bytes are forwarded verbatim;
	// defaults apply to estimation only.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		d.fail(w, r, identity, reqID, start, "", http.StatusBadRequest, "failed to read request body")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		d.fail(w, r, identity, reqID, start, "", http.StatusBadRequest, "invalid JSON body")
		return
	}

	modelName, _ := payload["model"].(string)
	if modelName == "" {
		modelName = defaultModel
	}
	isStreaming, _ := payload["stream"].(bool)

	maxTokens := defaultMaxTokens
	if v, ok := payload["max_tokens"].(float64); ok && v > 0 {
		maxTokens = int(v)
	}

	// 3. Count prompt tokens
	messages := tokens.MessagesFromPayload(payload["messages"])
	inputTokens, err := d.Tokens.CountMessages(messages, modelName)
	if err != nil {
		d.fail(w, r, identity, reqID, start, modelName, http.StatusInternalServerError, "failed to estimate request size")
		return
	}

	// 4. Price the worst case and reserve it. The reservation is final;
	// settlement only adjusts what gets recorded.
	estimate, err := d.Pricing.Estimate(ctx, modelName, inputTokens, maxTokens)
	if err != nil {
		d.fail(w, r, identity, reqID, start, modelName, http.StatusInternalServerError, "unable to price model")
		return
	}

	if err := d.Ledger.Reserve(ctx, identity.AccountID, identity.BudgetID, estimate); err != nil {
		if errors.Is(err, ledger.ErrBudgetExceeded) {
			d.fail(w, r, identity, reqID, start, modelName, http.StatusTooManyRequests, "budget exceeded")
		} else {
			d.fail(w, r, identity, reqID, start, modelName, http.StatusInternalServerError, "internal error")
		}
		return
	}

	// 5. Decrypt the account's upstream credential. The reservation has
	// already been charged, so the estimate is what gets recorded.
	apiKey, status, msg := d.upstreamKey(ctx, identity)
	if msg != "" {
		d.record(identity, reqID, modelName, r.URL.Path, inputTokens, 0, estimate, status, start, msg)
		d.auditRequest(identity, reqID, r, modelName, isStreaming, status, start, msg)
		writeJSONError(w, status, msg)
		return
	}

	// 6. Forward upstream
	resp, err := d.Relay.Forward(ctx, http.MethodPost, r.URL.Path, body, apiKey, isStreaming)
	if err != nil {
		// Admitted but never answered; the reservation stands
		d.record(identity, reqID, modelName, r.URL.Path, inputTokens, 0, estimate,
			http.StatusBadGateway, start, "upstream request failed")
		d.auditRequest(identity, reqID, r, modelName, isStreaming, http.StatusBadGateway, start, "upstream request failed")
		writeJSONError(w, http.StatusBadGateway, "upstream request failed")
		return
	}

	// 7. Relay the response and settle
	if isStreaming && resp.Stream != nil {
		d.handleStreamingResponse(w, resp, identity, reqID, r, modelName, inputTokens, estimate, start)
	} else {
		d.handleBufferedResponse(w, resp, identity, reqID, r, modelName, isStreaming, inputTokens, estimate, start)
	}
}

// handleBufferedResponse relays a non-streaming upstream answer verbatim
func (d *Dependencies) handleBufferedResponse(
	w http.ResponseWriter,
	resp *relay.Response,
	identity *auth.Identity,
	reqID uuid.UUID,
	r *http.Request,
	modelName string,
	isStreaming bool,
	inputTokens int,
	estimate float64,
	start time.Time,
) {
	cost, promptTokens, completionTokens := d.settle(modelName, resp.Usage, inputTokens, estimate)

	errMsg := ""
	if resp.StatusCode != http.StatusOK {
		errMsg = "upstream error"
		completionTokens = 0
	}

	// The response goes out before accounting; recording never delays the
	// caller.
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)

	d.record(identity, reqID, modelName, r.URL.Path, promptTokens, completionTokens, cost,
		resp.StatusCode, start, errMsg)
	d.auditRequest(identity, reqID, r, modelName, isStreaming, resp.StatusCode, start, errMsg)
}

// handleStreamingResponse relays SSE events as they arrive, then settles
// with whatever usage the stream reported
func (d *Dependencies) handleStreamingResponse(
	w http.ResponseWriter,
	resp *relay.Response,
	identity *auth.Identity,
	reqID uuid.UUID,
	r *http.Request,
	modelName string,
	inputTokens int,
	estimate float64,
	start time.Time,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		resp.Stream.Close()
		d.fail(w, r, identity, reqID, start, modelName, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	usage, _, pumpErr := relay.PumpSSE(w, flusher, resp.Stream)

	errMsg := ""
	if pumpErr != nil {
		// Client went away or the upstream stream broke; charge stands
		errMsg = "stream interrupted"
	}

	cost, promptTokens, completionTokens := d.settle(modelName, usage, inputTokens, estimate)
	d.record(identity, reqID, modelName, r.URL.Path, promptTokens, completionTokens, cost,
		http.StatusOK, start, errMsg)
	d.auditRequest(identity, reqID, r, modelName, true, http.StatusOK, start, errMsg)
}

// handlePassthrough relays bodiless GET endpoints (model lists and the
// like) with the account credential attached. No estimation, no admission.
func (d *Dependencies) handlePassthrough(
	w http.ResponseWriter,
	r *http.Request,
	identity *auth.Identity,
	reqID uuid.UUID,
	start time.Time,
) {
	ctx := r.Context()

	apiKey, status, msg := d.upstreamKey(ctx, identity)
	if msg != "" {
		d.fail(w, r, identity, reqID, start, "", status, msg)
		return
	}

	resp, err := d.Relay.Forward(ctx, http.MethodGet, r.URL.Path, nil, apiKey, false)
	if err != nil {
		d.fail(w, r, identity, reqID, start, "", http.StatusBadGateway, "upstream request failed")
		return
	}

	d.auditRequest(identity, reqID, r, "", false, resp.StatusCode, start, "")
	d.Recorder.TouchLastUsed(context.Background(), identity.CredentialID, time.Now())

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// upstreamKey loads and decrypts the account's upstream credential. A
// non-empty message means failure; status carries the HTTP code.
func (d *Dependencies) upstreamKey(ctx context.Context, identity *auth.Identity) (key string, status int, msg string) {
	cred, err := d.UpstreamKeys.GetByAccount(ctx, identity.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrUpstreamKeyNotFound) {
			return "", http.StatusNotFound, "no upstream API key configured"
		}
		return "", http.StatusInternalServerError, "internal error"
	}

	key, err = d.Vault.Decrypt(cred.EncryptedKey)
	if err != nil {
		if errors.Is(err, vault.ErrDecryptionFailed) {
			return "", http.StatusInternalServerError, "credential decryption failed"
		}
		return "", http.StatusInternalServerError, "internal error"
	}

	return key, 0, ""
}

// settle converts observed usage into the recorded cost and token counts.
// Without a usage report the worst-case estimate is recorded as charged.
func (d *Dependencies) settle(modelName string, usage relay.Usage, inputTokens int, estimate float64) (cost float64, promptTokens, completionTokens int) {
	if !usage.Seen {
		return estimate, inputTokens, 0
	}

	settled, err := d.Pricing.Settle(context.Background(), modelName, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		return estimate, usage.PromptTokens, usage.CompletionTokens
	}
	return settled, usage.PromptTokens, usage.CompletionTokens
}

// record queues the usage line and touches the credential. Uses a fresh
// context so a disconnected client cannot cancel accounting.
func (d *Dependencies) record(
	identity *auth.Identity,
	reqID uuid.UUID,
	modelName, endpoint string,
	promptTokens, completionTokens int,
	cost float64,
	statusCode int,
	start time.Time,
	errMsg string,
) {
	ctx := context.Background()

	_ = d.Recorder.Record(ctx, &models.UsageRecord{
		ID:               uuid.New(),
		AccountID:        identity.AccountID,
		APIKeyID:         identity.CredentialID,
		RequestID:        reqID,
		Model:            modelName,
		Endpoint:         endpoint,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             cost,
		StatusCode:       statusCode,
		DurationMs:       time.Since(start).Milliseconds(),
		ErrorMessage:     errMsg,
	})

	d.Recorder.TouchLastUsed(ctx, identity.CredentialID, time.Now())
}

// fail writes an error response and records the failed attempt
func (d *Dependencies) fail(
	w http.ResponseWriter,
	r *http.Request,
	identity *auth.Identity,
	reqID uuid.UUID,
	start time.Time,
	modelName string,
	statusCode int,
	msg string,
) {
	d.record(identity, reqID, modelName, r.URL.Path, 0, 0, 0, statusCode, start, msg)
	d.auditRequest(identity, reqID, r, modelName, false, statusCode, start, msg)
	writeJSONError(w, statusCode, msg)
}

func (d *Dependencies) auditRequest(
	identity *auth.Identity,
	reqID uuid.UUID,
	r *http.Request,
	modelName string,
	isStreaming bool,
	statusCode int,
	start time.Time,
	errMsg string,
) {
	d.audit(logging.AuditEntry{
		RequestID:  reqID.String(),
		AccountID:  identity.AccountID.String(),
		Method:     r.Method,
		Endpoint:   r.URL.Path,
		Model:      modelName,
		Stream:     isStreaming,
		StatusCode: statusCode,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errMsg,
	})
}

func (d *Dependencies) audit(entry logging.AuditEntry) {
	if d.Audit == nil {
		return
	}
	d.Audit.Log(entry)
}
