package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"

	"costshield/internal/models"
)

// ErrUnauthenticated is returned for every authentication failure. Missing
// header, malformed header, unknown key and revoked key all map to this one
// error so a caller probing the gateway learns nothing about which stage
// rejected it.
var ErrUnauthenticated = errors.New("unauthenticated")

// HashKey returns the hex-encoded SHA-256 digest of a proxy key. Only the
// digest is ever stored or compared.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Identity is the authenticated caller attached to a request after the
// credential check succeeds.
type Identity struct {
	CredentialID uuid.UUID
	AccountID    uuid.UUID
	BudgetID     *uuid.UUID
}

// CredentialStore looks up active proxy credentials by key hash
type CredentialStore interface {
	GetByHash(ctx context.Context, keyHash string) (*models.ProxyCredential, error)
}

// Authenticator resolves Authorization headers into identities
type Authenticator struct {
	store CredentialStore
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(store CredentialStore) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate extracts the bearer token from an Authorization header, hashes
// it and resolves it to an identity. It has no side effects; last-used
// bookkeeping happens after the request completes.
func (a *Authenticator) Authenticate(ctx context.Context, authorizationHeader string) (*Identity, error) {
	token, ok := bearerToken(authorizationHeader)
	if !ok {
		return nil, ErrUnauthenticated
	}

	cred, err := a.store.GetByHash(ctx, HashKey(token))
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if !cred.IsActive {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		CredentialID: cred.ID,
		AccountID:    cred.AccountID,
		BudgetID:     cred.BudgetID,
	}, nil
}

// bearerToken extracts the token from a "Bearer <token>" header value
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}
