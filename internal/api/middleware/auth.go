package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/securenotify/keygate/internal/api/response"
	"github.com/securenotify/keygate/internal/audit"
	"github.com/securenotify/keygate/internal/auth"
	"github.com/securenotify/keygate/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"
const keyPrefixLen = 8

// KeyStore is the slice of the store the middleware needs.
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// PermissionChecker audits and answers permission checks for routes guarded
// by RequirePermission.
type PermissionChecker interface {
	ValidateAPIKeyPermission(ctx context.Context, apiKeyID uuid.UUID, required string) (bool, error)
}

// Auth provides authentication and permission-checking middleware.
type Auth struct {
	store KeyStore
	perms PermissionChecker
	audit audit.Emitter
}

// NewAuth creates a new Auth middleware.
func NewAuth(s KeyStore, perms PermissionChecker, emitter audit.Emitter) *Auth {
	return &Auth{store: s, perms: perms, audit: emitter}
}

// Authenticate validates the X-API-Key credential and sets the actor key id
// and prefix in the request context. A missing credential is AUTH_REQUIRED; a
// wrong one is AUTH_FAILED. A credential whose prefix matches nothing is
// still run through a bcrypt comparison against a dummy hash, so an absent
// key and a wrong key cost the same.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get(apiKeyHeader)
		if rawKey == "" {
			a.audit.Emit(r.Context(), audit.Event{
				Action:  models.AuditActionPermissionCheck,
				Outcome: models.AuditOutcomeDenied,
				Detail:  "no credential presented",
			})
			response.Error(w, http.StatusUnauthorized,
				"AUTH_REQUIRED", "API key is required")
			return
		}

		if len(rawKey) < keyPrefixLen {
			bcrypt.CompareHashAndPassword([]byte(auth.DummyBcryptHash), []byte(rawKey))
			a.denyInvalid(w, r)
			return
		}

		prefix := rawKey[:keyPrefixLen]
		keys, err := a.store.GetAPIKeysByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred")
			return
		}

		var matched *models.APIKey
		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
				matched = key
				break
			}
		}
		if matched == nil {
			if len(keys) == 0 {
				bcrypt.CompareHashAndPassword([]byte(auth.DummyBcryptHash), []byte(rawKey))
			}
			a.denyInvalid(w, r)
			return
		}
		if !matched.Usable(time.Now().UTC()) {
			// Revoked, deactivated, or expired: indistinguishable from a
			// wrong credential on the wire.
			a.denyInvalid(w, r)
			return
		}

		ctx := SetActorKeyID(r.Context(), matched.ID)
		ctx = setKeyPrefix(ctx, prefix)

		go a.store.UpdateAPIKeyLastUsed(context.Background(), matched.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) denyInvalid(w http.ResponseWriter, r *http.Request) {
	a.audit.Emit(r.Context(), audit.Event{
		Action:  models.AuditActionPermissionCheck,
		Outcome: models.AuditOutcomeDenied,
		Detail:  "credential did not match any key",
	})
	response.Error(w, http.StatusUnauthorized,
		"AUTH_FAILED", "Invalid API key")
}

// RequirePermission returns middleware that checks whether the authenticated
// key holds the given permission (or admin).
func (a *Auth) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActorKeyID(r)
			if !ok {
				response.Error(w, http.StatusUnauthorized,
					"AUTH_REQUIRED", "API key is required")
				return
			}

			allowed, err := a.perms.ValidateAPIKeyPermission(r.Context(), actor, permission)
			if err != nil {
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred")
				return
			}
			if !allowed {
				response.Error(w, http.StatusForbidden,
					"FORBIDDEN", "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
