package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/securenotify/keygate/internal/audit"
	"github.com/securenotify/keygate/internal/cache"
	"github.com/securenotify/keygate/internal/store"
	"github.com/securenotify/keygate/pkg/models"
)

// ResolveOutcome classifies a permission resolution. NotFound and Inactive
// are for audit detail only; callers treat both as the empty permission set.
type ResolveOutcome int

const (
	ResolveFound ResolveOutcome = iota
	ResolveNotFound
	ResolveInactive
)

func (o ResolveOutcome) String() string {
	switch o {
	case ResolveFound:
		return "found"
	case ResolveNotFound:
		return "not_found"
	default:
		return "inactive"
	}
}

// KeyStore is the slice of the store the validator needs.
type KeyStore interface {
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
}

// PermissionValidator resolves effective permissions for API keys, memoizing
// results in the cache. Construct one per process; it is safe for concurrent
// use. Any code path that mutates a key's permissions, active flag, or
// deleted flag must call Invalidate before treating the mutation as complete.
type PermissionValidator struct {
	store KeyStore
	cache cache.Cache
	audit audit.Emitter
	ttl   time.Duration
	now   func() time.Time
}

func NewPermissionValidator(s KeyStore, c cache.Cache, emitter audit.Emitter, ttl time.Duration) *PermissionValidator {
	return &PermissionValidator{
		store: s,
		cache: c,
		audit: emitter,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the key's effective permission set. A missing, inactive,
// deleted, or expired key resolves to the empty set; only the outcome tells
// those cases apart, and only for internal logging. Cache errors degrade to
// a live load, never to a failure.
func (v *PermissionValidator) Resolve(ctx context.Context, apiKeyID uuid.UUID) ([]string, ResolveOutcome, error) {
	if perms, ok := v.cacheGet(ctx, apiKeyID); ok {
		return perms, ResolveFound, nil
	}

	key, err := v.store.GetAPIKey(ctx, apiKeyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ResolveNotFound, nil
		}
		return nil, ResolveNotFound, fmt.Errorf("resolve permissions: %w", err)
	}
	if !key.Usable(v.now()) {
		return nil, ResolveInactive, nil
	}

	// Write back only usable keys: a later activation must always be a
	// live read.
	v.cachePut(ctx, apiKeyID, key.Permissions)
	return key.Permissions, ResolveFound, nil
}

// HasPermission reports whether the key's resolved set contains the required
// permission or admin.
func (v *PermissionValidator) HasPermission(ctx context.Context, apiKeyID uuid.UUID, required string) (bool, error) {
	perms, _, err := v.Resolve(ctx, apiKeyID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == required || p == models.PermissionAdmin {
			return true, nil
		}
	}
	return false, nil
}

// ValidateAPIKeyPermission is the audited entry point for collaborators (and
// the HTTP permission middleware) to consult before a privileged operation.
// The resolve outcome reaches the audit trail only; the caller just gets a
// boolean.
func (v *PermissionValidator) ValidateAPIKeyPermission(ctx context.Context, apiKeyID uuid.UUID, required string) (bool, error) {
	perms, outcome, err := v.Resolve(ctx, apiKeyID)
	if err != nil {
		v.audit.Emit(ctx, audit.Event{
			Actor:   &apiKeyID,
			Action:  models.AuditActionPermissionCheck,
			Outcome: models.AuditOutcomeError,
			Detail:  "resolution failed for " + required,
		})
		return false, err
	}

	allowed := false
	for _, p := range perms {
		if p == required || p == models.PermissionAdmin {
			allowed = true
			break
		}
	}

	auditOutcome := models.AuditOutcomeDenied
	if allowed {
		auditOutcome = models.AuditOutcomeAllowed
	}
	v.audit.Emit(ctx, audit.Event{
		Actor:   &apiKeyID,
		Action:  models.AuditActionPermissionCheck,
		Outcome: auditOutcome,
		Detail:  fmt.Sprintf("required=%s resolve=%s", required, outcome),
	})
	return allowed, nil
}

// Invalidate evicts the key's cached permission set. It must succeed before
// a permission-affecting mutation is considered complete; the error is
// returned so callers can refuse to proceed on a failed eviction.
func (v *PermissionValidator) Invalidate(ctx context.Context, apiKeyID uuid.UUID) error {
	if err := v.cache.Delete(ctx, cache.PermissionKey(apiKeyID)); err != nil {
		return fmt.Errorf("invalidate permission cache: %w", err)
	}
	return nil
}

// InvalidateAll flushes every cached permission set.
func (v *PermissionValidator) InvalidateAll(ctx context.Context) error {
	if err := v.cache.DeletePrefix(ctx, cache.PermissionKeyPrefix); err != nil {
		return fmt.Errorf("invalidate permission cache: %w", err)
	}
	return nil
}

func (v *PermissionValidator) cacheGet(ctx context.Context, apiKeyID uuid.UUID) ([]string, bool) {
	raw, found, err := v.cache.Get(ctx, cache.PermissionKey(apiKeyID))
	if err != nil {
		slog.Warn("permission cache read failed", "error", err, "api_key_id", apiKeyID)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		slog.Warn("permission cache entry corrupt", "error", err, "api_key_id", apiKeyID)
		return nil, false
	}
	return perms, true
}

func (v *PermissionValidator) cachePut(ctx context.Context, apiKeyID uuid.UUID, perms []string) {
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	if err := v.cache.Set(ctx, cache.PermissionKey(apiKeyID), raw, v.ttl); err != nil {
		slog.Warn("permission cache write failed", "error", err, "api_key_id", apiKeyID)
	}
}
