package revocation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/securenotify/keygate/internal/audit"
	"github.com/securenotify/keygate/internal/auth"
	"github.com/securenotify/keygate/internal/store"
	"github.com/securenotify/keygate/pkg/models"
)

// Store is the slice of the data layer the service needs.
type Store interface {
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	CreateRevocationRequest(ctx context.Context, req *models.RevocationRequest) error
	GetRevocationRequest(ctx context.Context, id uuid.UUID) (*models.RevocationRequest, error)
	ConfirmRevocation(ctx context.Context, requestID, actor uuid.UUID, now time.Time) (*models.RevocationRequest, error)
	CancelRevocation(ctx context.Context, requestID uuid.UUID, now time.Time) error
	ExpireRevocationRequest(ctx context.Context, requestID uuid.UUID, now time.Time) error
}

// PermissionChecker is what the service needs from the permission validator.
type PermissionChecker interface {
	HasPermission(ctx context.Context, apiKeyID uuid.UUID, required string) (bool, error)
	Invalidate(ctx context.Context, apiKeyID uuid.UUID) error
}

// Service drives the revocation request state machine. Transitions are
// conditional writes in the store, so concurrent attempts on the same request
// resolve to exactly one winner without any in-process locking.
type Service struct {
	store      Store
	perms      PermissionChecker
	audit      audit.Emitter
	confirmTTL time.Duration
	now        func() time.Time
}

func NewService(s Store, perms PermissionChecker, emitter audit.Emitter, confirmTTL time.Duration) *Service {
	return &Service{
		store:      s,
		perms:      perms,
		audit:      emitter,
		confirmTTL: confirmTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a pending revocation request for the key. The actor needs
// key_revoke (or admin), the reason must validate, the key must be active,
// and no other request may be pending for the same key.
func (s *Service) Create(ctx context.Context, apiKeyID uuid.UUID, reason string, actor uuid.UUID) (*models.RevocationRequest, error) {
	allowed, err := s.perms.HasPermission(ctx, actor, models.PermissionKeyRevoke)
	if err != nil {
		s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeError, "permission resolution failed")
		return nil, fmt.Errorf("create revocation: %w", err)
	}
	if !allowed {
		s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeDenied,
			fmt.Sprintf("missing %s permission", models.PermissionKeyRevoke))
		return nil, newError(CodeForbidden, "Insufficient permissions to revoke keys")
	}

	if verr := ValidateReason(reason); verr != nil {
		s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeDenied,
			"invalid reason: "+string(verr.Code))
		return nil, verr
	}

	key, err := s.store.GetAPIKey(ctx, apiKeyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeDenied,
				"key not found: "+apiKeyID.String())
			return nil, newError(CodeNotFound, "API key not found")
		}
		s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeError, "key lookup failed")
		return nil, fmt.Errorf("create revocation: %w", err)
	}
	if !key.Active || key.Deleted {
		s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeDenied,
			"key not active: "+apiKeyID.String())
		return nil, newError(CodeNotFound, "API key not found")
	}

	now := s.now()
	req := &models.RevocationRequest{
		ID:                uuid.New(),
		APIKeyID:          apiKeyID,
		Status:            models.RevocationStatusPending,
		Reason:            strings.TrimSpace(reason),
		RequestedBy:       actor,
		ConfirmationToken: newConfirmationToken(),
		RequestedAt:       now,
		ExpiresAt:         now.Add(s.confirmTTL),
	}

	if err := s.store.CreateRevocationRequest(ctx, req); err != nil {
		switch {
		case errors.Is(err, store.ErrPendingExists):
			s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeDenied,
				"pending request exists for key "+apiKeyID.String())
			return nil, newError(CodeInvalidState, "A revocation request is already pending for this key")
		case errors.Is(err, store.ErrNotFound):
			s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeDenied,
				"key not found: "+apiKeyID.String())
			return nil, newError(CodeNotFound, "API key not found")
		default:
			s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeError, "request insert failed")
			return nil, fmt.Errorf("create revocation: %w", err)
		}
	}

	s.emit(ctx, actor, models.AuditActionRevokeCreate, models.AuditOutcomeAllowed,
		fmt.Sprintf("request %s for key %s", req.ID, apiKeyID))
	return req, nil
}

// Confirm applies a pending request: the key is deactivated and its
// permission cache entry evicted before the call returns. The token is
// always run through the constant-time comparison, even when the request is
// missing or already resolved, so those paths are not distinguishable by
// timing.
func (s *Service) Confirm(ctx context.Context, requestID uuid.UUID, token string, actor uuid.UUID) (*models.RevocationRequest, error) {
	req, err := s.store.GetRevocationRequest(ctx, requestID)
	if err != nil {
		auth.SecureCompare(token, dummyToken)
		if errors.Is(err, store.ErrNotFound) {
			s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeDenied,
				"request not found: "+requestID.String())
			return nil, newError(CodeNotFound, "Revocation request not found")
		}
		s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeError, "request lookup failed")
		return nil, fmt.Errorf("confirm revocation: %w", err)
	}

	if req.Terminal() {
		auth.SecureCompare(token, dummyToken)
		s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeDenied,
			fmt.Sprintf("request %s already %s", requestID, req.Status))
		return nil, newError(CodeInvalidState, "Revocation request is no longer pending")
	}

	now := s.now()
	if now.After(req.ExpiresAt) {
		auth.SecureCompare(token, dummyToken)
		// A concurrent sweep may have beaten us to it; either way the
		// request ends up expired.
		if err := s.store.ExpireRevocationRequest(ctx, requestID, now); err != nil &&
			!errors.Is(err, store.ErrInvalidState) {
			s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeError, "expiry failed")
			return nil, fmt.Errorf("confirm revocation: %w", err)
		}
		s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeDenied,
			"request expired: "+requestID.String())
		return nil, newError(CodeInvalidState, "Revocation request has expired")
	}

	if !auth.SecureCompare(token, req.ConfirmationToken) {
		s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeDenied,
			"confirmation token mismatch for request "+requestID.String())
		return nil, newError(CodeAuthFailed, "Invalid confirmation token")
	}

	confirmed, err := s.store.ConfirmRevocation(ctx, requestID, actor, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidState):
			s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeDenied,
				"lost confirm race for request "+requestID.String())
			return nil, newError(CodeInvalidState, "Revocation request is no longer pending")
		case errors.Is(err, store.ErrNotFound):
			s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeDenied,
				"request not found: "+requestID.String())
			return nil, newError(CodeNotFound, "Revocation request not found")
		default:
			s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeError, "confirm transaction failed")
			return nil, fmt.Errorf("confirm revocation: %w", err)
		}
	}

	// The key just lost all permissions; its cache entry must be gone
	// before anyone is told the revocation succeeded.
	if err := s.perms.Invalidate(ctx, req.APIKeyID); err != nil {
		s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeError, "cache invalidation failed")
		return nil, fmt.Errorf("confirm revocation: %w", err)
	}

	s.emit(ctx, actor, models.AuditActionRevokeConfirm, models.AuditOutcomeAllowed,
		fmt.Sprintf("request %s confirmed, key %s revoked", requestID, req.APIKeyID))
	return confirmed, nil
}

// Cancel withdraws a pending request. Terminal requests cannot be
// re-cancelled.
func (s *Service) Cancel(ctx context.Context, requestID uuid.UUID, actor uuid.UUID) (*models.RevocationRequest, error) {
	allowed, err := s.perms.HasPermission(ctx, actor, models.PermissionKeyRevoke)
	if err != nil {
		s.emit(ctx, actor, models.AuditActionRevokeCancel, models.AuditOutcomeError, "permission resolution failed")
		return nil, fmt.Errorf("cancel revocation: %w", err)
	}
	if !allowed {
		s.emit(ctx, actor, models.AuditActionRevokeCancel, models.AuditOutcomeDenied,
			fmt.Sprintf("missing %s permission", models.PermissionKeyRevoke))
		return nil, newError(CodeForbidden, "Insufficient permissions to cancel revocations")
	}

	if err := s.store.CancelRevocation(ctx, requestID, s.now()); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.emit(ctx, actor, models.AuditActionRevokeCancel, models.AuditOutcomeDenied,
				"request not found: "+requestID.String())
			return nil, newError(CodeNotFound, "Revocation request not found")
		case errors.Is(err, store.ErrInvalidState):
			s.emit(ctx, actor, models.AuditActionRevokeCancel, models.AuditOutcomeDenied,
				"request not pending: "+requestID.String())
			return nil, newError(CodeInvalidState, "Revocation request is no longer pending")
		default:
			s.emit(ctx, actor, models.AuditActionRevokeCancel, models.AuditOutcomeError, "cancel failed")
			return nil, fmt.Errorf("cancel revocation: %w", err)
		}
	}

	req, err := s.store.GetRevocationRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("cancel revocation: %w", err)
	}

	s.emit(ctx, actor, models.AuditActionRevokeCancel, models.AuditOutcomeAllowed,
		"request cancelled: "+requestID.String())
	return req, nil
}

func (s *Service) emit(ctx context.Context, actor uuid.UUID, action, outcome, detail string) {
	s.audit.Emit(ctx, audit.Event{
		Actor:   &actor,
		Action:  action,
		Outcome: outcome,
		Detail:  detail,
	})
}

// dummyToken keeps the comparison on not-found and wrong-state paths from
// short-circuiting.
const dummyToken = "0000000000000000000000000000000000000000000000000000000000000000"

func newConfirmationToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails if the platform source is broken.
		panic(fmt.Sprintf("confirmation token: %v", err))
	}
	return hex.EncodeToString(buf)
}
