package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit outcomes.
const (
	AuditOutcomeAllowed = "ALLOWED"
	AuditOutcomeDenied  = "DENIED"
	AuditOutcomeError   = "ERROR"
)

// Audit actions recorded by the engine.
const (
	AuditActionRevokeCreate    = "revoke.create"
	AuditActionRevokeConfirm   = "revoke.confirm"
	AuditActionRevokeCancel    = "revoke.cancel"
	AuditActionPermissionCheck = "permission.check"
	AuditActionCleanupExpire   = "cleanup.expire"
	AuditActionCleanupPurge    = "cleanup.purge"
)

// AuditLogEntry is an append-only record of an authorization decision or
// state transition. Detail must never contain raw secrets or tokens.
type AuditLogEntry struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	ActorKeyID *uuid.UUID `db:"actor_key_id" json:"actor_key_id,omitempty"`
	Action     string     `db:"action"       json:"action"`
	Outcome    string     `db:"outcome"      json:"outcome"`
	Detail     string     `db:"detail"       json:"detail"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}
