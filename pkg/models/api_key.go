package models

import (
	"time"

	"github.com/google/uuid"
)

// Well-known permissions. A key holding PermissionAdmin implicitly passes
// every permission check.
const (
	PermissionAdmin     = "admin"
	PermissionKeyRevoke = "key_revoke"
	PermissionKeyRead   = "key_read"
	PermissionPublish   = "publish"
	PermissionSubscribe = "subscribe"
)

// APIKey is the credential under protection. Raw keys are shown once at
// issuance; only the bcrypt hash is stored. Once Deleted is set the record is
// immutable; once RevokedAt is set, Active must be false.
type APIKey struct {
	ID               uuid.UUID  `db:"id"                json:"id"`
	Name             string     `db:"name"              json:"name"`
	KeyHash          string     `db:"key_hash"          json:"-"`
	KeyPrefix        string     `db:"key_prefix"        json:"key_prefix"`
	Permissions      []string   `db:"permissions"       json:"permissions"`
	Active           bool       `db:"is_active"         json:"is_active"`
	Deleted          bool       `db:"is_deleted"        json:"-"`
	ExpiresAt        *time.Time `db:"expires_at"        json:"expires_at,omitempty"`
	LastUsedAt       *time.Time `db:"last_used_at"      json:"last_used_at,omitempty"`
	RevokedAt        *time.Time `db:"revoked_at"        json:"revoked_at,omitempty"`
	RevokedBy        *uuid.UUID `db:"revoked_by"        json:"revoked_by,omitempty"`
	RevocationReason *string    `db:"revocation_reason" json:"revocation_reason,omitempty"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}

// Usable reports whether the key may authenticate requests: active, not
// deleted, and not past its expiry.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.Active || k.Deleted {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// HasPermission reports whether the key's permission set contains the exact
// permission or admin.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm || p == PermissionAdmin {
			return true
		}
	}
	return false
}
