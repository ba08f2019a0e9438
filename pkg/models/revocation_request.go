package models

import (
	"time"

	"github.com/google/uuid"
)

// Revocation request lifecycle states. A request leaves PendingConfirmation
// exactly once; the other three states are terminal.
const (
	RevocationStatusPending   = "pending_confirmation"
	RevocationStatusConfirmed = "confirmed"
	RevocationStatusCancelled = "cancelled"
	RevocationStatusExpired   = "expired"
)

// RevocationRequest is a time-boxed intent to revoke an API key. At most one
// request per key may be pending at a time; confirmation requires the
// single-use token returned at creation.
type RevocationRequest struct {
	ID                uuid.UUID `db:"id"                 json:"id"`
	APIKeyID          uuid.UUID `db:"api_key_id"         json:"api_key_id"`
	Status            string    `db:"status"             json:"status"`
	Reason            string    `db:"reason"             json:"reason"`
	RequestedBy       uuid.UUID `db:"requested_by"       json:"requested_by"`
	ConfirmationToken string    `db:"confirmation_token" json:"-"`
	RequestedAt       time.Time `db:"requested_at"       json:"requested_at"`
	ExpiresAt         time.Time `db:"expires_at"         json:"expires_at"`
	ResolvedAt        *time.Time `db:"resolved_at"       json:"resolved_at,omitempty"`
}

// Terminal reports whether the request can no longer change state.
func (r *RevocationRequest) Terminal() bool {
	return r.Status != RevocationStatusPending
}
