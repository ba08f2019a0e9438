package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/securenotify/keygate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidState is returned by conditional state transitions when the row
// exists but is no longer in the expected prior state. It is what makes
// concurrent confirm/cancel on the same request single-winner.
var ErrInvalidState = errors.New("invalid state for transition")

// ErrPendingExists is returned when a second revocation request is created
// for a key that already has one pending.
var ErrPendingExists = errors.New("pending revocation request already exists")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	ListAPIKeys(ctx context.Context, limit, offset int) ([]*models.APIKey, int, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	UpdateAPIKeyPermissions(ctx context.Context, id uuid.UUID, permissions []string) error

	CreateRevocationRequest(ctx context.Context, req *models.RevocationRequest) error
	GetRevocationRequest(ctx context.Context, id uuid.UUID) (*models.RevocationRequest, error)
	ConfirmRevocation(ctx context.Context, requestID, actor uuid.UUID, now time.Time) (*models.RevocationRequest, error)
	CancelRevocation(ctx context.Context, requestID uuid.UUID, now time.Time) error
	ExpireRevocationRequest(ctx context.Context, requestID uuid.UUID, now time.Time) error

	ListExpiredPendingRequestIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ExpireRequests(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	ListPurgeableKeyIDs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	PurgeKeys(ctx context.Context, ids []uuid.UUID) (int64, error)

	AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error
}
