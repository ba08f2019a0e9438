package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/securenotify/keygate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const apiKeyColumns = `id, name, key_hash, key_prefix, permissions, is_active, is_deleted,
	expires_at, last_used_at, revoked_at, revoked_by, revocation_reason, created_at, updated_at`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Permissions, &k.Active, &k.Deleted,
		&k.ExpiresAt, &k.LastUsedAt, &k.RevokedAt, &k.RevokedBy, &k.RevocationReason, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	key, err := scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND NOT is_deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

func (s *PostgresStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND NOT is_deleted`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, limit, offset int) ([]*models.APIKey, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE NOT is_deleted`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count api keys: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE NOT is_deleted
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, total, rows.Err()
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, permissions, is_active, is_deleted,
		   expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Permissions, key.Active, key.Deleted,
		key.ExpiresAt, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAPIKeyPermissions(ctx context.Context, id uuid.UUID, permissions []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET permissions = $2, updated_at = NOW() WHERE id = $1 AND NOT is_deleted`,
		id, permissions)
	if err != nil {
		return fmt.Errorf("update api key permissions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Revocation Requests ---

const revocationColumns = `id, api_key_id, status, reason, requested_by, confirmation_token,
	requested_at, expires_at, resolved_at`

func scanRevocationRequest(row pgx.Row) (*models.RevocationRequest, error) {
	var r models.RevocationRequest
	err := row.Scan(&r.ID, &r.APIKeyID, &r.Status, &r.Reason, &r.RequestedBy, &r.ConfirmationToken,
		&r.RequestedAt, &r.ExpiresAt, &r.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRevocationRequest inserts a pending request. The partial unique index
// on (api_key_id) WHERE status = 'pending_confirmation' enforces at most one
// pending request per key; a violation maps to ErrPendingExists.
func (s *PostgresStore) CreateRevocationRequest(ctx context.Context, req *models.RevocationRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO revocation_requests (id, api_key_id, status, reason, requested_by,
		   confirmation_token, requested_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.APIKeyID, req.Status, req.Reason, req.RequestedBy,
		req.ConfirmationToken, req.RequestedAt, req.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation on the one-pending index
				return ErrPendingExists
			case "23503": // foreign_key_violation: key does not exist
				return ErrNotFound
			}
		}
		return fmt.Errorf("create revocation request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRevocationRequest(ctx context.Context, id uuid.UUID) (*models.RevocationRequest, error) {
	req, err := scanRevocationRequest(s.pool.QueryRow(ctx,
		`SELECT `+revocationColumns+` FROM revocation_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get revocation request: %w", err)
	}
	return req, nil
}

// ConfirmRevocation transitions a pending request to confirmed and revokes
// the owning key in the same transaction. The conditional UPDATE on status is
// the single-writer guarantee: of two concurrent confirms, exactly one sees a
// row, the other gets ErrInvalidState.
func (s *PostgresStore) ConfirmRevocation(ctx context.Context, requestID, actor uuid.UUID, now time.Time) (*models.RevocationRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin confirm revocation: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := scanRevocationRequest(tx.QueryRow(ctx,
		`UPDATE revocation_requests SET status = $2, resolved_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+revocationColumns,
		requestID, models.RevocationStatusConfirmed, now, models.RevocationStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionFailure(ctx, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("confirm revocation request: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE, revoked_at = $2, revoked_by = $3,
		   revocation_reason = $4, updated_at = $2
		 WHERE id = $1 AND NOT is_deleted`,
		req.APIKeyID, now, actor, req.Reason)
	if err != nil {
		return nil, fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm revocation: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) CancelRevocation(ctx context.Context, requestID uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE revocation_requests SET status = $2, resolved_at = $3
		 WHERE id = $1 AND status = $4`,
		requestID, models.RevocationStatusCancelled, now, models.RevocationStatusPending)
	if err != nil {
		return fmt.Errorf("cancel revocation request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, requestID)
	}
	return nil
}

// ExpireRevocationRequest is the on-path variant of the cleanup sweep: a
// confirm attempt against a pending request past its deadline expires it
// before failing.
func (s *PostgresStore) ExpireRevocationRequest(ctx context.Context, requestID uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE revocation_requests SET status = $2, resolved_at = $3
		 WHERE id = $1 AND status = $4`,
		requestID, models.RevocationStatusExpired, now, models.RevocationStatusPending)
	if err != nil {
		return fmt.Errorf("expire revocation request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, requestID)
	}
	return nil
}

// transitionFailure distinguishes a missing row from one in the wrong state
// after a conditional update matched nothing.
func (s *PostgresStore) transitionFailure(ctx context.Context, requestID uuid.UUID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revocation_requests WHERE id = $1)`, requestID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check revocation request: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

// --- Cleanup sweeps ---

func (s *PostgresStore) ListExpiredPendingRequestIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM revocation_requests WHERE status = $1 AND expires_at < $2 ORDER BY expires_at`,
		models.RevocationStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("list expired pending requests: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ExpireRequests transitions the given pending requests to expired in a
// single statement inside its own transaction: one round trip per chunk, and
// a failing chunk never rolls back a previous one.
func (s *PostgresStore) ExpireRequests(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin expire requests: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE revocation_requests SET status = $2, resolved_at = $3
		 WHERE id = ANY($1::uuid[]) AND status = $4`,
		uuidStrings(ids), models.RevocationStatusExpired, now, models.RevocationStatusPending)
	if err != nil {
		return 0, fmt.Errorf("expire requests: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit expire requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListPurgeableKeyIDs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM api_keys WHERE NOT is_deleted AND revoked_at IS NOT NULL AND revoked_at < $1
		 ORDER BY revoked_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list purgeable keys: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// PurgeKeys hard-deletes the given keys; their revocation requests go with
// them via ON DELETE CASCADE. Same chunk-transaction discipline as
// ExpireRequests.
func (s *PostgresStore) PurgeKeys(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin purge keys: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM api_keys WHERE id = ANY($1::uuid[]) AND NOT is_deleted AND revoked_at IS NOT NULL`,
		uuidStrings(ids))
	if err != nil {
		return 0, fmt.Errorf("purge keys: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit purge keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Audit ---

func (s *PostgresStore) AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, actor_key_id, action, outcome, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ActorKeyID, entry.Action, entry.Outcome, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
