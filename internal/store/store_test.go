package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/securenotify/keygate/internal/store"
	"github.com/securenotify/keygate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("keygate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func seedAPIKey(t *testing.T, s store.Store, mutate func(*models.APIKey)) *models.APIKey {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:          uuid.New(),
		Name:        "key-" + uuid.NewString()[:4],
		KeyHash:     "hash-" + uuid.NewString()[:8],
		KeyPrefix:   "sn_" + uuid.NewString()[:5],
		Permissions: []string{models.PermissionPublish, models.PermissionKeyRead},
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if mutate != nil {
		mutate(key)
	}
	require.NoError(t, s.CreateAPIKey(context.Background(), key))
	return key
}

func seedPendingRequest(t *testing.T, s store.Store, keyID, actor uuid.UUID, mutate func(*models.RevocationRequest)) *models.RevocationRequest {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	req := &models.RevocationRequest{
		ID:                uuid.New(),
		APIKeyID:          keyID,
		Status:            models.RevocationStatusPending,
		Reason:            "credential leaked in public repository",
		RequestedBy:       actor,
		ConfirmationToken: strings.Repeat("ab", 32),
		RequestedAt:       now,
		ExpiresAt:         now.Add(15 * time.Minute),
	}
	if mutate != nil {
		mutate(req)
	}
	require.NoError(t, s.CreateRevocationRequest(context.Background(), req))
	return req
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)

	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, key.Name, got.Name)
	assert.ElementsMatch(t, key.Permissions, got.Permissions)
	assert.True(t, got.Active)
	assert.Nil(t, got.RevokedAt)
}

func TestAPIKey_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetAPIKey(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_GetByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	seedAPIKey(t, s, nil)

	keys, err := s.GetAPIKeysByPrefix(ctx, key.KeyPrefix)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
}

func TestAPIKey_ListWithPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedAPIKey(t, s, nil)
	}

	keys, total, err := s.ListAPIKeys(ctx, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, keys, 3)

	keys, total, err = s.ListAPIKeys(ctx, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, keys, 2)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	dup := *key
	dup.KeyPrefix = "sn_other"
	err := s.CreateAPIKey(ctx, &dup)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)
}

func TestAPIKey_UpdatePermissions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	require.NoError(t, s.UpdateAPIKeyPermissions(ctx, key.ID, []string{models.PermissionSubscribe}))

	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.PermissionSubscribe}, got.Permissions)

	err = s.UpdateAPIKeyPermissions(ctx, uuid.New(), []string{models.PermissionSubscribe})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Revocation Request Tests ---

func TestRevocationRequest_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	actor := seedAPIKey(t, s, nil)
	req := seedPendingRequest(t, s, key.ID, actor.ID, nil)

	got, err := s.GetRevocationRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RevocationStatusPending, got.Status)
	assert.Equal(t, key.ID, got.APIKeyID)
	assert.Equal(t, req.ConfirmationToken, got.ConfirmationToken)
	assert.Nil(t, got.ResolvedAt)
}

func TestRevocationRequest_CreateForMissingKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	err := s.CreateRevocationRequest(ctx, &models.RevocationRequest{
		ID:                uuid.New(),
		APIKeyID:          uuid.New(),
		Status:            models.RevocationStatusPending,
		Reason:            "credential leaked in public repository",
		RequestedBy:       uuid.New(),
		ConfirmationToken: strings.Repeat("cd", 32),
		RequestedAt:       now,
		ExpiresAt:         now.Add(15 * time.Minute),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevocationRequest_OnePendingPerKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	actor := seedAPIKey(t, s, nil)
	first := seedPendingRequest(t, s, key.ID, actor.ID, nil)

	now := time.Now().UTC()
	err := s.CreateRevocationRequest(ctx, &models.RevocationRequest{
		ID:                uuid.New(),
		APIKeyID:          key.ID,
		Status:            models.RevocationStatusPending,
		Reason:            "second attempt before the first resolved",
		RequestedBy:       actor.ID,
		ConfirmationToken: strings.Repeat("ef", 32),
		RequestedAt:       now,
		ExpiresAt:         now.Add(15 * time.Minute),
	})
	assert.ErrorIs(t, err, store.ErrPendingExists)

	// Once the first resolves, a new pending request is allowed again.
	require.NoError(t, s.CancelRevocation(ctx, first.ID, now))
	seedPendingRequest(t, s, key.ID, actor.ID, nil)
}

func TestConfirmRevocation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	actor := seedAPIKey(t, s, nil)
	req := seedPendingRequest(t, s, key.ID, actor.ID, nil)
	now := time.Now().UTC().Truncate(time.Microsecond)

	confirmed, err := s.ConfirmRevocation(ctx, req.ID, actor.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.RevocationStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ResolvedAt)

	// The key is revoked in the same transaction.
	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.RevokedAt)
	require.NotNil(t, got.RevokedBy)
	assert.Equal(t, actor.ID, *got.RevokedBy)
	require.NotNil(t, got.RevocationReason)
	assert.Equal(t, req.Reason, *got.RevocationReason)
}

func TestConfirmRevocation_SingleWinner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	actor := seedAPIKey(t, s, nil)
	req := seedPendingRequest(t, s, key.ID, actor.ID, nil)
	now := time.Now().UTC()

	_, err := s.ConfirmRevocation(ctx, req.ID, actor.ID, now)
	require.NoError(t, err)

	// A second confirm and a late cancel both lose.
	_, err = s.ConfirmRevocation(ctx, req.ID, actor.ID, now)
	assert.ErrorIs(t, err, store.ErrInvalidState)
	err = s.CancelRevocation(ctx, req.ID, now)
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestConfirmRevocation_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.ConfirmRevocation(context.Background(), uuid.New(), uuid.New(), time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelRevocation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	actor := seedAPIKey(t, s, nil)
	req := seedPendingRequest(t, s, key.ID, actor.ID, nil)
	now := time.Now().UTC()

	require.NoError(t, s.CancelRevocation(ctx, req.ID, now))

	got, err := s.GetRevocationRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RevocationStatusCancelled, got.Status)

	// The key is untouched.
	gotKey, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, gotKey.Active)
	assert.Nil(t, gotKey.RevokedAt)
}

func TestExpireRevocationRequest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)
	actor := seedAPIKey(t, s, nil)
	req := seedPendingRequest(t, s, key.ID, actor.ID, nil)
	now := time.Now().UTC()

	require.NoError(t, s.ExpireRevocationRequest(ctx, req.ID, now))

	got, err := s.GetRevocationRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RevocationStatusExpired, got.Status)

	err = s.ExpireRevocationRequest(ctx, req.ID, now)
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

// --- Cleanup Sweep Tests ---

func TestExpireRequests_Sweep(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	actor := seedAPIKey(t, s, nil)
	now := time.Now().UTC().Truncate(time.Microsecond)

	var staleIDs []uuid.UUID
	for i := 0; i < 3; i++ {
		key := seedAPIKey(t, s, nil)
		req := seedPendingRequest(t, s, key.ID, actor.ID, func(r *models.RevocationRequest) {
			r.ExpiresAt = now.Add(-time.Minute)
		})
		staleIDs = append(staleIDs, req.ID)
	}
	freshKey := seedAPIKey(t, s, nil)
	fresh := seedPendingRequest(t, s, freshKey.ID, actor.ID, nil)

	ids, err := s.ListExpiredPendingRequestIDs(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, staleIDs, ids)

	n, err := s.ExpireRequests(ctx, ids, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Idempotent: a second pass over the same ids touches nothing.
	n, err = s.ExpireRequests(ctx, ids, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetRevocationRequest(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RevocationStatusPending, got.Status)
}

func TestPurgeKeys_Sweep(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	actor := seedAPIKey(t, s, nil)
	now := time.Now().UTC().Truncate(time.Microsecond)

	// A key revoked past retention, with its confirmed request still around.
	oldKey := seedAPIKey(t, s, nil)
	oldReq := seedPendingRequest(t, s, oldKey.ID, actor.ID, nil)
	_, err := s.ConfirmRevocation(ctx, oldReq.ID, actor.ID, now.Add(-31*24*time.Hour))
	require.NoError(t, err)

	// A key revoked recently stays.
	newKey := seedAPIKey(t, s, nil)
	newReq := seedPendingRequest(t, s, newKey.ID, actor.ID, nil)
	_, err = s.ConfirmRevocation(ctx, newReq.ID, actor.ID, now.Add(-time.Hour))
	require.NoError(t, err)

	cutoff := now.Add(-30 * 24 * time.Hour)
	ids, err := s.ListPurgeableKeyIDs(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{oldKey.ID}, ids)

	n, err := s.PurgeKeys(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetAPIKey(ctx, oldKey.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The request cascades with its key.
	_, err = s.GetRevocationRequest(ctx, oldReq.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetAPIKey(ctx, newKey.ID)
	assert.NoError(t, err)
}

func TestPurgeKeys_NeverTouchesUnrevoked(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	key := seedAPIKey(t, s, nil)

	// Even if an active key's id is passed in, the guard in the statement
	// refuses to delete it.
	n, err := s.PurgeKeys(ctx, []uuid.UUID{key.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetAPIKey(ctx, key.ID)
	assert.NoError(t, err)
}

// --- Audit ---

func TestAppendAuditEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	actor := seedAPIKey(t, s, nil)
	entry := &models.AuditLogEntry{
		ID:         uuid.New(),
		ActorKeyID: &actor.ID,
		Action:     models.AuditActionRevokeCreate,
		Outcome:    models.AuditOutcomeAllowed,
		Detail:     "request created",
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.AppendAuditEntry(ctx, entry))

	// Unauthenticated attempts record a NULL actor.
	require.NoError(t, s.AppendAuditEntry(ctx, &models.AuditLogEntry{
		ID:        uuid.New(),
		Action:    models.AuditActionPermissionCheck,
		Outcome:   models.AuditOutcomeDenied,
		Detail:    "no credential presented",
		CreatedAt: time.Now().UTC(),
	}))
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
