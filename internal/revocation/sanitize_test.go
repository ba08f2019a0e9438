package revocation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/securenotify/keygate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_PassesThroughTypedErrors(t *testing.T) {
	orig := newError(CodeForbidden, "Insufficient permissions to revoke keys")
	got := Sanitize(orig)
	assert.Equal(t, orig, got)

	wrapped := fmt.Errorf("create revocation: %w", orig)
	got = Sanitize(wrapped)
	assert.Equal(t, orig, got)
}

func TestSanitize_StoreSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code Code
	}{
		{store.ErrNotFound, CodeNotFound},
		{store.ErrInvalidState, CodeInvalidState},
		{store.ErrPendingExists, CodeInvalidState},
		{fmt.Errorf("get revocation request: %w", store.ErrNotFound), CodeNotFound},
	}
	for _, tc := range cases {
		got := Sanitize(tc.err)
		assert.Equal(t, tc.code, got.Code)
	}
}

func TestSanitize_HidesInternalDetail(t *testing.T) {
	dbErr := errors.New(`pq: relation "api_keys" does not exist at query SELECT key_hash FROM api_keys`)
	got := Sanitize(dbErr)
	require.Equal(t, CodeInternal, got.Code)
	assert.Equal(t, "An unexpected error occurred", got.Message)
	assert.NotContains(t, got.Message, "api_keys")
}

func TestSanitizeRecordError(t *testing.T) {
	id := uuid.New()
	msg := SanitizeRecordError(id, errors.New("deadlock detected on table revocation_requests"))
	assert.Equal(t, fmt.Sprintf("Failed to process record %s: Operation failed", id), msg)
	assert.NotContains(t, msg, "deadlock")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeAuthRequired:  401,
		CodeAuthFailed:    401,
		CodeForbidden:     403,
		CodeNotFound:      404,
		CodeInvalidState:  400,
		CodeInvalidReason: 400,
		CodeInvalidInput:  400,
		CodeRateLimited:   429,
		CodeInternal:      500,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}
