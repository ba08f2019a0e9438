package revocation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/securenotify/keygate/internal/store"
)

// Sanitize maps any error to a client-safe *Error. The original error, with
// whatever driver or query detail it carries, is logged here and goes no
// further: database identifiers and internal messages never cross the
// boundary.
func Sanitize(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(CodeNotFound, "Resource not found")
	case errors.Is(err, store.ErrInvalidState):
		return newError(CodeInvalidState, "Action not valid for current state")
	case errors.Is(err, store.ErrPendingExists):
		return newError(CodeInvalidState, "A revocation request is already pending for this key")
	}

	slog.Error("internal error", "error", err)
	return newError(CodeInternal, "An unexpected error occurred")
}

// SanitizeRecordError produces the generic per-record failure message used in
// cleanup summaries. The full error is logged; only the record id survives.
func SanitizeRecordError(id uuid.UUID, err error) string {
	slog.Error("record processing failed", "record_id", id, "error", err)
	return fmt.Sprintf("Failed to process record %s: Operation failed", id)
}
