// Package audit records authorization decisions and revocation state
// transitions. Every decision produces exactly one entry, whatever the
// outcome. Detail strings must never contain raw credentials or tokens.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/securenotify/keygate/pkg/models"
)

// Event is one decision or transition to record.
type Event struct {
	// Actor is nil for unauthenticated attempts and for the cleanup job.
	Actor   *uuid.UUID
	Action  string
	Outcome string
	Detail  string
}

// Emitter records audit events.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// appender is the slice of the store the emitter needs.
type appender interface {
	AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error
}

// StoreEmitter persists events through the store and mirrors them to slog.
// Persistence is best effort: an append failure is logged and swallowed so an
// audit-log outage never blocks the request path.
type StoreEmitter struct {
	store appender
}

func NewStoreEmitter(s appender) *StoreEmitter {
	return &StoreEmitter{store: s}
}

func (e *StoreEmitter) Emit(ctx context.Context, ev Event) {
	entry := &models.AuditLogEntry{
		ID:         uuid.New(),
		ActorKeyID: ev.Actor,
		Action:     ev.Action,
		Outcome:    ev.Outcome,
		Detail:     ev.Detail,
		CreatedAt:  time.Now().UTC(),
	}

	slog.Info("audit",
		"action", ev.Action,
		"outcome", ev.Outcome,
		"actor", actorString(ev.Actor),
		"detail", ev.Detail,
	)

	if err := e.store.AppendAuditEntry(ctx, entry); err != nil {
		slog.Error("audit entry not persisted", "error", err, "action", ev.Action)
	}
}

func actorString(actor *uuid.UUID) string {
	if actor == nil {
		return ""
	}
	return actor.String()
}
