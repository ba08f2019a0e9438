package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	actorKeyIDKey contextKey = "actor_key_id"
	keyPrefixKey  contextKey = "key_prefix"
)

func SetActorKeyID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actorKeyIDKey, id)
}

func GetActorKeyID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(actorKeyIDKey).(uuid.UUID)
	return id, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}
