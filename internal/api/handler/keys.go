package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/securenotify/keygate/internal/api/response"
	"github.com/securenotify/keygate/internal/store"
	"github.com/securenotify/keygate/pkg/models"
)

// KeyStore is the slice of the store the key handlers need.
type KeyStore interface {
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, limit, offset int) ([]*models.APIKey, int, error)
}

// NewListKeysHandler handles GET /api/v1/keys.
func NewListKeysHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		keys, total, err := s.ListAPIKeys(r.Context(), limit, offset)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}

		response.Collection(w, keys, response.PaginationMeta{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		})
	}
}

// NewGetKeyHandler handles GET /api/v1/keys/{keyID}.
func NewGetKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found")
			return
		}

		key, err := s.GetAPIKey(r.Context(), keyID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found")
				return
			}
			writeServiceError(w, err)
			return
		}

		response.JSON(w, key)
	}
}

func queryInt(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
