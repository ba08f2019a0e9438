package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/securenotify/keygate/internal/api/middleware"
	"github.com/securenotify/keygate/internal/api/response"
	"github.com/securenotify/keygate/internal/revocation"
	"github.com/securenotify/keygate/pkg/models"
)

// RevocationService defines the interface the handlers depend on.
type RevocationService interface {
	Create(ctx context.Context, apiKeyID uuid.UUID, reason string, actor uuid.UUID) (*models.RevocationRequest, error)
	Confirm(ctx context.Context, requestID uuid.UUID, token string, actor uuid.UUID) (*models.RevocationRequest, error)
	Cancel(ctx context.Context, requestID uuid.UUID, actor uuid.UUID) (*models.RevocationRequest, error)
}

// NewCreateRevocationHandler handles POST /api/v1/keys/{keyID}/revocations.
// The confirmation token is returned exactly once, here.
func NewCreateRevocationHandler(svc RevocationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActorKeyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "API key is required")
			return
		}

		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found")
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid JSON body")
			return
		}

		created, err := svc.Create(r.Context(), keyID, req.Reason, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.Created(w, map[string]any{
			"request":            created,
			"confirmation_token": created.ConfirmationToken,
		})
	}
}

// NewConfirmRevocationHandler handles POST /api/v1/revocations/{requestID}/confirm.
func NewConfirmRevocationHandler(svc RevocationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActorKeyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "API key is required")
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Revocation request not found")
			return
		}

		var req struct {
			ConfirmationToken string `json:"confirmation_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid JSON body")
			return
		}

		confirmed, err := svc.Confirm(r.Context(), requestID, req.ConfirmationToken, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.JSON(w, confirmed)
	}
}

// NewCancelRevocationHandler handles POST /api/v1/revocations/{requestID}/cancel.
func NewCancelRevocationHandler(svc RevocationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActorKeyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "API key is required")
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Revocation request not found")
			return
		}

		cancelled, err := svc.Cancel(r.Context(), requestID, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.JSON(w, cancelled)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	e := revocation.Sanitize(err)
	response.Error(w, revocation.HTTPStatus(e.Code), string(e.Code), e.Message)
}
