package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/securenotify/keygate/internal/api/middleware"
	"github.com/securenotify/keygate/internal/api/response"
	"github.com/securenotify/keygate/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	ListKeysHandler http.HandlerFunc
	GetKeyHandler   http.HandlerFunc

	CreateRevocationHandler  http.HandlerFunc
	ConfirmRevocationHandler http.HandlerFunc
	CancelRevocationHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// Key inspection requires key_read; revocation permissions are
		// checked inside the service so denials reach the audit trail
		// under their revoke.* actions.
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequirePermission(models.PermissionKeyRead))

			r.Get("/api/v1/keys", orNotImplemented(deps.ListKeysHandler))
			r.Get("/api/v1/keys/{keyID}", orNotImplemented(deps.GetKeyHandler))
		})

		r.Post("/api/v1/keys/{keyID}/revocations", orNotImplemented(deps.CreateRevocationHandler))
		r.Post("/api/v1/revocations/{requestID}/confirm", orNotImplemented(deps.ConfirmRevocationHandler))
		r.Post("/api/v1/revocations/{requestID}/cancel", orNotImplemented(deps.CancelRevocationHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented")
	}
}
