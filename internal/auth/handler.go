package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// Authenticator is the token check the HTTP layer depends on.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (rbac.Subject, error)
}

// Handler wires bearer-token authentication into HTTP.
type Handler struct {
	logger  *slog.Logger
	service Authenticator
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service Authenticator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// Middleware resolves the Authorization header into the request subject. Requests without
// the header continue as anonymous; a bad token is rejected with 401.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r.WithContext(rbac.ContextWithSubject(r.Context(), rbac.Anonymous)))
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="odyssey"`)
			httpx.RespondError(w, ErrInvalidCredentials)
			return
		}
		subject, err := h.service.Authenticate(r.Context(), token)
		if err != nil {
			h.logger.Warn("token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="odyssey", error="invalid_token"`)
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.ContextWithSubject(r.Context(), subject)))
	})
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	guard := rbac.Middleware{Logger: h.logger}
	r.With(guard.RequireAuthenticated).Get("/whoami", h.whoami)
}

type whoamiResponse struct {
	Subject   string `json:"subject"`
	Superuser bool   `json:"superuser"`
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	subject := rbac.SubjectFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, whoamiResponse{Subject: subject.ID, Superuser: subject.Superuser})
}
