package rbachttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

const rateLimit = 30
const rateWindow = time.Minute

// MountRoutes registers the role management endpoints. Every route requires an
// authenticated subject; writes are rate limited per subject.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "role management rate limit exceeded")
		}),
	)
	guard := rbac.Middleware{Logger: h.logger}
	r.Route("/role_definitions", func(r chi.Router) {
		r.Use(guard.RequireAuthenticated)
		r.Get("/", h.listDefinitions)
		r.Get("/{id}", h.getDefinition)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/", h.createDefinition)
			gr.Delete("/{id}", h.deleteDefinition)
		})
	})
	r.Route("/role_user_assignments", func(r chi.Router) {
		r.Use(guard.RequireAuthenticated)
		r.Get("/", h.listAssignments)
		r.Get("/{id}", h.getAssignment)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/", h.createAssignment)
			gr.Delete("/{id}", h.deleteAssignment)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if subject := rbac.SubjectFromContext(r.Context()); !subject.IsAnonymous() {
		return "subject:" + subject.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
