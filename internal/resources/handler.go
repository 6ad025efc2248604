package resources

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// ServicePort is the contract the HTTP handler needs from Service.
type ServicePort interface {
	List(ctx context.Context, subject rbac.Subject, typ string) ([]Resource, error)
	Get(ctx context.Context, subject rbac.Subject, typ, id string) (Resource, error)
	Create(ctx context.Context, subject rbac.Subject, typ string, in Input) (Resource, error)
	Update(ctx context.Context, subject rbac.Subject, typ, id string, in Input, replace bool) (Resource, error)
	Delete(ctx context.Context, subject rbac.Subject, typ, id string) error
	Act(ctx context.Context, subject rbac.Subject, typ, id, action string) (Resource, error)
	HasGlobalPermission(ctx context.Context, subject rbac.Subject, code string) (bool, error)
}

// Handler exposes governed objects over JSON.
type Handler struct {
	logger   *slog.Logger
	service  ServicePort
	registry *rbac.Registry
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service ServicePort, registry *rbac.Registry) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, registry: registry}
}

// MountRoutes registers one collection per governed kind. Anonymous callers get 401.
// Creating a type without a parent needs its add permission globally.
func (h *Handler) MountRoutes(r chi.Router) {
	guard := rbac.Middleware{Service: h.service, Logger: h.logger}
	for _, kind := range Kinds {
		kind := kind
		r.Route("/"+kind.Path, func(r chi.Router) {
			r.Use(guard.RequireAuthenticated)
			r.Get("/", h.list(kind.Type))
			if code, ok := h.rootAddCode(kind.Type); ok {
				r.With(guard.RequireGlobal(code)).Post("/", h.create(kind.Type))
			} else {
				r.Post("/", h.create(kind.Type))
			}
			r.Get("/{id}", h.detail(kind.Type))
			r.Patch("/{id}", h.update(kind.Type, false))
			r.Put("/{id}", h.update(kind.Type, true))
			r.Delete("/{id}", h.remove(kind.Type))
			for path, action := range kind.Actions {
				r.Post("/{id}/"+path, h.act(kind.Type, action))
			}
		})
	}
}

func (h *Handler) rootAddCode(typ string) (string, bool) {
	rt, err := h.registry.Type(typ)
	if err != nil || rt.Parent != nil {
		return "", false
	}
	return h.registry.Code(typ, "add")
}

type listPayload struct {
	Count   int        `json:"count"`
	Results []Resource `json:"results"`
}

func (h *Handler) list(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := h.service.List(r.Context(), rbac.SubjectFromContext(r.Context()), typ)
		if err != nil {
			h.fail(w, "list resources", err)
			return
		}
		httpx.JSON(w, http.StatusOK, listPayload{Count: len(items), Results: items})
	}
}

func (h *Handler) detail(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.service.Get(r.Context(), rbac.SubjectFromContext(r.Context()), typ, chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, "get resource", err)
			return
		}
		httpx.JSON(w, http.StatusOK, res)
	}
}

func (h *Handler) create(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := h.decodeInput(r, typ)
		if err != nil {
			h.fail(w, "decode resource", err)
			return
		}
		res, err := h.service.Create(r.Context(), rbac.SubjectFromContext(r.Context()), typ, in)
		if err != nil {
			h.fail(w, "create resource", err)
			return
		}
		httpx.JSON(w, http.StatusCreated, res)
	}
}

func (h *Handler) update(typ string, replace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := h.decodeInput(r, typ)
		if err != nil {
			h.fail(w, "decode resource", err)
			return
		}
		res, err := h.service.Update(r.Context(), rbac.SubjectFromContext(r.Context()), typ, chi.URLParam(r, "id"), in, replace)
		if err != nil {
			h.fail(w, "update resource", err)
			return
		}
		httpx.JSON(w, http.StatusOK, res)
	}
}

func (h *Handler) remove(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Delete(r.Context(), rbac.SubjectFromContext(r.Context()), typ, chi.URLParam(r, "id")); err != nil {
			h.fail(w, "delete resource", err)
			return
		}
		httpx.NoContent(w)
	}
}

func (h *Handler) act(typ string, action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.service.Act(r.Context(), rbac.SubjectFromContext(r.Context()), typ, chi.URLParam(r, "id"), action.Permission); err != nil {
			h.fail(w, "resource action", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"detail": action.Detail})
	}
}

// readOnlyFields are accepted in bodies and ignored.
var readOnlyFields = map[string]struct{}{"id": {}, "created": {}, "created_by": {}}

// decodeInput reads a JSON object body. Relation fields accept an ID string or null.
func (h *Handler) decodeInput(r *http.Request, typ string) (Input, error) {
	rt, err := h.registry.Type(typ)
	if err != nil {
		return Input{}, err
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Input{}, invalidField("non_field_errors", "Invalid JSON body.")
	}
	in := Input{Relations: make(map[string]*string)}
	for field, value := range raw {
		if _, ok := readOnlyFields[field]; ok {
			continue
		}
		if field == "name" {
			var name string
			if err := json.Unmarshal(value, &name); err != nil {
				return Input{}, invalidField(field, "Not a valid string.")
			}
			in.Name = &name
			continue
		}
		if _, ok := rt.RelatedType(field); !ok {
			return Input{}, invalidField(field, "Unknown field.")
		}
		var id *string
		if err := json.Unmarshal(value, &id); err != nil {
			return Input{}, invalidField(field, "Incorrect type. Expected pk value.")
		}
		in.Relations[field] = id
	}
	return in, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := rbac.HTTPError(err)
	if !httpx.IsClientError(mapped) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}
