package rbachttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// Service is the subset of rbac.Service the admin API depends on.
type Service interface {
	CreateFromPermissions(ctx context.Context, name string, permissions []string, contentType string) (rbac.RoleDefinition, error)
	DeleteDefinition(ctx context.Context, id int64) error
	Definition(ctx context.Context, id int64) (rbac.RoleDefinition, error)
	Definitions(ctx context.Context) ([]rbac.RoleDefinition, error)
	GivePermission(ctx context.Context, def rbac.RoleDefinition, subject string, target *rbac.ObjectRef) (rbac.Assignment, error)
	Revoke(ctx context.Context, id int64) error
	Assignment(ctx context.Context, id int64) (rbac.Assignment, error)
	Assignments(ctx context.Context, filter rbac.AssignmentFilter) ([]rbac.Assignment, error)
	HasPermission(ctx context.Context, subject rbac.Subject, code string, obj rbac.ObjectRef) (bool, error)
	HasGlobalPermission(ctx context.Context, subject rbac.Subject, code string) (bool, error)
}

// Handler serves the role definition and role assignment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
}

// NewHandler constructs the admin API handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

type listResponse[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

type definitionRequest struct {
	Name        string   `json:"name" validate:"required,max=512"`
	ContentType string   `json:"content_type"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,required"`
}

type assignmentRequest struct {
	RoleDefinition int64  `json:"role_definition" validate:"required,gt=0"`
	User           string `json:"user" validate:"required"`
	ObjectID       string `json:"object_id"`
}

func (h *Handler) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.service.Definitions(r.Context())
	if err != nil {
		h.fail(w, "list role definitions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[rbac.RoleDefinition]{Count: len(defs), Results: defs})
}

func (h *Handler) createDefinition(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuperuser(w, r) {
		return
	}
	var req definitionRequest
	if !httpx.Decode(w, r, h.validator, &req) {
		return
	}
	def, err := h.service.CreateFromPermissions(r.Context(), req.Name, req.Permissions, req.ContentType)
	if err != nil {
		h.fail(w, "create role definition", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, def)
}

func (h *Handler) getDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	def, err := h.service.Definition(r.Context(), id)
	if err != nil {
		h.fail(w, "get role definition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, def)
}

func (h *Handler) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuperuser(w, r) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDefinition(r.Context(), id); err != nil {
		h.fail(w, "delete role definition", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	subject := rbac.SubjectFromContext(r.Context())
	q := r.URL.Query()
	filter := rbac.AssignmentFilter{Subject: strings.TrimSpace(q.Get("user"))}
	if raw := q.Get("role_definition"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Fields(w, http.StatusBadRequest, map[string][]string{"role_definition": {"A valid integer is required."}})
			return
		}
		filter.DefinitionID = id
	}
	if objType, objID := q.Get("object_type"), q.Get("object_id"); objType != "" && objID != "" {
		filter.Object = rbac.Ref(objType, objID)
	}
	if !subject.Superuser {
		if filter.Subject != "" && filter.Subject != subject.ID {
			httpx.JSON(w, http.StatusOK, listResponse[rbac.Assignment]{Results: []rbac.Assignment{}})
			return
		}
		filter.Subject = subject.ID
	}
	list, err := h.service.Assignments(r.Context(), filter)
	if err != nil {
		h.fail(w, "list role assignments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[rbac.Assignment]{Count: len(list), Results: list})
}

func (h *Handler) createAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !httpx.Decode(w, r, h.validator, &req) {
		return
	}
	def, err := h.service.Definition(r.Context(), req.RoleDefinition)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httpx.Fields(w, http.StatusBadRequest, map[string][]string{"role_definition": {"Role definition does not exist."}})
			return
		}
		h.fail(w, "load role definition", err)
		return
	}
	target, ok := assignmentTarget(w, def, req.ObjectID)
	if !ok {
		return
	}
	if !h.authorizeDelegation(w, r, def, target) {
		return
	}
	a, err := h.service.GivePermission(r.Context(), def, req.User, target)
	if err != nil {
		h.fail(w, "give permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) getAssignment(w http.ResponseWriter, r *http.Request) {
	a, ok := h.visibleAssignment(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) deleteAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Assignment(r.Context(), id)
	if err != nil {
		h.fail(w, "load role assignment", err)
		return
	}
	def, err := h.service.Definition(r.Context(), a.DefinitionID)
	if err != nil {
		h.fail(w, "load role definition", err)
		return
	}
	if !h.authorizeDelegation(w, r, def, a.Object) {
		return
	}
	if err := h.service.Revoke(r.Context(), id); err != nil {
		h.fail(w, "revoke permission", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) visibleAssignment(w http.ResponseWriter, r *http.Request) (rbac.Assignment, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return rbac.Assignment{}, false
	}
	a, err := h.service.Assignment(r.Context(), id)
	if err != nil {
		h.fail(w, "get role assignment", err)
		return rbac.Assignment{}, false
	}
	subject := rbac.SubjectFromContext(r.Context())
	if !subject.Superuser && a.Subject != subject.ID {
		httpx.RespondError(w, rbac.HTTPError(rbac.ErrNotFound))
		return rbac.Assignment{}, false
	}
	return a, true
}

// authorizeDelegation lets superusers through, and otherwise requires the caller to
// hold every permission of def on target (globally for global definitions).
func (h *Handler) authorizeDelegation(w http.ResponseWriter, r *http.Request, def rbac.RoleDefinition, target *rbac.ObjectRef) bool {
	subject := rbac.SubjectFromContext(r.Context())
	if subject.Superuser {
		return true
	}
	for _, code := range def.Permissions {
		var (
			allowed bool
			err     error
		)
		if target == nil {
			allowed, err = h.service.HasGlobalPermission(r.Context(), subject, code)
		} else {
			allowed, err = h.service.HasPermission(r.Context(), subject, code, *target)
		}
		if err != nil {
			h.fail(w, "authorize delegation", err)
			return false
		}
		if !allowed {
			httpx.RespondError(w, rbac.Forbidden(code))
			return false
		}
	}
	return true
}

func (h *Handler) requireSuperuser(w http.ResponseWriter, r *http.Request) bool {
	if rbac.SubjectFromContext(r.Context()).Superuser {
		return true
	}
	httpx.RespondError(w, rbac.Forbidden("superuser"))
	return false
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := rbac.HTTPError(err)
	if !httpx.IsClientError(mapped) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

func assignmentTarget(w http.ResponseWriter, def rbac.RoleDefinition, objectID string) (*rbac.ObjectRef, bool) {
	objectID = strings.TrimSpace(objectID)
	switch {
	case def.IsGlobal() && objectID != "":
		httpx.Fields(w, http.StatusBadRequest, map[string][]string{"object_id": {"Global role definitions can not target an object."}})
		return nil, false
	case !def.IsGlobal() && objectID == "":
		httpx.Fields(w, http.StatusBadRequest, map[string][]string{"object_id": {"This field is required."}})
		return nil, false
	case def.IsGlobal():
		return nil, true
	default:
		return rbac.Ref(def.ContentType, objectID), true
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, rbac.HTTPError(rbac.ErrNotFound))
		return 0, false
	}
	return id, true
}
