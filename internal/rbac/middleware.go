package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

type subjectContextKey struct{}

// ContextWithSubject stores the calling subject in ctx.
func ContextWithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the calling subject, or Anonymous when none was stored.
func SubjectFromContext(ctx context.Context) Subject {
	subject, ok := ctx.Value(subjectContextKey{}).(Subject)
	if !ok {
		return Anonymous
	}
	return subject
}

// GlobalChecker answers global permission questions. Service satisfies it.
type GlobalChecker interface {
	HasGlobalPermission(ctx context.Context, subject Subject, code string) (bool, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service GlobalChecker
	Logger  *slog.Logger
}

// RequireAuthenticated rejects anonymous callers with 401.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SubjectFromContext(r.Context()).IsAnonymous() {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireGlobal ensures the caller holds every code through global assignments.
func (m Middleware) RequireGlobal(codes ...string) func(http.Handler) http.Handler {
	normalized, _ := normalizeCodes(codes)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := SubjectFromContext(r.Context())
			if subject.IsAnonymous() {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			for _, code := range normalized {
				ok, err := m.Service.HasGlobalPermission(r.Context(), subject, code)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("rbac require global", slog.Any("error", err))
					}
					httpx.RespondError(w, err)
					return
				}
				if !ok {
					httpx.RespondError(w, Forbidden(code))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Forbidden builds the error returned when the caller lacks code.
func Forbidden(code string) error {
	return fmt.Errorf("%w: you do not have permission %s", httpx.ErrForbidden, code)
}

// HTTPError wraps RBAC errors with the HTTP sentinel matching their meaning.
func HTTPError(err error) error {
	var (
		unregistered *UnregisteredTypeError
		invalid      *InvalidPermissionError
		scope        *ScopeMismatchError
		notGlobal    *NotGlobalDefinitionError
		duplicate    *DuplicateNameError
		related      *RelatedPermissionDeniedError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &related):
		return fmt.Errorf("%w: %w", httpx.ErrForbidden, err)
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.As(err, &duplicate):
		return fmt.Errorf("%w: %w", httpx.ErrDuplicate, err)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrHierarchyCycle),
		errors.As(err, &unregistered), errors.As(err, &invalid),
		errors.As(err, &scope), errors.As(err, &notGlobal):
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	default:
		return err
	}
}
