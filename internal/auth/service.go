package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// Service wraps token authentication rules.
type Service struct {
	repo       Repository
	superusers map[string]struct{}
}

// NewService constructs a new Service. Subjects listed in superusers bypass permission checks.
func NewService(repo Repository, superusers []string) *Service {
	set := make(map[string]struct{}, len(superusers))
	for _, id := range superusers {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return &Service{repo: repo, superusers: set}
}

// Authenticate validates a "subject.secret" token and returns the subject it names.
func (s *Service) Authenticate(ctx context.Context, raw string) (rbac.Subject, error) {
	subject, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || subject == "" || secret == "" {
		return rbac.Anonymous, ErrInvalidCredentials
	}
	token, err := s.repo.FindBySubject(ctx, subject)
	if err != nil {
		return rbac.Anonymous, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(token.Hash, []byte(secret)); err != nil {
		return rbac.Anonymous, ErrInvalidCredentials
	}
	_, super := s.superusers[subject]
	return rbac.Subject{ID: subject, Superuser: super}, nil
}

// HashSecret returns the bcrypt hash stored for a token secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
