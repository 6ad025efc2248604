package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Repository defines token lookups for the authenticator.
type Repository interface {
	FindBySubject(ctx context.Context, subject string) (*Token, error)
}

// StaticRepository serves tokens parsed from configuration.
type StaticRepository struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// ParseTokens reads "subject:bcrypt-hash" pairs separated by commas.
func ParseTokens(spec string) (*StaticRepository, error) {
	repo := &StaticRepository{tokens: make(map[string]Token)}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		subject, hash, ok := strings.Cut(entry, ":")
		subject = strings.TrimSpace(subject)
		hash = strings.TrimSpace(hash)
		if !ok || subject == "" || hash == "" {
			return nil, fmt.Errorf("auth: malformed token entry %q", entry)
		}
		if strings.Contains(subject, ".") {
			return nil, fmt.Errorf("auth: subject %q must not contain '.'", subject)
		}
		if err := repo.Put(Token{Subject: subject, Hash: []byte(hash)}); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// Put adds a token. A subject holds at most one token.
func (r *StaticRepository) Put(token Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[token.Subject]; exists {
		return fmt.Errorf("auth: duplicate token for subject %q", token.Subject)
	}
	r.tokens[token.Subject] = token
	return nil
}

// FindBySubject returns the token configured for subject.
func (r *StaticRepository) FindBySubject(ctx context.Context, subject string) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[subject]
	if !ok {
		return nil, ErrUnknownSubject
	}
	return &token, nil
}

// Len reports the number of configured tokens.
func (r *StaticRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

var _ Repository = (*StaticRepository)(nil)
