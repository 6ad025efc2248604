package rbac

import (
	"context"
	"log/slog"
	"sync"
)

// ServiceConfig carries the optional collaborators of a Service.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Cache   *Cache
}

// Service is the entry point for definition management, assignment management and
// permission evaluation. Mutations hold the write lock across the store write and the
// cache invalidation, so an evaluation never observes a change without its invalidation.
type Service struct {
	registry *Registry
	store    Store
	cache    *Cache
	logger   *slog.Logger
	metrics  *Metrics

	mu sync.RWMutex
}

// NewService wires the registry and store together. The registry should already be sealed.
func NewService(registry *Registry, store Store, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		store:    store,
		cache:    cfg.Cache,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Registry exposes the registry the service evaluates against.
func (s *Service) Registry() *Registry {
	return s.registry
}

// invalidateAll orphans every cached decision. Callers hold the write lock.
func (s *Service) invalidateAll(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Error("rbac cache bump", slog.Any("error", err))
	}
}

// invalidateSubjects orphans the cached decisions of subjects. Callers hold the write lock.
func (s *Service) invalidateSubjects(ctx context.Context, subjects ...string) {
	if err := s.cache.BumpSubjects(ctx, subjects...); err != nil {
		s.logger.Error("rbac cache bump subjects", slog.Any("error", err), slog.Int("subjects", len(subjects)))
	}
}
