package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/logging"
	"bitetrack/backend/internal/metrics"
	"bitetrack/backend/internal/store"
)

const systemActor = "system"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func actorID(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.SellerID != "" {
		return actor.SellerID
	}
	return systemActor
}

type Service struct {
	repo    store.Repository
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces the wall clock used for timestamps and the undo window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// failureReason turns a store error into a short metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, store.ErrDuplicateTransaction):
		return "duplicate"
	case errors.Is(err, store.ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, store.ErrAlreadyUndone):
		return "already_undone"
	case errors.Is(err, store.ErrUndoWindowExpired):
		return "undo_window_expired"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
