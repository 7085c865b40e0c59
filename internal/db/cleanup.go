package db

import (
	"context"
	"log/slog"
	"time"

	"identity/internal/clock"
)

const (
	DefaultCleanupInterval = 1 * time.Hour

	// Idempotency records only need to outlive plausible client retries.
	idempotencyRetention = 24 * time.Hour
)

type CleanupService struct {
	tokens      *TokenRepository
	sessions    *SessionRepository
	idempotency *IdempotencyRepository
	clock       clock.Clock
	interval    time.Duration
}

func NewCleanupService(
	tokens *TokenRepository,
	sessions *SessionRepository,
	idempotency *IdempotencyRepository,
	clk clock.Clock,
) *CleanupService {
	return &CleanupService{
		tokens:      tokens,
		sessions:    sessions,
		idempotency: idempotency,
		clock:       clk,
		interval:    DefaultCleanupInterval,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting cleanup service", "component", "cleanup", "interval", s.interval)

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	now := s.clock.Now()

	tokensDeleted, err := s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		slog.Error("error deleting expired tokens", "component", "cleanup", "error", err)
	} else if tokensDeleted > 0 {
		slog.Info("deleted expired tokens", "component", "cleanup", "count", tokensDeleted)
	}

	sessionsDeleted, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		slog.Error("error deleting expired sessions", "component", "cleanup", "error", err)
	} else if sessionsDeleted > 0 {
		slog.Info("deleted expired sessions", "component", "cleanup", "count", sessionsDeleted)
	}

	recordsDeleted, err := s.idempotency.DeleteOlderThan(ctx, now.Add(-idempotencyRetention))
	if err != nil {
		slog.Error("error deleting stale idempotency records", "component", "cleanup", "error", err)
	} else if recordsDeleted > 0 {
		slog.Info("deleted stale idempotency records", "component", "cleanup", "count", recordsDeleted)
	}
}
