// Package session keeps the most recent risk result per caller session.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// ErrNotFound is returned when a session holds no result
var ErrNotFound = errors.New("session not found")

// Store keeps the last RiskResult for a session id
type Store interface {
	Put(ctx context.Context, sessionID string, result *domain.RiskResult) error
	Get(ctx context.Context, sessionID string) (*domain.RiskResult, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// New builds the store selected by configuration
func New(cfg domain.SessionConfig, logger *logrus.Logger) (Store, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxEntries, ttl), nil
	case "redis":
		return NewRedisStore(cfg.RedisURL, ttl, logger)
	default:
		return nil, fmt.Errorf("unknown session backend: %s", cfg.Backend)
	}
}
