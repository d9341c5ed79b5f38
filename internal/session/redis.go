package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/cardiovision-risk-engine/internal/domain"
)

const keyPrefix = "cardio:session:"

// RedisStore shares session results between API replicas. Calls go through a
// circuit breaker so a dead Redis fails fast instead of stalling requests.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewRedisStore parses the URL and creates a client. No connection is made until first use.
func NewRedisStore(url string, ttl time.Duration, logger *logrus.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return NewRedisStoreWithOptions(opts, ttl, logger), nil
}

// NewRedisStoreWithOptions creates a store from explicit client options
func NewRedisStoreWithOptions(opts *redis.Options, ttl time.Duration, logger *logrus.Logger) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(opts),
		ttl:    ttl,
		logger: logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "redis-session",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker changed state")
			},
		}),
	}
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Put stores a result as JSON with the configured TTL
func (s *RedisStore) Put(ctx context.Context, sessionID string, result *domain.RiskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal session result: %w", err)
	}
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, keyPrefix+sessionID, data, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get returns the last result for the session. A miss does not count
// against the breaker.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.RiskResult, error) {
	val, err := s.breaker.Execute(func() (interface{}, error) {
		data, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	data, _ := val.([]byte)
	if data == nil {
		return nil, ErrNotFound
	}

	var result domain.RiskResult
	if err := json.Unmarshal(data, &result); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("Dropping corrupted session entry")
		s.client.Del(ctx, keyPrefix+sessionID)
		return nil, ErrNotFound
	}
	return &result, nil
}

// Delete forgets a session
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, keyPrefix+sessionID).Err()
	})
	return err
}

// State reports the breaker state
func (s *RedisStore) State() gobreaker.State {
	return s.breaker.State()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
