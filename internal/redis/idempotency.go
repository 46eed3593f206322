package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a completed alert creation is replayable
	// under the client's Idempotency-Key.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL bounds the lock held while the first request dispatches.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates the key is held by a request still in flight.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key is being processed")

// IdempotencyResult is what a replayed POST /alerts answers with.
type IdempotencyResult struct {
	AlertID    string `json:"alert_id"`
	StatusCode int    `json:"status_code"`
	Submitted  int    `json:"submitted"`
	Failed     int    `json:"failed"`
	CreatedAt  int64  `json:"created_at"`
}

// IdempotencyService provides idempotency guarantees using Redis. Keys are
// scoped per caller so two callers may reuse the same key.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(caller, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:alerts:%s:%s", caller, idempotencyKey)
}

// Check retrieves a cached result for an idempotency key.
// Returns (nil, nil) if key doesn't exist, (result, nil) if found,
// or ErrDuplicateRequest if the key is currently being processed.
func (s *IdempotencyService) Check(ctx context.Context, caller, idempotencyKey string) (*IdempotencyResult, error) {
	key := s.buildKey(caller, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("caller", caller),
		zap.String("alert_id", result.AlertID),
	)

	return &result, nil
}

// Store saves the result of a completed request, replacing the reservation.
func (s *IdempotencyService) Store(ctx context.Context, caller, idempotencyKey string, result *IdempotencyResult, ttl time.Duration) error {
	key := s.buildKey(caller, idempotencyKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Reserve acquires an idempotency lock using SET NX.
// Returns true if lock acquired, false if key already exists.
func (s *IdempotencyService) Reserve(ctx context.Context, caller, idempotencyKey string) (bool, error) {
	key := s.buildKey(caller, idempotencyKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return set, nil
}

// Release drops a reservation so the client can retry after a failed request.
// A stored result is left alone.
func (s *IdempotencyService) Release(ctx context.Context, caller, idempotencyKey string) error {
	key := s.buildKey(caller, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if val != processingMarker {
		return nil
	}

	if err := s.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// CheckOrReserve returns the cached result if one exists, otherwise reserves
// the key and returns (nil, nil).
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, caller, idempotencyKey string) (*IdempotencyResult, error) {
	result, err := s.Check(ctx, caller, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, caller, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}
