package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	OnHand(ctx context.Context, skuID int64) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
}

// Service serves stock queries. On-hand figures go through an advisory Redis
// cache; allocation never reads the cache, only locked batch rows.
type Service struct {
	repo   RepositoryPort
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewService builds Service. cache may be nil, which disables caching.
func NewService(repo RepositoryPort, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func onHandKey(skuID int64) string {
	return fmt.Sprintf("stock:onhand:%d", skuID)
}

// OnHand returns the total available quantity for a SKU.
func (s *Service) OnHand(ctx context.Context, skuID int64) (int64, error) {
	if skuID == 0 {
		return 0, errors.New("stock: sku required")
	}
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, onHandKey(skuID)).Result(); err == nil {
			if qty, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
				return qty, nil
			}
		}
	}
	// Concurrent misses for the same SKU collapse into one repository read.
	resultChan := s.group.DoChan(onHandKey(skuID), func() (interface{}, error) {
		qty, err := s.repo.OnHand(ctx, skuID)
		if err != nil {
			return int64(0), err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, onHandKey(skuID), strconv.FormatInt(qty, 10), s.ttl).Err(); err != nil && s.logger != nil {
				s.logger.Warn("cache on-hand set failed", slog.Int64("sku_id", skuID), slog.Any("error", err))
			}
		}
		return qty, nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// InvalidateOnHand drops cached on-hand figures after a pipeline commits.
func (s *Service) InvalidateOnHand(ctx context.Context, skuIDs ...int64) {
	if s == nil || s.cache == nil || len(skuIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(skuIDs))
	for _, id := range skuIDs {
		keys = append(keys, onHandKey(id))
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil && s.logger != nil {
		s.logger.Warn("cache on-hand invalidate failed", slog.Any("error", err))
	}
}

// Movements lists the movement audit trail.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// Batch loads one batch.
func (s *Service) Batch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}
