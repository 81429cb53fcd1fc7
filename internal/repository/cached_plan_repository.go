package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/logger"
	pkgredis "github.com/prohmpiriya/subscription-payments/pkg/redis"
)

const planCacheKeyPrefix = "subscription:plan:"

// JSONCache is satisfied by *pkg/redis.Client
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedPlanRepository is a read-through cache in front of a PlanRepository.
// Cache failures fall through to the underlying repository.
type CachedPlanRepository struct {
	next  PlanRepository
	cache JSONCache
	ttl   time.Duration
}

func NewCachedPlanRepository(next PlanRepository, cache JSONCache, ttl time.Duration) *CachedPlanRepository {
	return &CachedPlanRepository{next: next, cache: cache, ttl: ttl}
}

func (r *CachedPlanRepository) GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	key := planCacheKeyPrefix + id

	var cached domain.SubscriptionPlan
	err := r.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, pkgredis.ErrCacheMiss) {
		logger.Get().Warn("plan cache read failed", zap.String("plan_id", id), zap.Error(err))
	}

	plan, err := r.next.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, key, plan, r.ttl); err != nil {
		logger.Get().Warn("plan cache write failed", zap.String("plan_id", id), zap.Error(err))
	}
	return plan, nil
}

func (r *CachedPlanRepository) GetActivePlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	plan, err := r.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return activeOnly(plan)
}
