package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/utils/apperr"
	"github.com/driftchat/api/utils/cache"
)

const (
	// hourlyBucketCapacity is the burst size of the per-user hourly limiter
	hourlyBucketCapacity = 20.0
	// ownKeyHourlyCapacity is the larger bucket for senders spending their
	// own provider credentials
	ownKeyHourlyCapacity = 100.0
	// hourlyBucketTTL keeps stale buckets from accumulating in Redis
	hourlyBucketTTL = 2 * time.Hour
)

// bucketStore is the slice of the Redis cache the hourly limiter needs
type bucketStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// hourlyBucket is the Redis-persisted token bucket state for one user
type hourlyBucket struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill"` // unix milliseconds
}

// RateLimitService enforces the two send limits: a smoothing hourly token
// bucket in Redis and a hard daily message quota in Postgres.
type RateLimitService struct {
	buckets        bucketStore
	messagesPerDay int
}

// NewRateLimitService creates a new rate limit service. redisCache may be
// nil, in which case the hourly limiter is disabled.
func NewRateLimitService(redisCache *cache.RedisCache, messagesPerDay int) *RateLimitService {
	s := &RateLimitService{messagesPerDay: messagesPerDay}
	if redisCache != nil {
		s.buckets = redisCache
	}
	return s
}

// CheckHourly takes one token from the user's hourly bucket. Senders using
// their own provider credentials draw from a separate, larger bucket.
// Exhausted buckets return a RateLimitedError carrying the wait until the
// next token. If Redis is unavailable the check passes; cache trouble must
// not block legitimate sends.
func (s *RateLimitService) CheckHourly(ctx context.Context, userID string, ownCreds bool) error {
	if s.buckets == nil {
		return nil
	}
	capacity := hourlyBucketCapacity
	class := "standard"
	if ownCreds {
		capacity = ownKeyHourlyCapacity
		class = "byok"
	}
	key := fmt.Sprintf("msg_rate:hourly:%s:%s", class, userID)
	now := time.Now().UnixMilli()

	bucket := hourlyBucket{Tokens: capacity, LastRefill: now}
	if err := s.buckets.GetJSON(ctx, key, &bucket); err != nil && err != cache.ErrNotFound {
		return nil
	}

	// Continuous refill at capacity tokens per hour
	elapsed := float64(now-bucket.LastRefill) / float64(time.Hour.Milliseconds())
	bucket.Tokens += elapsed * capacity
	if bucket.Tokens > capacity {
		bucket.Tokens = capacity
	}
	bucket.LastRefill = now

	if bucket.Tokens < 1 {
		deficit := 1 - bucket.Tokens
		retryAfter := time.Duration(deficit / capacity * float64(time.Hour))
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return &apperr.RateLimitedError{RetryAfter: retryAfter}
	}

	bucket.Tokens--
	if err := s.buckets.SetJSON(ctx, key, bucket, hourlyBucketTTL); err != nil {
		return nil
	}
	return nil
}

// ConsumeDaily decrements the user's daily message quota inside the caller's
// transaction. A missing row is created at the configured allowance. The
// decrement is a single conditional UPDATE so concurrent sends can never
// take the quota below zero. Returns the remaining count after the
// decrement, or ErrQuotaExceeded when the quota is spent.
func (s *RateLimitService) ConsumeDaily(tx *gorm.DB, userID string) (int, error) {
	seed := model.RateLimit{
		UserID:         userID,
		Name:           model.LimitDailyMessages,
		MessagesLeft:   s.messagesPerDay,
		MessagesPerDay: s.messagesPerDay,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&seed).Error
	if err != nil {
		return 0, fmt.Errorf("failed to seed rate limit row: %w", err)
	}

	result := tx.Model(&model.RateLimit{}).
		Where("user_id = ? AND name = ? AND messages_left > 0", userID, model.LimitDailyMessages).
		UpdateColumn("messages_left", gorm.Expr("messages_left - 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to decrement quota: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, apperr.ErrQuotaExceeded
	}

	var limit model.RateLimit
	if err := tx.Where("user_id = ? AND name = ?", userID, model.LimitDailyMessages).
		First(&limit).Error; err != nil {
		return 0, fmt.Errorf("failed to load rate limit row: %w", err)
	}
	return limit.MessagesLeft, nil
}

// RemainingDaily reports the user's current daily allowance without
// consuming anything. Users without a row have the full allowance.
func (s *RateLimitService) RemainingDaily(db *gorm.DB, userID string) (int, error) {
	var limit model.RateLimit
	err := db.Where("user_id = ? AND name = ?", userID, model.LimitDailyMessages).
		First(&limit).Error
	if err == gorm.ErrRecordNotFound {
		return s.messagesPerDay, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load rate limit row: %w", err)
	}
	return limit.MessagesLeft, nil
}

// ResetDailyQuotas restores every user's daily allowance. Run once a day by
// the scheduler.
func (s *RateLimitService) ResetDailyQuotas(db *gorm.DB) (int64, error) {
	result := db.Model(&model.RateLimit{}).
		Where("name = ?", model.LimitDailyMessages).
		Update("messages_left", gorm.Expr("messages_per_day"))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset daily quotas: %w", result.Error)
	}
	return result.RowsAffected, nil
}
