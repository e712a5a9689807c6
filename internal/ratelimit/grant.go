package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	"github.com/alicialibros/loyalty/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyGrantCredential = "loyalty:grant:key:%s"

// GrantLimiter throttles point grants per presented credential. Buckets are
// keyed by the credential hash so the raw key never reaches redis.
type GrantLimiter struct {
	enabled bool

	client *redis.Client
	bucket *TokenBucket

	rate  float64
	burst int
}

func NewGrantLimiter(cfg config.Config) (*GrantLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.GrantKeyRate <= 0 || limitCfg.GrantKeyBurst <= 0 {
		return nil, errors.New("grant rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &GrantLimiter{
		enabled: true,
		client:  client,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.GrantKeyRate,
		burst:   limitCfg.GrantKeyBurst,
	}, nil
}

func (l *GrantLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowGrant takes one token from the bucket of the presented API key.
func (l *GrantLimiter) AllowGrant(ctx context.Context, apiKey string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, grantBucketKey(apiKey), l.rate, l.burst)
}

func (l *GrantLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

func grantBucketKey(apiKey string) string {
	hash := apikeydomain.HashAPIKey(apiKey)
	if len(hash) > 32 {
		hash = hash[:32]
	}
	return fmt.Sprintf(keyGrantCredential, hash)
}
