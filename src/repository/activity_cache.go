package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"

	"github.com/ambirelabs/walletcore/src/domain"
)

const activityCacheTTL = 24 * time.Hour

// ActivityCache holds hot per-account settlement snapshots in Redis so
// reconciliation passes do not hit the database on every read.
type ActivityCache struct {
	redis     *redis.Client
	keyPrefix string
}

func NewActivityCache(redis *redis.Client, keyPrefix string) *ActivityCache {
	return &ActivityCache{
		redis:     redis,
		keyPrefix: keyPrefix,
	}
}

func (c *ActivityCache) key(account common.Address) string {
	return fmt.Sprintf("%s:ops:%s", c.keyPrefix, account.Hex())
}

// GetAccountOps returns the cached snapshot, or nil on a cache miss.
func (c *ActivityCache) GetAccountOps(ctx context.Context, account common.Address) (map[int64][]*domain.SubmittedAccountOp, error) {
	data, err := c.redis.Get(ctx, c.key(account)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached ops: %w", err)
	}

	var buckets map[int64][]*domain.SubmittedAccountOp
	if err := json.Unmarshal([]byte(data), &buckets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached ops: %w", err)
	}
	return buckets, nil
}

// SetAccountOps replaces the cached snapshot.
func (c *ActivityCache) SetAccountOps(ctx context.Context, account common.Address, buckets map[int64][]*domain.SubmittedAccountOp) error {
	data, err := json.Marshal(buckets)
	if err != nil {
		return fmt.Errorf("failed to marshal ops: %w", err)
	}
	return c.redis.Set(ctx, c.key(account), data, activityCacheTTL).Err()
}

// InvalidateAccountOps drops the cached snapshot.
func (c *ActivityCache) InvalidateAccountOps(ctx context.Context, account common.Address) error {
	return c.redis.Del(ctx, c.key(account)).Err()
}

// CachedActivityStore is a read-through, write-through composite over the
// Redis cache and the database repository.
type CachedActivityStore struct {
	cache *ActivityCache
	repo  *ActivityRepository
}

func NewCachedActivityStore(cache *ActivityCache, repo *ActivityRepository) *CachedActivityStore {
	return &CachedActivityStore{cache: cache, repo: repo}
}

func (s *CachedActivityStore) LoadAccountOps(ctx context.Context, account common.Address) (map[int64][]*domain.SubmittedAccountOp, error) {
	buckets, err := s.cache.GetAccountOps(ctx, account)
	if err == nil && buckets != nil {
		return buckets, nil
	}

	buckets, err = s.repo.LoadAccountOps(ctx, account)
	if err != nil {
		return nil, err
	}
	// cache failures are not load failures
	_ = s.cache.SetAccountOps(ctx, account, buckets)
	return buckets, nil
}

func (s *CachedActivityStore) SaveAccountOps(ctx context.Context, account common.Address, buckets map[int64][]*domain.SubmittedAccountOp) error {
	if err := s.repo.SaveAccountOps(ctx, account, buckets); err != nil {
		return err
	}
	if err := s.cache.SetAccountOps(ctx, account, buckets); err != nil {
		// stale cache is worse than no cache
		_ = s.cache.InvalidateAccountOps(ctx, account)
	}
	return nil
}

func (s *CachedActivityStore) TrackedAccounts(ctx context.Context) ([]common.Address, error) {
	return s.repo.TrackedAccounts(ctx)
}
