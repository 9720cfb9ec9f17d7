package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
)

// Key prefixes for ledger cache entries
const (
	chainTailKey    = "ledger:chain:tail"
	verificationKey = "ledger:verification:latest"
)

// TTLs. The chain tail is advisory only (the store re-reads it under lock on
// every append); verification snapshots feed health checks between full walks.
const (
	chainTailTTL    = 5 * time.Minute
	verificationTTL = time.Minute
)

// LedgerCache caches chain state in Redis for cheap health probes and
// operational dashboards. Cache-aside with graceful degradation: every
// method tolerates a missing or unreachable Redis and the caller falls
// back to storage.
type LedgerCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLedgerCache creates a Redis-backed ledger cache
func NewLedgerCache(client *redis.Client, logger *zap.Logger) *LedgerCache {
	return &LedgerCache{client: client, logger: logger}
}

// SetChainTail records the latest chain digest
func (c *LedgerCache) SetChainTail(ctx context.Context, hash string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, chainTailKey, hash, chainTailTTL).Err(); err != nil {
		c.logger.Debug("failed to cache chain tail", zap.Error(err))
	}
}

// ChainTail returns the cached chain digest, or ok=false on miss or error
func (c *LedgerCache) ChainTail(ctx context.Context) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	hash, err := c.client.Get(ctx, chainTailKey).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("failed to read cached chain tail", zap.Error(err))
		}
		return "", false
	}
	return hash, true
}

// SetVerification stores the most recent verification result so health
// checks don't re-walk the whole ledger on every probe
func (c *LedgerCache) SetVerification(ctx context.Context, result *ledger.ChainVerificationResult, ttl time.Duration) {
	if c == nil || c.client == nil || result == nil {
		return
	}
	if ttl <= 0 {
		ttl = verificationTTL
	}
	payload, err := json.Marshal(result)
	if err != nil {
		c.logger.Debug("failed to marshal verification result", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, verificationKey, payload, ttl).Err(); err != nil {
		c.logger.Debug("failed to cache verification result", zap.Error(err))
	}
}

// Verification returns the cached verification result, or ok=false
func (c *LedgerCache) Verification(ctx context.Context) (*ledger.ChainVerificationResult, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, verificationKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("failed to read cached verification", zap.Error(err))
		}
		return nil, false
	}
	var result ledger.ChainVerificationResult
	if err := json.Unmarshal(payload, &result); err != nil {
		c.logger.Debug("failed to unmarshal cached verification", zap.Error(err))
		return nil, false
	}
	return &result, true
}

// InvalidateVerification drops the cached verification result. Called after
// retention purges, which change what a valid chain looks like.
func (c *LedgerCache) InvalidateVerification(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, verificationKey, chainTailKey).Err(); err != nil {
		c.logger.Debug("failed to invalidate verification cache", zap.Error(err))
	}
}
