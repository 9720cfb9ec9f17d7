package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/cache"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/database"
)

// countingEvents counts chain walks so tests can tell a cached status from
// a fresh verification
type countingEvents struct {
	ledger.EventRepository
	walks atomic.Int64
}

func (c *countingEvents) Walk(ctx context.Context, fn func(*ledger.Event) (bool, error)) (int, error) {
	c.walks.Add(1)
	return c.EventRepository.Walk(ctx, fn)
}

func TestQuickStatusUsesSnapshot(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := database.NewMemoryStore()
	events := &countingEvents{EventRepository: store.Events()}

	for i := 0; i < 5; i++ {
		event, err := ledger.NewEvent(ledger.EventSystemAction, "op")
		require.NoError(t, err)
		require.NoError(t, store.Events().Append(ctx, event))
	}

	var mu sync.Mutex
	integrity := NewIntegrityService(
		events,
		cache.NewLedgerCache(client, zap.NewNop()),
		NewMetrics(nil),
		zap.NewNop(),
		IntegrityConfig{SnapshotTTL: time.Minute},
		&mu,
	)

	report, err := integrity.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, int64(1), events.walks.Load())

	t.Run("fresh snapshot short-circuits the walk", func(t *testing.T) {
		status, err := integrity.QuickStatus(ctx)
		require.NoError(t, err)
		assert.True(t, status.IsValid)
		assert.Equal(t, 5, status.EventCount)
		assert.Equal(t, int64(1), events.walks.Load())
	})

	t.Run("expired snapshot forces a walk", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)

		status, err := integrity.QuickStatus(ctx)
		require.NoError(t, err)
		assert.True(t, status.IsValid)
		assert.Equal(t, int64(2), events.walks.Load())
	})
}

func TestVerifyRateLimited(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()

	for i := 0; i < 10; i++ {
		event, err := ledger.NewEvent(ledger.EventSystemAction, "op")
		require.NoError(t, err)
		require.NoError(t, store.Events().Append(ctx, event))
	}

	var mu sync.Mutex
	integrity := NewIntegrityService(
		store.Events(),
		cache.NewLedgerCache(nil, zap.NewNop()),
		NewMetrics(nil),
		zap.NewNop(),
		IntegrityConfig{EventsPerSecond: 100000},
		&mu,
	)

	report, err := integrity.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 10, report.EventCount)
}
