//go:build integration
// +build integration

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
)

// startPostgres brings up a throwaway PostgreSQL container, applies the
// migrations and returns a pool against the fresh database.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ledger_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	require.NoError(t, err)
	m, err := migrate.NewWithDatabaseInstance(
		"file://../../../migrations", "postgres", driver)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, db.Close())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresAppendChain(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewLedgerRepository(pool)

	t.Run("empty ledger tail is the genesis sentinel", func(t *testing.T) {
		tail, err := repo.LatestHash(ctx)
		require.NoError(t, err)
		assert.Equal(t, ledger.GenesisHash, tail)
	})

	t.Run("links each event to the previous tail", func(t *testing.T) {
		events := appendEvents(t, repo, 5)

		assert.Equal(t, ledger.GenesisHash, events[0].PreviousHash)
		for i := 1; i < len(events); i++ {
			assert.Equal(t, events[i-1].EventHash, events[i].PreviousHash)
		}

		tail, err := repo.LatestHash(ctx)
		require.NoError(t, err)
		assert.Equal(t, events[4].EventHash, tail)
	})

	t.Run("loaded events round-trip hash verification", func(t *testing.T) {
		event, err := ledger.NewEvent(ledger.EventDataAccess, "record_viewed")
		require.NoError(t, err)
		event.ActorType = "user"
		event.ActorID = "alice"
		event.Details = `{"ip":"10.0.0.1"}`
		require.NoError(t, repo.Append(ctx, event))

		loaded, err := repo.GetByID(ctx, event.ID)
		require.NoError(t, err)
		assert.True(t, loaded.IsSealed())
		assert.Equal(t, event.EventHash, loaded.EventHash)

		recomputed, err := loaded.RecomputeHash()
		require.NoError(t, err)
		assert.Equal(t, loaded.EventHash, recomputed)
	})

	t.Run("genesis previous hash survives the NULL round trip", func(t *testing.T) {
		var all []*ledger.Event
		_, err := repo.Walk(ctx, func(e *ledger.Event) (bool, error) {
			all = append(all, e)
			return true, nil
		})
		require.NoError(t, err)
		require.NotEmpty(t, all)
		assert.Equal(t, ledger.GenesisHash, all[0].PreviousHash)
	})

	t.Run("sealed event with a stale tail conflicts", func(t *testing.T) {
		stale, err := ledger.NewEvent(ledger.EventDataAccess, "late")
		require.NoError(t, err)
		_, err = stale.ComputeHash(ledger.GenesisHash)
		require.NoError(t, err)

		err = repo.Append(ctx, stale)
		require.Error(t, err)
		assert.True(t, errors.IsRetryable(err))
	})
}

// The tail must be the newest event by seq, not by timestamp. A sealed
// append may carry a timestamp older than the current tail (and a stepped
// wall clock can produce the same shape); chaining off the timestamp-newest
// row would fork the chain.
func TestPostgresLatestHashFollowsSeqOrder(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewLedgerRepository(pool)

	first, err := ledger.NewEvent(ledger.EventDataAccess, "first")
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, first))

	backdated, err := ledger.NewEvent(ledger.EventDataAccess, "backdated")
	require.NoError(t, err)
	backdated.Timestamp = first.Timestamp.Add(-time.Hour)
	_, err = backdated.ComputeHash(first.EventHash)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, backdated))

	tail, err := repo.LatestHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, backdated.EventHash, tail)

	// The next append chains off the seq-newest event, not first again
	next, err := ledger.NewEvent(ledger.EventDataAccess, "next")
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, next))
	assert.Equal(t, backdated.EventHash, next.PreviousHash)
}

func TestPostgresAppendConcurrent(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewLedgerRepository(pool)

	const writers = 10
	const perWriter = 5

	var wg sync.WaitGroup
	errCh := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				event, err := ledger.NewEvent(ledger.EventSystemAction,
					fmt.Sprintf("writer_%d_op_%d", w, i))
				if err != nil {
					errCh <- err
					return
				}
				if err := repo.Append(ctx, event); err != nil {
					errCh <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent append failed: %v", err)
	}

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), count)

	// The advisory lock gave every event a unique parent
	var all []*ledger.Event
	_, err = repo.Walk(ctx, func(e *ledger.Event) (bool, error) {
		all = append(all, e)
		return true, nil
	})
	require.NoError(t, err)

	result := ledger.NewChainVerifier().VerifySequence(all)
	assert.True(t, result.IsValid)
	assert.Equal(t, writers*perWriter, result.EventCount)
}

func TestPostgresWalkAndQuery(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewLedgerRepository(pool)

	events := appendEvents(t, repo, 12)

	t.Run("walk visits every event in chain order", func(t *testing.T) {
		var seen []string
		n, err := repo.Walk(ctx, func(e *ledger.Event) (bool, error) {
			seen = append(seen, e.Action)
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, len(events), n)
		for i, event := range events {
			assert.Equal(t, event.Action, seen[i])
		}
	})

	t.Run("walk stops when the callback declines", func(t *testing.T) {
		var visited int
		n, err := repo.Walk(ctx, func(e *ledger.Event) (bool, error) {
			visited++
			return visited < 4, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("query filters by actor and window", func(t *testing.T) {
		marked, err := ledger.NewEvent(ledger.EventDataAccess, "marked")
		require.NoError(t, err)
		marked.ActorType = "user"
		marked.ActorID = "alice"
		require.NoError(t, repo.Append(ctx, marked))

		found, err := repo.Query(ctx, ledger.EventFilter{
			ActorType: "user",
			ActorID:   "alice",
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, marked.ID, found[0].ID)

		none, err := repo.Query(ctx, ledger.EventFilter{
			Until: time.Now().UTC().Add(-24 * time.Hour),
		})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestPostgresDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewLedgerRepository(pool)

	old, err := ledger.NewEvent(ledger.EventDataAccess, "old")
	require.NoError(t, err)
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	_, err = old.ComputeHash(ledger.GenesisHash)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, old))

	recent, err := ledger.NewEvent(ledger.EventDataAccess, "recent")
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, recent))

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPostgresDecisions(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewDecisionRepository(pool)

	decision, err := ledger.NewFraudDecision("txn-42", "cust-7", 0.85, ledger.DecisionBlock)
	require.NoError(t, err)
	decision.Factors = []string{"velocity", "geo_mismatch"}
	require.NoError(t, repo.Store(ctx, decision))

	loaded, err := repo.GetByID(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.TransactionID, loaded.TransactionID)
	assert.InDelta(t, 0.85, loaded.RiskScore, 1e-9)
	assert.Equal(t, decision.Factors, loaded.Factors)
	assert.Nil(t, loaded.ReviewTimestamp)

	reviewedAt := time.Now().UTC()
	require.NoError(t, repo.UpdateReview(ctx, decision.ID, "analyst", reviewedAt, "overturned"))

	reviewed, err := repo.GetByID(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, "analyst", reviewed.ReviewedBy)
	assert.Equal(t, "overturned", reviewed.AppealStatus)
	require.NotNil(t, reviewed.ReviewTimestamp)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestPostgresComplianceSummarize(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewComplianceRepository(pool)

	for i := 0; i < 3; i++ {
		event, err := ledger.NewComplianceEvent("gdpr", "data_request")
		require.NoError(t, err)
		event.Regulation = "GDPR"
		require.NoError(t, repo.Store(ctx, event))
	}
	other, err := ledger.NewComplianceEvent("pci", "scan")
	require.NoError(t, err)
	require.NoError(t, repo.Store(ctx, other))

	now := time.Now().UTC()
	summary, err := repo.Summarize(ctx, now.Add(-time.Hour), now.Add(time.Hour), "")
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalEvents)

	filtered, err := repo.Summarize(ctx, now.Add(-time.Hour), now.Add(time.Hour), "gdpr")
	require.NoError(t, err)
	assert.Equal(t, 3, filtered.TotalEvents)
}
