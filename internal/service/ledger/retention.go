package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/cache"
)

// RetentionConfig tunes the retention manager
type RetentionConfig struct {
	// Horizon is the regulated retention period; rows older than now-Horizon
	// may be lawfully purged. Default 2555 days (7 years).
	Horizon time.Duration

	// SweepInterval drives the optional background sweep
	SweepInterval time.Duration
}

// DefaultRetentionConfig returns the regulatory default retention tuning
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Horizon:       2555 * 24 * time.Hour,
		SweepInterval: 24 * time.Hour,
	}
}

// RetentionService purges entries older than the configured horizon. This is
// the one sanctioned mutation of an otherwise append-only ledger: every purge
// appends a RETENTION_PURGE audit event recording count and cutoff, so
// verification can tell a sanctioned discontinuity from tampering.
type RetentionService struct {
	events     ledger.EventRepository
	decisions  ledger.DecisionRepository
	compliance ledger.ComplianceRepository
	cache      *cache.LedgerCache
	logger     *zap.Logger
	config     RetentionConfig

	// Shared with the integrity service: a purge must not interleave with a
	// verification walk.
	maintenance *sync.Mutex

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewRetentionService creates a retention manager over the three stores
func NewRetentionService(
	events ledger.EventRepository,
	decisions ledger.DecisionRepository,
	compliance ledger.ComplianceRepository,
	ledgerCache *cache.LedgerCache,
	logger *zap.Logger,
	cfg RetentionConfig,
	maintenance *sync.Mutex,
) *RetentionService {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultRetentionConfig().Horizon
	}
	return &RetentionService{
		events:      events,
		decisions:   decisions,
		compliance:  compliance,
		cache:       ledgerCache,
		logger:      logger,
		config:      cfg,
		maintenance: maintenance,
	}
}

// Cutoff returns the purge boundary for the configured horizon
func (s *RetentionService) Cutoff(now time.Time) time.Time {
	return now.Add(-s.config.Horizon)
}

// PurgeOlderThan deletes all entries with timestamps before cutoff across
// the three tables, then appends the purge marker event. Returns the total
// number of deleted rows and the marker.
func (s *RetentionService) PurgeOlderThan(ctx context.Context, cutoff time.Time) (*CleanupResult, error) {
	s.maintenance.Lock()
	defer s.maintenance.Unlock()

	deletedEvents, err := s.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	deletedDecisions, err := s.decisions.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	deletedCompliance, err := s.compliance.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	total := deletedEvents + deletedDecisions + deletedCompliance
	result := &CleanupResult{DeletedCount: total, Cutoff: cutoff}

	if total == 0 {
		// Nothing deleted, chain untouched; a marker would sanction a
		// truncation that never happened.
		return result, nil
	}

	marker, err := ledger.NewEvent(ledger.EventRetentionPurge, "retention_purge")
	if err != nil {
		return nil, err
	}
	marker.Severity = ledger.SeverityHigh
	marker.ActorType = "system"
	marker.ActorID = "retention-manager"
	marker.Status = "completed"
	marker.Details = fmt.Sprintf(
		`{"deleted_events":%d,"deleted_decisions":%d,"deleted_compliance":%d,"cutoff":%q}`,
		deletedEvents, deletedDecisions, deletedCompliance,
		cutoff.UTC().Format(time.RFC3339Nano))

	if err := s.events.Append(ctx, marker); err != nil {
		return nil, err
	}
	result.PurgeEventID = &marker.ID

	// A truncated prefix changes what a valid chain looks like
	s.cache.InvalidateVerification(ctx)

	s.logger.Info("retention purge completed",
		zap.Int64("deleted_events", deletedEvents),
		zap.Int64("deleted_decisions", deletedDecisions),
		zap.Int64("deleted_compliance", deletedCompliance),
		zap.Time("cutoff", cutoff))

	return result, nil
}

// Cleanup purges everything older than the configured horizon
func (s *RetentionService) Cleanup(ctx context.Context) (*CleanupResult, error) {
	return s.PurgeOlderThan(ctx, s.Cutoff(time.Now().UTC()))
}

// StartSweep launches the periodic retention sweep. No-op when already
// running or when SweepInterval is zero.
func (s *RetentionService) StartSweep(ctx context.Context) {
	if s.sweepCancel != nil || s.config.SweepInterval <= 0 {
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.Cleanup(sweepCtx); err != nil {
					s.logger.Error("retention sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// StopSweep stops the periodic sweep and waits for it to drain
func (s *RetentionService) StopSweep() {
	if s.sweepCancel == nil {
		return
	}
	s.sweepCancel()
	<-s.sweepDone
	s.sweepCancel = nil
	s.sweepDone = nil
}
