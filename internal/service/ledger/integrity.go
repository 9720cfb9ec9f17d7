package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/cache"
)

// IntegrityConfig tunes verification walks
type IntegrityConfig struct {
	// EventsPerSecond bounds the walk so verification over a multi-year
	// ledger doesn't starve operational traffic. <= 0 disables the bound.
	EventsPerSecond int

	// SnapshotTTL controls how long a verification result feeds health
	// checks before a fresh walk is forced
	SnapshotTTL time.Duration
}

// DefaultIntegrityConfig returns the default verification tuning
func DefaultIntegrityConfig() IntegrityConfig {
	return IntegrityConfig{
		EventsPerSecond: 5000,
		SnapshotTTL:     time.Minute,
	}
}

// IntegrityService walks the stored chain and confirms no entry was altered,
// reordered, or removed undetected. Digests are recomputed from stored
// content; linkage alone would miss in-place edits.
type IntegrityService struct {
	events   ledger.EventRepository
	verifier *ledger.ChainVerifier
	cache    *cache.LedgerCache
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *Metrics
	config   IntegrityConfig

	// Shared with the retention service: purges must not run concurrently
	// with verification over the same range.
	maintenance *sync.Mutex
}

// NewIntegrityService creates a verifier over the given event store
func NewIntegrityService(
	events ledger.EventRepository,
	ledgerCache *cache.LedgerCache,
	metrics *Metrics,
	logger *zap.Logger,
	cfg IntegrityConfig,
	maintenance *sync.Mutex,
) *IntegrityService {
	var limiter *rate.Limiter
	if cfg.EventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventsPerSecond)
	}
	return &IntegrityService{
		events:      events,
		verifier:    ledger.NewChainVerifier(),
		cache:       ledgerCache,
		limiter:     limiter,
		logger:      logger,
		metrics:     metrics,
		config:      cfg,
		maintenance: maintenance,
	}
}

// Verify walks all events in timestamp order and recomputes the chain.
// On the first break it records the offending event and stops; cascade
// breaks from the same root are not chased. An empty ledger is trivially
// valid with EventCount 0.
func (s *IntegrityService) Verify(ctx context.Context) (*VerificationReport, error) {
	s.maintenance.Lock()
	defer s.maintenance.Unlock()

	started := time.Now()

	var (
		prevHash       = ledger.GenesisHash
		firstEvent     = true
		pendingPrefix  *ledger.ChainBreak
		hasPurgeMarker bool
		lastHash       string
		chainBreak     *ledger.ChainBreak
	)

	count, err := s.events.Walk(ctx, func(event *ledger.Event) (bool, error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return false, err
			}
		}

		if event.Type == ledger.EventRetentionPurge {
			hasPurgeMarker = true
		}

		if firstEvent {
			firstEvent = false
			if event.PreviousHash != ledger.GenesisHash {
				// Provisionally resume from the truncated prefix; decided
				// once we know whether a purge marker sanctions it.
				pendingPrefix = &ledger.ChainBreak{
					EventID:      event.ID,
					BreakType:    ledger.BreakTypeTruncatedPrefix,
					ExpectedHash: ledger.GenesisHash,
					ActualHash:   event.PreviousHash,
				}
				prevHash = event.PreviousHash
			}
		}

		ok, br := s.verifier.VerifyLink(event, prevHash)
		if !ok {
			chainBreak = br
			return false, nil
		}

		prevHash = event.EventHash
		lastHash = event.EventHash
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{
		IsValid:    chainBreak == nil,
		EventCount: count,
		LastHash:   lastHash,
		Break:      chainBreak,
		VerifiedAt: time.Now().UTC(),
		Elapsed:    time.Since(started),
	}

	if report.IsValid && pendingPrefix != nil {
		if hasPurgeMarker {
			report.PurgeTruncated = true
		} else {
			report.IsValid = false
			report.Break = pendingPrefix
		}
	}

	s.metrics.observeVerification(report.Elapsed)

	if !report.IsValid {
		s.logger.Warn("chain integrity violation detected",
			zap.Int("event_count", report.EventCount),
			zap.Any("break", report.Break))
	}

	s.cache.SetVerification(ctx, &ledger.ChainVerificationResult{
		IsValid:        report.IsValid,
		EventCount:     report.EventCount,
		LastHash:       report.LastHash,
		Break:          report.Break,
		PurgeTruncated: report.PurgeTruncated,
		Elapsed:        report.Elapsed,
	}, s.config.SnapshotTTL)

	return report, nil
}

// QuickStatus returns the most recent verification outcome, walking the
// chain only when no fresh snapshot exists. Health checks use this; it
// never mutates the ledger.
func (s *IntegrityService) QuickStatus(ctx context.Context) (*VerificationReport, error) {
	if cached, ok := s.cache.Verification(ctx); ok {
		return &VerificationReport{
			IsValid:        cached.IsValid,
			EventCount:     cached.EventCount,
			LastHash:       cached.LastHash,
			Break:          cached.Break,
			PurgeTruncated: cached.PurgeTruncated,
			VerifiedAt:     time.Now().UTC(),
			Elapsed:        cached.Elapsed,
		}, nil
	}
	return s.Verify(ctx)
}
