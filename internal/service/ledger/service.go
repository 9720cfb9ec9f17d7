package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/cache"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/crypto"
)

// appendAttempts bounds optimistic retry of append serialization conflicts.
// Each attempt re-reads the chain tail inside the store's critical section.
const appendAttempts = 3

// ServiceConfig configures the ledger facade
type ServiceConfig struct {
	Integrity IntegrityConfig
	Retention RetentionConfig
}

// DefaultServiceConfig returns defaults for all sub-services
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Integrity: DefaultIntegrityConfig(),
		Retention: DefaultRetentionConfig(),
	}
}

// Service is the single entry point other subsystems call. It validates
// input before any side effect, delegates Cipher -> HashChain -> EventStore
// in that order, and tracks counters. The logger is injected; there is no
// process-wide singleton.
type Service struct {
	events     ledger.EventRepository
	decisions  ledger.DecisionRepository
	compliance ledger.ComplianceRepository

	cipher    *crypto.FieldCipher
	integrity *IntegrityService
	retention *RetentionService
	reporter  *ComplianceReporter
	cache     *cache.LedgerCache

	validate *validator.Validate
	logger   *zap.Logger
	metrics  *Metrics
	breaker  *gobreaker.CircuitBreaker

	// Serializes verification against retention purges
	maintenanceMu sync.Mutex
}

// NewService wires the ledger facade and its sub-services
func NewService(
	events ledger.EventRepository,
	decisions ledger.DecisionRepository,
	compliance ledger.ComplianceRepository,
	cipher *crypto.FieldCipher,
	ledgerCache *cache.LedgerCache,
	registry prometheus.Registerer,
	logger *zap.Logger,
	cfg ServiceConfig,
) *Service {
	metrics := NewMetrics(registry)

	s := &Service{
		events:     events,
		decisions:  decisions,
		compliance: compliance,
		cipher:     cipher,
		cache:      ledgerCache,
		validate:   validator.New(),
		logger:     logger,
		metrics:    metrics,
	}

	s.integrity = NewIntegrityService(events, ledgerCache, metrics, logger,
		cfg.Integrity, &s.maintenanceMu)
	s.retention = NewRetentionService(events, decisions, compliance,
		ledgerCache, logger, cfg.Retention, &s.maintenanceMu)
	s.reporter = NewComplianceReporter(compliance, logger)

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "ledger-storage",
		Interval: 10 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return s
}

// Retention exposes the retention manager for sweep lifecycle control
func (s *Service) Retention() *RetentionService { return s.retention }

// LogEvent validates, encrypts and appends a generic audit event, returning
// its id. Storage and crypto failures propagate to the caller after the
// error counter increments; retry policy belongs to the caller beyond the
// bounded conflict retry here.
func (s *Service) LogEvent(ctx context.Context, req *LogEventRequest) (uuid.UUID, error) {
	if req == nil {
		s.metrics.recordError()
		return uuid.Nil, errors.NewValidationError("MISSING_EVENT", "event is required")
	}
	if err := s.validate.Struct(req); err != nil {
		s.metrics.recordError()
		return uuid.Nil, errors.NewValidationError("INVALID_EVENT",
			"event failed validation").WithCause(err)
	}

	event, err := ledger.NewEvent(ledger.EventType(req.EventType), req.Action)
	if err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}
	if req.Severity != "" {
		event.Severity = ledger.Severity(req.Severity)
	}
	event.ActorType = req.ActorType
	event.ActorID = req.ActorID
	event.ResourceType = req.ResourceType
	event.ResourceID = req.ResourceID
	event.Status = req.Status

	if err := s.attachDetails(event, req.Details); err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	if err := s.appendEvent(ctx, event); err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	s.metrics.recordEvent("event")
	return event.ID, nil
}

// LogFraudDecision stores a fraud decision and its linked audit event. The
// audit event's severity derives from the risk score; the decision id is
// returned.
func (s *Service) LogFraudDecision(ctx context.Context, req *LogDecisionRequest) (uuid.UUID, error) {
	if req == nil {
		s.metrics.recordError()
		return uuid.Nil, errors.NewValidationError("MISSING_DECISION", "decision is required")
	}
	if err := s.validate.Struct(req); err != nil {
		s.metrics.recordError()
		return uuid.Nil, errors.NewValidationError("INVALID_DECISION",
			"decision failed validation").WithCause(err)
	}

	decision, err := ledger.NewFraudDecision(req.TransactionID, req.CustomerID,
		*req.RiskScore, ledger.Decision(req.Decision))
	if err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}
	decision.Recommendation = req.Recommendation
	decision.Factors = req.Factors
	decision.ModelVersion = req.ModelVersion
	decision.DecisionMaker = req.DecisionMaker

	if err := s.decisions.Store(ctx, decision); err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	event, err := decision.AuditEvent()
	if err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	details := map[string]interface{}{
		"transaction_id": decision.TransactionID,
		"customer_id":    decision.CustomerID,
		"risk_score":     decision.RiskScore,
		"decision":       string(decision.Decision),
	}
	for k, v := range req.Details {
		details[k] = v
	}
	if err := s.attachDetails(event, details); err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	if err := s.appendEvent(ctx, event); err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	s.metrics.recordEvent("decision")
	return decision.ID, nil
}

// LogComplianceEvent stores a compliance event and its linked audit event
// at HIGH severity, returning the compliance event id.
func (s *Service) LogComplianceEvent(ctx context.Context, req *LogComplianceRequest) (uuid.UUID, error) {
	if req == nil {
		s.metrics.recordError()
		return uuid.Nil, errors.NewValidationError("MISSING_COMPLIANCE_EVENT",
			"compliance event is required")
	}
	if err := s.validate.Struct(req); err != nil {
		s.metrics.recordError()
		return uuid.Nil, errors.NewValidationError("INVALID_COMPLIANCE_EVENT",
			"compliance event failed validation").WithCause(err)
	}

	compEvent, err := ledger.NewComplianceEvent(req.ComplianceType, req.EventType)
	if err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}
	compEvent.Regulation = req.Regulation
	compEvent.EntityType = req.EntityType
	compEvent.EntityID = req.EntityID
	compEvent.Evidence = req.Evidence
	if req.Status != "" {
		compEvent.Status = ledger.ComplianceStatus(req.Status)
	}

	if err := s.compliance.Store(ctx, compEvent); err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	event, err := compEvent.AuditEvent()
	if err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	details := map[string]interface{}{
		"compliance_type": compEvent.ComplianceType,
		"regulation":      compEvent.Regulation,
		"entity_type":     compEvent.EntityType,
		"entity_id":       compEvent.EntityID,
	}
	if err := s.attachDetails(event, details); err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	if err := s.appendEvent(ctx, event); err != nil {
		s.metrics.recordError()
		return uuid.Nil, err
	}

	s.metrics.recordEvent("compliance")
	return compEvent.ID, nil
}

// ReviewDecision applies the human review workflow to a stored decision.
// Only the review fields mutate; the linked audit event's hash is fixed at
// creation time and stays intact. The review itself is audited.
func (s *Service) ReviewDecision(ctx context.Context, id uuid.UUID, reviewedBy, appealStatus string) error {
	decision, err := s.decisions.GetByID(ctx, id)
	if err != nil {
		s.metrics.recordError()
		return err
	}
	if err := decision.ApplyReview(reviewedBy, appealStatus); err != nil {
		s.metrics.recordError()
		return err
	}
	if err := s.decisions.UpdateReview(ctx, id, decision.ReviewedBy,
		*decision.ReviewTimestamp, decision.AppealStatus); err != nil {
		s.metrics.recordError()
		return err
	}

	event, err := ledger.NewEvent(ledger.EventFraudDecision, "fraud_decision_reviewed")
	if err != nil {
		s.metrics.recordError()
		return err
	}
	event.Severity = ledger.SeverityMedium
	event.ActorType = "user"
	event.ActorID = reviewedBy
	event.ResourceType = "fraud_decision"
	event.ResourceID = id.String()
	event.Status = appealStatus

	if err := s.appendEvent(ctx, event); err != nil {
		s.metrics.recordError()
		return err
	}
	s.metrics.recordEvent("event")
	return nil
}

// VerifyChainIntegrity walks the full chain. A detected violation is itself
// appended to the ledger (best effort) so the operational history of the
// ledger's own anomalies stays on the record.
func (s *Service) VerifyChainIntegrity(ctx context.Context) (*VerificationReport, error) {
	report, err := s.integrity.Verify(ctx)
	if err != nil {
		return nil, err
	}

	if !report.IsValid && report.Break != nil {
		violation, verr := ledger.NewEvent(ledger.EventIntegrityViolation,
			"chain_integrity_violation")
		if verr == nil {
			violation.Severity = ledger.SeverityCritical
			violation.ActorType = "system"
			violation.ActorID = "integrity-verifier"
			violation.ResourceType = "audit_event"
			violation.ResourceID = report.Break.EventID.String()
			violation.Status = string(report.Break.BreakType)
			if aerr := s.appendEvent(ctx, violation); aerr != nil {
				s.logger.Error("failed to record integrity violation",
					zap.Error(aerr))
			}
		}
	}

	return report, nil
}

// QueryAuditEvents returns stored events matching the filter, newest first.
// Details stay in their stored (possibly encrypted) form; use EventDetails
// to decrypt.
func (s *Service) QueryAuditEvents(ctx context.Context, filter ledger.EventFilter) ([]*ledger.Event, error) {
	events, err := s.events.Query(ctx, filter)
	if err != nil {
		s.logger.Error("audit query failed", zap.Error(err))
		return nil, err
	}
	return events, nil
}

// EventDetails decrypts an event's stored payload
func (s *Service) EventDetails(event *ledger.Event) (map[string]interface{}, error) {
	return s.cipher.Decrypt(event.Details)
}

// GenerateComplianceReport aggregates compliance events over a window
func (s *Service) GenerateComplianceReport(ctx context.Context, start, end time.Time, complianceType string) (*ledger.ComplianceSummary, error) {
	return s.reporter.Report(ctx, start, end, complianceType)
}

// CleanupOldEvents purges entries older than the configured horizon
func (s *Service) CleanupOldEvents(ctx context.Context) (*CleanupResult, error) {
	return s.retention.Cleanup(ctx)
}

// GetHealth combines a breaker-guarded storage probe with chain integrity.
// It never returns an error; internal failures surface as an unhealthy
// status with the captured message.
func (s *Service) GetHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    HealthHealthy,
		CheckedAt: time.Now().UTC(),
		Metrics:   s.metrics.Snapshot(),
	}

	if _, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.events.Ping(ctx)
	}); err != nil {
		report.Status = HealthUnhealthy
		report.Error = err.Error()
		return report
	}
	report.Database = true

	status, err := s.integrity.QuickStatus(ctx)
	if err != nil {
		report.Status = HealthDegraded
		report.Error = err.Error()
		return report
	}
	report.ChainIntegrity = status.IsValid
	if !status.IsValid {
		report.Status = HealthDegraded
		if status.Break != nil {
			report.Error = fmt.Sprintf("chain break at event %s (%s)",
				status.Break.EventID, status.Break.BreakType)
		}
	}

	return report
}

// GetMetrics returns a snapshot of the facade counters
func (s *Service) GetMetrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// attachDetails serializes and (when enabled) encrypts the payload into the
// event before hashing, so the digest covers the stored form. Encryption
// failure fails the write; there is no plaintext fallback.
func (s *Service) attachDetails(event *ledger.Event, details map[string]interface{}) error {
	if len(details) == 0 {
		return nil
	}
	stored, err := s.cipher.Encrypt(details)
	if err != nil {
		return err
	}
	event.Details = stored
	return nil
}

// appendEvent drives the store append with bounded optimistic retry on
// serialization conflicts. Each attempt hands the store an unsealed clone:
// the stale tail baked into a previously sealed copy must never leak into
// a retry.
func (s *Service) appendEvent(ctx context.Context, event *ledger.Event) error {
	started := time.Now()

	var appended *ledger.Event
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(appendAttempts),
		retry.RetryIf(errors.IsRetryable),
		retry.LastErrorOnly(true),
	)
	err := r.Do(func() error {
		attempt := event.Clone()
		if aerr := s.events.Append(ctx, attempt); aerr != nil {
			return aerr
		}
		appended = attempt
		return nil
	})
	if err != nil {
		return err
	}

	*event = *appended
	s.cache.SetChainTail(ctx, event.EventHash)
	s.metrics.observeAppend(time.Since(started))
	return nil
}
