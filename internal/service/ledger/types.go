package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
)

// LogEventRequest carries a producer-supplied audit event. EventType and
// Action are required; everything else is optional.
type LogEventRequest struct {
	EventType    string                 `json:"event_type" validate:"required"`
	Action       string                 `json:"action" validate:"required"`
	Severity     string                 `json:"severity,omitempty" validate:"omitempty,oneof=INFO MEDIUM HIGH CRITICAL"`
	ActorType    string                 `json:"actor_type,omitempty"`
	ActorID      string                 `json:"actor_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// LogDecisionRequest carries a fraud decision from the scoring engine
type LogDecisionRequest struct {
	TransactionID  string                 `json:"transaction_id" validate:"required"`
	CustomerID     string                 `json:"customer_id" validate:"required"`
	RiskScore      *float64               `json:"risk_score" validate:"required"`
	Decision       string                 `json:"decision,omitempty" validate:"omitempty,oneof=ALLOW REVIEW BLOCK ESCALATE"`
	Recommendation string                 `json:"recommendation,omitempty"`
	Factors        []string               `json:"factors,omitempty"`
	ModelVersion   string                 `json:"model_version,omitempty"`
	DecisionMaker  string                 `json:"decision_maker,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// LogComplianceRequest carries a compliance event
type LogComplianceRequest struct {
	ComplianceType string                 `json:"compliance_type" validate:"required"`
	EventType      string                 `json:"event_type" validate:"required"`
	Regulation     string                 `json:"regulation,omitempty"`
	EntityType     string                 `json:"entity_type,omitempty"`
	EntityID       string                 `json:"entity_id,omitempty"`
	Status         string                 `json:"status,omitempty" validate:"omitempty,oneof=REPORTED PENDING RESOLVED"`
	Evidence       map[string]interface{} `json:"evidence,omitempty"`
}

// VerificationReport is the outward shape of a chain verification
type VerificationReport struct {
	IsValid        bool               `json:"is_valid"`
	EventCount     int                `json:"event_count"`
	LastHash       string             `json:"last_hash,omitempty"`
	Break          *ledger.ChainBreak `json:"break,omitempty"`
	PurgeTruncated bool               `json:"purge_truncated,omitempty"`
	VerifiedAt     time.Time          `json:"verified_at"`
	Elapsed        time.Duration      `json:"elapsed"`
}

// CleanupResult reports a retention purge
type CleanupResult struct {
	DeletedCount int64      `json:"deleted_count"`
	Cutoff       time.Time  `json:"cutoff"`
	PurgeEventID *uuid.UUID `json:"purge_event_id,omitempty"`
}

// HealthStatus enumeration
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport combines a storage liveness probe with chain integrity
type HealthReport struct {
	Status         HealthStatus    `json:"status"`
	Database       bool            `json:"database"`
	ChainIntegrity bool            `json:"chain_integrity"`
	Error          string          `json:"error,omitempty"`
	Metrics        MetricsSnapshot `json:"metrics"`
	CheckedAt      time.Time       `json:"checked_at"`
}

// MetricsSnapshot is a point-in-time copy of the facade counters
type MetricsSnapshot struct {
	EventsLogged           int64      `json:"events_logged"`
	DecisionsLogged        int64      `json:"decisions_logged"`
	ComplianceEventsLogged int64      `json:"compliance_events_logged"`
	Errors                 int64      `json:"errors"`
	LastLoggedAt           *time.Time `json:"last_logged_at,omitempty"`
}
