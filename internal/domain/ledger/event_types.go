package ledger

// EventType classifies audit events
type EventType string

const (
	// Producer-supplied event classes
	EventSystemAction     EventType = "SYSTEM_ACTION"
	EventDataAccess       EventType = "DATA_ACCESS"
	EventConfigChange     EventType = "CONFIG_CHANGE"
	EventSecurityIncident EventType = "SECURITY_INCIDENT"

	// Events the ledger emits on behalf of its own operations
	EventFraudDecision      EventType = "FRAUD_DECISION"
	EventComplianceEvent    EventType = "COMPLIANCE_EVENT"
	EventRetentionPurge     EventType = "RETENTION_PURGE"
	EventIntegrityViolation EventType = "INTEGRITY_VIOLATION"
)

// Severity indicates the importance of an audit event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid checks severity against the known set
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Risk score thresholds used to derive the severity of the audit event
// linked to a fraud decision. Fixed boundaries: a score equal to the
// threshold maps to the higher band.
const (
	RiskScoreCriticalThreshold = 0.8
	RiskScoreHighThreshold     = 0.5
)

// SeverityForRiskScore maps a fraud risk score to an audit severity
func SeverityForRiskScore(score float64) Severity {
	switch {
	case score >= RiskScoreCriticalThreshold:
		return SeverityCritical
	case score >= RiskScoreHighThreshold:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Decision is the outcome of a fraud evaluation
type Decision string

const (
	DecisionAllow    Decision = "ALLOW"
	DecisionReview   Decision = "REVIEW"
	DecisionBlock    Decision = "BLOCK"
	DecisionEscalate Decision = "ESCALATE"
)

// IsValid checks decision against the known set
func (d Decision) IsValid() bool {
	switch d {
	case DecisionAllow, DecisionReview, DecisionBlock, DecisionEscalate:
		return true
	}
	return false
}

// ComplianceStatus tracks the lifecycle of a compliance event
type ComplianceStatus string

const (
	ComplianceReported ComplianceStatus = "REPORTED"
	CompliancePending  ComplianceStatus = "PENDING"
	ComplianceResolved ComplianceStatus = "RESOLVED"
)

// IsValid checks status against the known set
func (s ComplianceStatus) IsValid() bool {
	switch s {
	case ComplianceReported, CompliancePending, ComplianceResolved:
		return true
	}
	return false
}
