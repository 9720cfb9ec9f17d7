package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
)

// FraudDecision records the outcome of a fraud evaluation for a transaction.
// The record is append-only except for the human review fields, which the
// review workflow may set after creation. Review fields are deliberately
// excluded from the linked audit event's hash, which is computed once over
// the creation-time field set.
type FraudDecision struct {
	ID            uuid.UUID `json:"id"`
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`

	RiskScore      float64  `json:"risk_score"`
	Decision       Decision `json:"decision"`
	Recommendation string   `json:"recommendation,omitempty"`
	Factors        []string `json:"factors,omitempty"`
	ModelVersion   string   `json:"model_version,omitempty"`

	DecisionMaker     string    `json:"decision_maker,omitempty"`
	DecisionTimestamp time.Time `json:"decision_timestamp"`
	CreatedAt         time.Time `json:"created_at"`

	// Mutable post-creation (human review workflow); not hash-covered
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewTimestamp *time.Time `json:"review_timestamp,omitempty"`
	AppealStatus    string     `json:"appeal_status,omitempty"`
}

// NewFraudDecision creates a fraud decision with validation
func NewFraudDecision(transactionID, customerID string, riskScore float64, decision Decision) (*FraudDecision, error) {
	if transactionID == "" {
		return nil, errors.NewValidationError("MISSING_TRANSACTION_ID",
			"transaction ID is required")
	}
	if customerID == "" {
		return nil, errors.NewValidationError("MISSING_CUSTOMER_ID",
			"customer ID is required")
	}
	if riskScore < 0 || riskScore > 1 {
		return nil, errors.NewValidationError("INVALID_RISK_SCORE",
			fmt.Sprintf("risk score %v is out of range [0,1]", riskScore))
	}
	if decision == "" {
		decision = DecisionReview
	}
	if !decision.IsValid() {
		return nil, errors.NewValidationError("INVALID_DECISION",
			fmt.Sprintf("decision %q is not valid", decision))
	}

	return &FraudDecision{
		ID:                uuid.New(),
		TransactionID:     transactionID,
		CustomerID:        customerID,
		RiskScore:         riskScore,
		Decision:          decision,
		DecisionTimestamp: time.Now().UTC(),
	}, nil
}

// Severity derives the audit severity for the linked audit event
func (d *FraudDecision) Severity() Severity {
	return SeverityForRiskScore(d.RiskScore)
}

// ApplyReview sets the mutable review fields. Only these three fields may
// change after creation.
func (d *FraudDecision) ApplyReview(reviewedBy, appealStatus string) error {
	if reviewedBy == "" {
		return errors.NewValidationError("MISSING_REVIEWER",
			"reviewer is required")
	}
	now := time.Now().UTC()
	d.ReviewedBy = reviewedBy
	d.ReviewTimestamp = &now
	d.AppealStatus = appealStatus
	return nil
}

// AuditEvent builds the linked audit event for this decision. Exactly one
// audit event accompanies every stored decision so it participates in the
// hash chain.
func (d *FraudDecision) AuditEvent() (*Event, error) {
	event, err := NewEvent(EventFraudDecision, "fraud_decision_recorded")
	if err != nil {
		return nil, err
	}
	event.Severity = d.Severity()
	event.ActorType = "system"
	event.ActorID = "fraud-engine"
	if d.DecisionMaker != "" {
		event.ActorID = d.DecisionMaker
	}
	event.ResourceType = "fraud_decision"
	event.ResourceID = d.ID.String()
	event.Status = string(d.Decision)
	return event, nil
}
