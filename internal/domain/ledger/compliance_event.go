package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
)

// ComplianceEvent records a regulatory event (a report filed, a remediation
// tracked) against an entity. Mirrored into the hash chain via a linked
// audit event at HIGH severity.
type ComplianceEvent struct {
	ID             uuid.UUID        `json:"id"`
	ComplianceType string           `json:"compliance_type"`
	Regulation     string           `json:"regulation,omitempty"`
	EntityType     string           `json:"entity_type,omitempty"`
	EntityID       string           `json:"entity_id,omitempty"`
	EventType      string           `json:"event_type"`
	Status         ComplianceStatus `json:"status"`

	Evidence          map[string]interface{} `json:"evidence,omitempty"`
	RemediationStatus string                 `json:"remediation_status,omitempty"`
	ResolvedAt        *time.Time             `json:"resolved_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// NewComplianceEvent creates a compliance event with validation
func NewComplianceEvent(complianceType, eventType string) (*ComplianceEvent, error) {
	if complianceType == "" {
		return nil, errors.NewValidationError("MISSING_COMPLIANCE_TYPE",
			"compliance type is required")
	}
	if eventType == "" {
		return nil, errors.NewValidationError("MISSING_EVENT_TYPE",
			"event type is required")
	}

	return &ComplianceEvent{
		ID:             uuid.New(),
		ComplianceType: complianceType,
		EventType:      eventType,
		Status:         ComplianceReported,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Validate performs full validation of the compliance event
func (c *ComplianceEvent) Validate() error {
	if c.ComplianceType == "" {
		return errors.NewValidationError("MISSING_COMPLIANCE_TYPE",
			"compliance type is required")
	}
	if c.EventType == "" {
		return errors.NewValidationError("MISSING_EVENT_TYPE",
			"event type is required")
	}
	if !c.Status.IsValid() {
		return errors.NewValidationError("INVALID_STATUS",
			fmt.Sprintf("status %q is not valid", c.Status))
	}
	return nil
}

// Resolve marks the event resolved with an optional remediation note
func (c *ComplianceEvent) Resolve(remediation string) {
	now := time.Now().UTC()
	c.Status = ComplianceResolved
	c.RemediationStatus = remediation
	c.ResolvedAt = &now
}

// AuditEvent builds the linked audit event for this compliance event
func (c *ComplianceEvent) AuditEvent() (*Event, error) {
	event, err := NewEvent(EventComplianceEvent, "compliance_event_recorded")
	if err != nil {
		return nil, err
	}
	event.Severity = SeverityHigh
	event.ActorType = "system"
	event.ActorID = "compliance-engine"
	event.ResourceType = "compliance_event"
	event.ResourceID = c.ID.String()
	event.Status = string(c.Status)
	return event, nil
}

// ComplianceSummary aggregates compliance events over a reporting window
type ComplianceSummary struct {
	Start       time.Time              `json:"start"`
	End         time.Time              `json:"end"`
	TotalEvents int                    `json:"total_events"`
	Groups      []ComplianceGroupStats `json:"groups"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// ComplianceGroupStats holds per type/regulation counts within a window
type ComplianceGroupStats struct {
	ComplianceType string `json:"compliance_type"`
	Regulation     string `json:"regulation,omitempty"`
	Total          int    `json:"total"`
	Resolved       int    `json:"resolved"`
	Pending        int    `json:"pending"`
}
