package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
)

func TestNewFraudDecision(t *testing.T) {
	t.Run("valid decision", func(t *testing.T) {
		d, err := NewFraudDecision("txn-1", "cust-1", 0.42, DecisionAllow)

		require.NoError(t, err)
		assert.Equal(t, "txn-1", d.TransactionID)
		assert.Equal(t, "cust-1", d.CustomerID)
		assert.Equal(t, 0.42, d.RiskScore)
		assert.Equal(t, DecisionAllow, d.Decision)
		assert.False(t, d.DecisionTimestamp.IsZero())
	})

	t.Run("empty decision defaults to review", func(t *testing.T) {
		d, err := NewFraudDecision("txn-1", "cust-1", 0.42, "")

		require.NoError(t, err)
		assert.Equal(t, DecisionReview, d.Decision)
	})

	t.Run("risk score out of range", func(t *testing.T) {
		for _, score := range []float64{-0.01, 1.01, 2} {
			_, err := NewFraudDecision("txn-1", "cust-1", score, DecisionBlock)
			require.Error(t, err)
			var appErr *errors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, "INVALID_RISK_SCORE", appErr.Code)
		}
	})

	t.Run("boundary scores are accepted", func(t *testing.T) {
		for _, score := range []float64{0, 1} {
			_, err := NewFraudDecision("txn-1", "cust-1", score, DecisionBlock)
			assert.NoError(t, err)
		}
	})

	t.Run("missing identifiers", func(t *testing.T) {
		_, err := NewFraudDecision("", "cust-1", 0.1, DecisionAllow)
		assert.Error(t, err)

		_, err = NewFraudDecision("txn-1", "", 0.1, DecisionAllow)
		assert.Error(t, err)
	})

	t.Run("unknown decision rejected", func(t *testing.T) {
		_, err := NewFraudDecision("txn-1", "cust-1", 0.1, Decision("MAYBE"))
		assert.Error(t, err)
	})
}

func TestDecisionSeverity(t *testing.T) {
	cases := []struct {
		score    float64
		expected Severity
	}{
		{0.0, SeverityMedium},
		{0.2, SeverityMedium},
		{0.49, SeverityMedium},
		{0.5, SeverityHigh},
		{0.6, SeverityHigh},
		{0.79, SeverityHigh},
		{0.8, SeverityCritical},
		{0.95, SeverityCritical},
		{1.0, SeverityCritical},
	}

	for _, tc := range cases {
		d, err := NewFraudDecision("txn-1", "cust-1", tc.score, DecisionReview)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, d.Severity(), "score %v", tc.score)
	}
}

func TestApplyReview(t *testing.T) {
	d, err := NewFraudDecision("txn-1", "cust-1", 0.7, DecisionReview)
	require.NoError(t, err)

	t.Run("missing reviewer", func(t *testing.T) {
		assert.Error(t, d.ApplyReview("", "upheld"))
	})

	t.Run("sets only review fields", func(t *testing.T) {
		require.NoError(t, d.ApplyReview("analyst-7", "overturned"))

		assert.Equal(t, "analyst-7", d.ReviewedBy)
		assert.Equal(t, "overturned", d.AppealStatus)
		require.NotNil(t, d.ReviewTimestamp)
		assert.Equal(t, 0.7, d.RiskScore)
		assert.Equal(t, DecisionReview, d.Decision)
	})
}

func TestDecisionAuditEvent(t *testing.T) {
	d, err := NewFraudDecision("txn-9", "cust-9", 0.85, DecisionBlock)
	require.NoError(t, err)
	d.DecisionMaker = "rules-engine-v2"

	event, err := d.AuditEvent()
	require.NoError(t, err)

	assert.Equal(t, EventFraudDecision, event.Type)
	assert.Equal(t, SeverityCritical, event.Severity)
	assert.Equal(t, "rules-engine-v2", event.ActorID)
	assert.Equal(t, "fraud_decision", event.ResourceType)
	assert.Equal(t, d.ID.String(), event.ResourceID)
	assert.Equal(t, string(DecisionBlock), event.Status)
	assert.False(t, event.IsSealed())
}

func TestComplianceEvent(t *testing.T) {
	t.Run("constructor validates", func(t *testing.T) {
		_, err := NewComplianceEvent("", "report_filed")
		assert.Error(t, err)

		_, err = NewComplianceEvent("aml_report", "")
		assert.Error(t, err)
	})

	t.Run("starts reported and resolves", func(t *testing.T) {
		c, err := NewComplianceEvent("aml_report", "sar_filed")
		require.NoError(t, err)
		assert.Equal(t, ComplianceReported, c.Status)

		c.Resolve("filed with regulator")
		assert.Equal(t, ComplianceResolved, c.Status)
		assert.Equal(t, "filed with regulator", c.RemediationStatus)
		require.NotNil(t, c.ResolvedAt)
	})

	t.Run("audit event is high severity", func(t *testing.T) {
		c, err := NewComplianceEvent("gdpr_request", "erasure_requested")
		require.NoError(t, err)

		event, err := c.AuditEvent()
		require.NoError(t, err)
		assert.Equal(t, EventComplianceEvent, event.Type)
		assert.Equal(t, SeverityHigh, event.Severity)
		assert.Equal(t, c.ID.String(), event.ResourceID)
	})
}
