package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
)

// ComplianceReporter aggregates stored compliance events into periodic
// summaries. Read-only; never mutates the ledger.
type ComplianceReporter struct {
	compliance ledger.ComplianceRepository
	logger     *zap.Logger
}

// NewComplianceReporter creates a reporter over the compliance store
func NewComplianceReporter(compliance ledger.ComplianceRepository, logger *zap.Logger) *ComplianceReporter {
	return &ComplianceReporter{compliance: compliance, logger: logger}
}

// Report summarizes compliance events in [start, end), optionally narrowed
// to one compliance type. An empty window yields a zero-group summary.
func (r *ComplianceReporter) Report(ctx context.Context, start, end time.Time, complianceType string) (*ledger.ComplianceSummary, error) {
	if start.IsZero() || end.IsZero() {
		return nil, errors.NewValidationError("MISSING_WINDOW",
			"report window start and end are required")
	}
	if !start.Before(end) {
		return nil, errors.NewValidationError("INVALID_WINDOW",
			"report window start must precede end")
	}

	summary, err := r.compliance.Summarize(ctx, start, end, complianceType)
	if err != nil {
		r.logger.Error("compliance report failed",
			zap.Time("start", start), zap.Time("end", end), zap.Error(err))
		return nil, err
	}

	return summary, nil
}
