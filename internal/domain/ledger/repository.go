package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventFilter narrows audit event queries. Zero values mean "no constraint".
type EventFilter struct {
	Types     []EventType
	ActorType string
	ActorID   string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// EventRepository is the append-only store for audit events.
//
// Append must serialize the read-tail, compute-hash, insert sequence against
// concurrent appends: the store receives an unsealed event, resolves the
// current chain tail inside its critical section, seals the event against it
// and persists the row. Two concurrent appends must never chain off the same
// parent.
type EventRepository interface {
	// Append seals the event against the current chain tail and persists it
	Append(ctx context.Context, event *Event) error

	// LatestHash returns the digest of the newest event, or GenesisHash
	// for an empty ledger
	LatestHash(ctx context.Context) (string, error)

	// GetByID retrieves a single event
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)

	// Query returns events matching the filter, newest first
	Query(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Walk iterates all events in timestamp-ascending order, batched, until
	// fn returns false or an error, the sequence ends, or ctx is cancelled.
	// Returns the number of events visited.
	Walk(ctx context.Context, fn func(*Event) (bool, error)) (int, error)

	// Count returns the total number of stored events
	Count(ctx context.Context) (int64, error)

	// DeleteOlderThan removes events with timestamp before cutoff. Only the
	// retention manager calls this.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping probes storage liveness
	Ping(ctx context.Context) error
}

// DecisionRepository stores fraud decisions
type DecisionRepository interface {
	Store(ctx context.Context, decision *FraudDecision) error
	GetByID(ctx context.Context, id uuid.UUID) (*FraudDecision, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*FraudDecision, error)

	// UpdateReview mutates only the review fields; everything else on a
	// stored decision is immutable
	UpdateReview(ctx context.Context, id uuid.UUID, reviewedBy string, reviewedAt time.Time, appealStatus string) error

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ComplianceRepository stores compliance events and aggregates them for
// reporting
type ComplianceRepository interface {
	Store(ctx context.Context, event *ComplianceEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*ComplianceEvent, error)

	// Summarize groups events in [start, end) by compliance type and
	// regulation. complianceType narrows to one type when non-empty.
	// An empty window yields a zero-group summary, not an error.
	Summarize(ctx context.Context, start, end time.Time, complianceType string) (*ComplianceSummary, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
