package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
)

// MemoryStore is an in-memory implementation of all three ledger
// repositories. It backs unit tests and local development; the append path
// gives the same guarantee as the PostgreSQL store by holding a single
// mutex across the read-tail, compute-hash, insert sequence.
type MemoryStore struct {
	mu         sync.Mutex
	events     []*ledger.Event
	decisions  map[uuid.UUID]*ledger.FraudDecision
	compliance map[uuid.UUID]*ledger.ComplianceEvent
}

// NewMemoryStore creates an empty in-memory ledger store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions:  make(map[uuid.UUID]*ledger.FraudDecision),
		compliance: make(map[uuid.UUID]*ledger.ComplianceEvent),
	}
}

// Events exposes a repository view over audit events
func (s *MemoryStore) Events() ledger.EventRepository { return (*memoryEvents)(s) }

// Decisions exposes a repository view over fraud decisions
func (s *MemoryStore) Decisions() ledger.DecisionRepository { return (*memoryDecisions)(s) }

// Compliance exposes a repository view over compliance events
func (s *MemoryStore) Compliance() ledger.ComplianceRepository { return (*memoryCompliance)(s) }

// TamperWith overwrites a stored event's content in place without touching
// its recorded hash. Test hook for integrity verification.
func (s *MemoryStore) TamperWith(id uuid.UUID, mutate func(*ledger.Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			mutate(e)
			return true
		}
	}
	return false
}

type memoryEvents MemoryStore

var _ ledger.EventRepository = (*memoryEvents)(nil)

func (s *memoryEvents) Append(ctx context.Context, event *ledger.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previousHash := ledger.GenesisHash
	if n := len(s.events); n > 0 {
		previousHash = s.events[n-1].EventHash
	}

	if !event.IsSealed() {
		// Restamp under the lock so timestamp order matches chain order
		event.Timestamp = time.Now().UTC()
		if _, err := event.ComputeHash(previousHash); err != nil {
			return err
		}
	} else if event.PreviousHash != previousHash {
		return errors.NewStorageConflictError(
			"chain tail moved since event was sealed")
	}

	event.CreatedAt = time.Now().UTC()
	s.events = append(s.events, event)
	return nil
}

func (s *memoryEvents) LatestHash(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.events); n > 0 {
		return s.events[n-1].EventHash, nil
	}
	return ledger.GenesisHash, nil
}

func (s *memoryEvents) GetByID(ctx context.Context, id uuid.UUID) (*ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, errors.ErrEventNotFound
}

func (s *memoryEvents) Query(ctx context.Context, filter ledger.EventFilter) ([]*ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*ledger.Event
	for _, e := range s.events {
		if !matchesFilter(e, filter) {
			continue
		}
		matched = append(matched, e)
	}

	// Newest first, matching the SQL store
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[j].Timestamp.Before(matched[i].Timestamp)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memoryEvents) Walk(ctx context.Context, fn func(*ledger.Event) (bool, error)) (int, error) {
	s.mu.Lock()
	snapshot := make([]*ledger.Event, len(s.events))
	copy(snapshot, s.events)
	s.mu.Unlock()

	// Timestamp ascending, insertion order as tiebreak
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Timestamp.Before(snapshot[j].Timestamp)
	})

	visited := 0
	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return visited, errors.NewStorageError("WALK_CANCELLED",
				"walk cancelled").WithCause(err)
		}
		visited++
		cont, err := fn(e)
		if err != nil {
			return visited, err
		}
		if !cont {
			break
		}
	}
	return visited, nil
}

func (s *memoryEvents) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func (s *memoryEvents) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		kept    []*ledger.Event
		deleted int64
	)
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

func (s *memoryEvents) Ping(ctx context.Context) error { return nil }

func matchesFilter(e *ledger.Event, filter ledger.EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.ActorType != "" && e.ActorType != filter.ActorType {
		return false
	}
	if filter.ActorID != "" && e.ActorID != filter.ActorID {
		return false
	}
	if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && !e.Timestamp.Before(filter.Until) {
		return false
	}
	return true
}

type memoryDecisions MemoryStore

var _ ledger.DecisionRepository = (*memoryDecisions)(nil)

func (s *memoryDecisions) Store(ctx context.Context, decision *ledger.FraudDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision.CreatedAt = time.Now().UTC()
	s.decisions[decision.ID] = decision
	return nil
}

func (s *memoryDecisions) GetByID(ctx context.Context, id uuid.UUID) (*ledger.FraudDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.decisions[id]; ok {
		return d, nil
	}
	return nil, errors.NewNotFoundError("fraud decision")
}

func (s *memoryDecisions) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*ledger.FraudDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*ledger.FraudDecision
	for _, d := range s.decisions {
		if d.CustomerID == customerID {
			matched = append(matched, d)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[j].DecisionTimestamp.Before(matched[i].DecisionTimestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memoryDecisions) UpdateReview(ctx context.Context, id uuid.UUID, reviewedBy string, reviewedAt time.Time, appealStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return errors.NewNotFoundError("fraud decision")
	}
	d.ReviewedBy = reviewedBy
	d.ReviewTimestamp = &reviewedAt
	d.AppealStatus = appealStatus
	return nil
}

func (s *memoryDecisions) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, d := range s.decisions {
		if d.DecisionTimestamp.Before(cutoff) {
			delete(s.decisions, id)
			deleted++
		}
	}
	return deleted, nil
}

type memoryCompliance MemoryStore

var _ ledger.ComplianceRepository = (*memoryCompliance)(nil)

func (s *memoryCompliance) Store(ctx context.Context, event *ledger.ComplianceEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compliance[event.ID] = event
	return nil
}

func (s *memoryCompliance) GetByID(ctx context.Context, id uuid.UUID) (*ledger.ComplianceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.compliance[id]; ok {
		return e, nil
	}
	return nil, errors.NewNotFoundError("compliance event")
}

func (s *memoryCompliance) Summarize(ctx context.Context, start, end time.Time, complianceType string) (*ledger.ComplianceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct{ ctype, regulation string }
	groups := make(map[key]*ledger.ComplianceGroupStats)
	var keys []key

	summary := &ledger.ComplianceSummary{
		Start:       start,
		End:         end,
		GeneratedAt: time.Now().UTC(),
	}

	for _, e := range s.compliance {
		if e.CreatedAt.Before(start) || !e.CreatedAt.Before(end) {
			continue
		}
		if complianceType != "" && e.ComplianceType != complianceType {
			continue
		}
		k := key{e.ComplianceType, e.Regulation}
		g, ok := groups[k]
		if !ok {
			g = &ledger.ComplianceGroupStats{
				ComplianceType: e.ComplianceType,
				Regulation:     e.Regulation,
			}
			groups[k] = g
			keys = append(keys, k)
		}
		g.Total++
		summary.TotalEvents++
		switch e.Status {
		case ledger.ComplianceResolved:
			g.Resolved++
		default:
			g.Pending++
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ctype != keys[j].ctype {
			return keys[i].ctype < keys[j].ctype
		}
		return keys[i].regulation < keys[j].regulation
	})
	for _, k := range keys {
		summary.Groups = append(summary.Groups, *groups[k])
	}
	return summary, nil
}

func (s *memoryCompliance) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, e := range s.compliance {
		if e.CreatedAt.Before(cutoff) {
			delete(s.compliance, id)
			deleted++
		}
	}
	return deleted, nil
}
