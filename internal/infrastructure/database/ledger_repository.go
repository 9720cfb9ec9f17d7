package database

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
)

// chainLockKey scopes the advisory lock serializing chain appends. One key
// per ledger: the chain tail is a single logical resource.
const chainLockKey = int64(0x4c454447) // "LEDG"

const eventColumns = `
	id, event_type, severity, actor_type, actor_id, resource_type, resource_id,
	action, status, details, event_hash, previous_hash, timestamp, created_at`

// LedgerRepository implements the ledger repositories on PostgreSQL.
// Appends serialize on an advisory transaction lock so the read-tail,
// compute-hash, insert sequence is atomic with respect to concurrent writers.
type LedgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository creates a PostgreSQL-backed ledger repository
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

var _ ledger.EventRepository = (*LedgerRepository)(nil)

// Append seals the event against the current chain tail and persists it.
// The whole sequence runs inside one transaction holding the chain advisory
// lock; two concurrent appends can never chain off the same parent.
func (r *LedgerRepository) Append(ctx context.Context, event *ledger.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.NewStorageError("TX_BEGIN_FAILED",
			"failed to begin append transaction").WithCause(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return errors.NewStorageError("CHAIN_LOCK_FAILED",
			"failed to acquire chain lock").WithCause(err)
	}

	previousHash, err := latestHashTx(ctx, tx)
	if err != nil {
		return err
	}

	if !event.IsSealed() {
		// Restamp under the chain lock so timestamp order always matches
		// chain order, whatever order callers constructed their events in.
		event.Timestamp = time.Now().UTC()
		if _, err := event.ComputeHash(previousHash); err != nil {
			return err
		}
	} else if event.PreviousHash != previousHash {
		return errors.NewStorageConflictError(
			"chain tail moved since event was sealed")
	}

	event.CreatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_events (
			id, event_type, severity, actor_type, actor_id, resource_type,
			resource_id, action, status, details, event_hash, previous_hash,
			timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11,
			NULLIF($12, ''), $13, $14)`,
		event.ID,
		string(event.Type),
		string(event.Severity),
		event.ActorType,
		event.ActorID,
		event.ResourceType,
		event.ResourceID,
		event.Action,
		event.Status,
		event.Details,
		event.EventHash,
		event.PreviousHash,
		event.Timestamp,
		event.CreatedAt,
	)
	if err != nil {
		return mapStorageError(err, "failed to store audit event")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewStorageError("TX_COMMIT_FAILED",
			"failed to commit append").WithCause(err)
	}

	return nil
}

// LatestHash returns the digest of the newest event, or the genesis
// sentinel for an empty ledger
func (r *LedgerRepository) LatestHash(ctx context.Context) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx, `
		SELECT event_hash FROM audit_events
		ORDER BY seq DESC
		LIMIT 1`).Scan(&hash)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return ledger.GenesisHash, nil
	}
	if err != nil {
		return "", mapStorageError(err, "failed to read chain tail")
	}
	return hash, nil
}

func latestHashTx(ctx context.Context, tx pgx.Tx) (string, error) {
	var hash string
	err := tx.QueryRow(ctx, `
		SELECT event_hash FROM audit_events
		ORDER BY seq DESC
		LIMIT 1`).Scan(&hash)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return ledger.GenesisHash, nil
	}
	if err != nil {
		return "", mapStorageError(err, "failed to read chain tail")
	}
	return hash, nil
}

// GetByID retrieves a single audit event
func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*ledger.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrEventNotFound
	}
	if err != nil {
		return nil, mapStorageError(err, "failed to load audit event")
	}
	return event, nil
}

// Query returns events matching the filter, newest first
func (r *LedgerRepository) Query(ctx context.Context, filter ledger.EventFilter) ([]*ledger.Event, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, "event_type = ANY("+arg(types)+")")
	}
	if filter.ActorType != "" {
		conditions = append(conditions, "actor_type = "+arg(filter.ActorType))
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = "+arg(filter.ActorID))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp < "+arg(filter.Until))
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC, seq DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapStorageError(err, "failed to query audit events")
	}
	defer rows.Close()

	var events []*ledger.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, mapStorageError(err, "failed to scan audit event")
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStorageError(err, "failed to iterate audit events")
	}

	return events, nil
}

// Walk iterates all events in chain order using keyset pagination, so a
// multi-year ledger never has to fit in memory and the walk restarts cleanly.
func (r *LedgerRepository) Walk(ctx context.Context, fn func(*ledger.Event) (bool, error)) (int, error) {
	const batchSize = 500

	visited := 0
	var lastSeq int64 = -1

	for {
		if err := ctx.Err(); err != nil {
			return visited, errors.NewStorageError("WALK_CANCELLED",
				"walk cancelled").WithCause(err)
		}

		rows, err := r.db.Query(ctx, `
			SELECT `+eventColumns+`, seq FROM audit_events
			WHERE seq > $1
			ORDER BY seq ASC
			LIMIT $2`, lastSeq, batchSize)
		if err != nil {
			return visited, mapStorageError(err, "failed to walk audit events")
		}

		batch := 0
		for rows.Next() {
			event, seq, err := scanEventWithSeq(rows)
			if err != nil {
				rows.Close()
				return visited, mapStorageError(err, "failed to scan audit event")
			}
			lastSeq = seq
			batch++
			visited++

			cont, err := fn(event)
			if err != nil {
				rows.Close()
				return visited, err
			}
			if !cont {
				rows.Close()
				return visited, nil
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return visited, mapStorageError(err, "failed to iterate audit events")
		}
		rows.Close()

		if batch < batchSize {
			return visited, nil
		}
	}
}

// Count returns the total number of stored events
func (r *LedgerRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_events`).Scan(&count); err != nil {
		return 0, mapStorageError(err, "failed to count audit events")
	}
	return count, nil
}

// DeleteOlderThan removes audit events with timestamp before cutoff
func (r *LedgerRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, mapStorageError(err, "failed to purge audit events")
	}
	return tag.RowsAffected(), nil
}

// Ping probes storage liveness
func (r *LedgerRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return errors.NewStorageError("PING_FAILED",
			"database unreachable").WithCause(err)
	}
	return nil
}

// DecisionRepository implements ledger.DecisionRepository on PostgreSQL
type DecisionRepository struct {
	db *pgxpool.Pool
}

// NewDecisionRepository creates a PostgreSQL-backed decision repository
func NewDecisionRepository(db *pgxpool.Pool) *DecisionRepository {
	return &DecisionRepository{db: db}
}

var _ ledger.DecisionRepository = (*DecisionRepository)(nil)

// Store persists a fraud decision row
func (r *DecisionRepository) Store(ctx context.Context, decision *ledger.FraudDecision) error {
	factors, err := json.Marshal(decision.Factors)
	if err != nil {
		return errors.NewInternalError("failed to marshal factors").WithCause(err)
	}

	decision.CreatedAt = time.Now().UTC()

	_, err = r.db.Exec(ctx, `
		INSERT INTO fraud_decisions (
			id, transaction_id, customer_id, risk_score, decision,
			recommendation, factors, model_version, decision_timestamp,
			decision_maker, reviewed_by, review_timestamp, appeal_status,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		decision.ID,
		decision.TransactionID,
		decision.CustomerID,
		decision.RiskScore,
		string(decision.Decision),
		decision.Recommendation,
		factors,
		decision.ModelVersion,
		decision.DecisionTimestamp,
		decision.DecisionMaker,
		decision.ReviewedBy,
		decision.ReviewTimestamp,
		decision.AppealStatus,
		decision.CreatedAt,
	)
	if err != nil {
		return mapStorageError(err, "failed to store fraud decision")
	}
	return nil
}

// GetByID retrieves a fraud decision
func (r *DecisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*ledger.FraudDecision, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, transaction_id, customer_id, risk_score, decision,
			recommendation, factors, model_version, decision_timestamp,
			decision_maker, reviewed_by, review_timestamp, appeal_status,
			created_at
		FROM fraud_decisions WHERE id = $1`, id)

	decision, err := scanDecision(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NewNotFoundError("fraud decision")
	}
	if err != nil {
		return nil, mapStorageError(err, "failed to load fraud decision")
	}
	return decision, nil
}

// ListByCustomer lists recent decisions for a customer, newest first
func (r *DecisionRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*ledger.FraudDecision, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, transaction_id, customer_id, risk_score, decision,
			recommendation, factors, model_version, decision_timestamp,
			decision_maker, reviewed_by, review_timestamp, appeal_status,
			created_at
		FROM fraud_decisions
		WHERE customer_id = $1
		ORDER BY decision_timestamp DESC
		LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, mapStorageError(err, "failed to list fraud decisions")
	}
	defer rows.Close()

	var decisions []*ledger.FraudDecision
	for rows.Next() {
		decision, err := scanDecision(rows)
		if err != nil {
			return nil, mapStorageError(err, "failed to scan fraud decision")
		}
		decisions = append(decisions, decision)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStorageError(err, "failed to iterate fraud decisions")
	}
	return decisions, nil
}

// UpdateReview mutates only the review fields of a stored decision
func (r *DecisionRepository) UpdateReview(ctx context.Context, id uuid.UUID, reviewedBy string, reviewedAt time.Time, appealStatus string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE fraud_decisions
		SET reviewed_by = $2, review_timestamp = $3, appeal_status = $4
		WHERE id = $1`,
		id, reviewedBy, reviewedAt, appealStatus)
	if err != nil {
		return mapStorageError(err, "failed to update review fields")
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("fraud decision")
	}
	return nil
}

// DeleteOlderThan removes decisions older than cutoff
func (r *DecisionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM fraud_decisions WHERE decision_timestamp < $1`, cutoff)
	if err != nil {
		return 0, mapStorageError(err, "failed to purge fraud decisions")
	}
	return tag.RowsAffected(), nil
}

// ComplianceRepository implements ledger.ComplianceRepository on PostgreSQL
type ComplianceRepository struct {
	db *pgxpool.Pool
}

// NewComplianceRepository creates a PostgreSQL-backed compliance repository
func NewComplianceRepository(db *pgxpool.Pool) *ComplianceRepository {
	return &ComplianceRepository{db: db}
}

var _ ledger.ComplianceRepository = (*ComplianceRepository)(nil)

// Store persists a compliance event row
func (r *ComplianceRepository) Store(ctx context.Context, event *ledger.ComplianceEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	evidence, err := json.Marshal(event.Evidence)
	if err != nil {
		return errors.NewInternalError("failed to marshal evidence").WithCause(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO compliance_events (
			id, compliance_type, regulation, entity_type, entity_id,
			event_type, status, evidence, remediation_status, resolved_at,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID,
		event.ComplianceType,
		event.Regulation,
		event.EntityType,
		event.EntityID,
		event.EventType,
		string(event.Status),
		evidence,
		event.RemediationStatus,
		event.ResolvedAt,
		event.CreatedAt,
	)
	if err != nil {
		return mapStorageError(err, "failed to store compliance event")
	}
	return nil
}

// GetByID retrieves a compliance event
func (r *ComplianceRepository) GetByID(ctx context.Context, id uuid.UUID) (*ledger.ComplianceEvent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, compliance_type, regulation, entity_type, entity_id,
			event_type, status, evidence, remediation_status, resolved_at,
			created_at
		FROM compliance_events WHERE id = $1`, id)

	event, err := scanCompliance(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NewNotFoundError("compliance event")
	}
	if err != nil {
		return nil, mapStorageError(err, "failed to load compliance event")
	}
	return event, nil
}

// Summarize aggregates compliance events in [start, end) by type and
// regulation. Zero rows is a valid, empty summary.
func (r *ComplianceRepository) Summarize(ctx context.Context, start, end time.Time, complianceType string) (*ledger.ComplianceSummary, error) {
	query := `
		SELECT compliance_type, COALESCE(regulation, ''),
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'RESOLVED'),
			COUNT(*) FILTER (WHERE status IN ('REPORTED', 'PENDING'))
		FROM compliance_events
		WHERE created_at >= $1 AND created_at < $2`
	args := []interface{}{start, end}
	if complianceType != "" {
		query += " AND compliance_type = $3"
		args = append(args, complianceType)
	}
	query += " GROUP BY compliance_type, regulation ORDER BY compliance_type, regulation"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapStorageError(err, "failed to summarize compliance events")
	}
	defer rows.Close()

	summary := &ledger.ComplianceSummary{
		Start:       start,
		End:         end,
		GeneratedAt: time.Now().UTC(),
	}
	for rows.Next() {
		var group ledger.ComplianceGroupStats
		if err := rows.Scan(&group.ComplianceType, &group.Regulation,
			&group.Total, &group.Resolved, &group.Pending); err != nil {
			return nil, mapStorageError(err, "failed to scan summary row")
		}
		summary.Groups = append(summary.Groups, group)
		summary.TotalEvents += group.Total
	}
	if err := rows.Err(); err != nil {
		return nil, mapStorageError(err, "failed to iterate summary rows")
	}

	return summary, nil
}

// DeleteOlderThan removes compliance events older than cutoff
func (r *ComplianceRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM compliance_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, mapStorageError(err, "failed to purge compliance events")
	}
	return tag.RowsAffected(), nil
}

// --- scanning helpers ---

func scanEvent(row pgx.Row) (*ledger.Event, error) {
	var (
		event        ledger.Event
		details      sql.NullString
		previousHash sql.NullString
	)
	err := row.Scan(
		&event.ID,
		&event.Type,
		&event.Severity,
		&event.ActorType,
		&event.ActorID,
		&event.ResourceType,
		&event.ResourceID,
		&event.Action,
		&event.Status,
		&details,
		&event.EventHash,
		&previousHash,
		&event.Timestamp,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Details = details.String
	event.PreviousHash = previousHash.String
	event.Seal()
	return &event, nil
}

func scanEventWithSeq(rows pgx.Rows) (*ledger.Event, int64, error) {
	var (
		event        ledger.Event
		details      sql.NullString
		previousHash sql.NullString
		seq          int64
	)
	err := rows.Scan(
		&event.ID,
		&event.Type,
		&event.Severity,
		&event.ActorType,
		&event.ActorID,
		&event.ResourceType,
		&event.ResourceID,
		&event.Action,
		&event.Status,
		&details,
		&event.EventHash,
		&previousHash,
		&event.Timestamp,
		&event.CreatedAt,
		&seq,
	)
	if err != nil {
		return nil, 0, err
	}
	event.Details = details.String
	event.PreviousHash = previousHash.String
	event.Seal()
	return &event, seq, nil
}

func scanDecision(row pgx.Row) (*ledger.FraudDecision, error) {
	var (
		decision ledger.FraudDecision
		factors  []byte
	)
	err := row.Scan(
		&decision.ID,
		&decision.TransactionID,
		&decision.CustomerID,
		&decision.RiskScore,
		&decision.Decision,
		&decision.Recommendation,
		&factors,
		&decision.ModelVersion,
		&decision.DecisionTimestamp,
		&decision.DecisionMaker,
		&decision.ReviewedBy,
		&decision.ReviewTimestamp,
		&decision.AppealStatus,
		&decision.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &decision.Factors); err != nil {
			return nil, err
		}
	}
	return &decision, nil
}

func scanCompliance(row pgx.Row) (*ledger.ComplianceEvent, error) {
	var (
		event    ledger.ComplianceEvent
		evidence []byte
	)
	err := row.Scan(
		&event.ID,
		&event.ComplianceType,
		&event.Regulation,
		&event.EntityType,
		&event.EntityID,
		&event.EventType,
		&event.Status,
		&evidence,
		&event.RemediationStatus,
		&event.ResolvedAt,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &event.Evidence); err != nil {
			return nil, err
		}
	}
	return &event, nil
}

func mapStorageError(err error, message string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock
			return errors.NewStorageConflictError(message).WithCause(err)
		case "23505":
			return errors.NewConflictError(message).WithCause(err)
		}
	}
	return errors.NewStorageError("STORAGE_FAILURE", message).WithCause(err)
}
