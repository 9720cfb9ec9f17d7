package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
)

// GenesisHash is the previous-hash sentinel for the first event in an empty
// chain. Stored as NULL; distinct from any real SHA-256 digest.
const GenesisHash = ""

// Event represents an immutable audit ledger entry.
// Validation happens in the constructor; the hash seals the event and any
// later mutation attempt is rejected.
type Event struct {
	// Immutable identifiers (set once, never modified)
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`

	// Event classification
	Type     EventType `json:"event_type"`
	Severity Severity  `json:"severity"`

	// Actor information (who performed the action)
	ActorType string `json:"actor_type,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`

	// Resource information (what was acted upon)
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Action details
	Action string `json:"action"`
	Status string `json:"status,omitempty"`

	// Opaque structured payload, serialized (and possibly encrypted) before
	// the hash is computed. The hash covers the stored form, so a later
	// decryption never invalidates the chain.
	Details string `json:"details,omitempty"`

	// Cryptographic linkage
	EventHash    string `json:"event_hash"`
	PreviousHash string `json:"previous_hash"`

	// Set after hash computation; sealed events reject further hashing.
	sealed bool
}

// NewEvent creates a new audit event with validation.
// eventType and action are required; everything else is optional and may be
// set on the returned event before it is appended (and sealed) by the store.
func NewEvent(eventType EventType, action string) (*Event, error) {
	if eventType == "" {
		return nil, errors.NewValidationError("MISSING_EVENT_TYPE",
			"event type is required")
	}
	if action == "" {
		return nil, errors.NewValidationError("MISSING_ACTION",
			"action is required")
	}

	return &Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  SeverityInfo,
		Action:    action,
	}, nil
}

// ComputeHash calculates the SHA-256 chain digest for this event given the
// digest of its predecessor, then seals the event. The digest covers a fixed
// creation-time field set; mutable satellite data (fraud decision review
// fields) lives outside this set and never participates.
func (e *Event) ComputeHash(previousHash string) (string, error) {
	if e.sealed {
		return "", errors.ErrEventImmutable
	}

	e.PreviousHash = previousHash

	// Deterministic canonical form: encoding/json marshals map keys in
	// sorted order, so the same logical event always yields the same bytes.
	hashData := map[string]interface{}{
		"id":             e.ID.String(),
		"event_type":     string(e.Type),
		"severity":       string(e.Severity),
		"actor_type":     e.ActorType,
		"actor_id":       e.ActorID,
		"resource_type":  e.ResourceType,
		"resource_id":    e.ResourceID,
		"action":         e.Action,
		"status":         e.Status,
		"details":        e.Details,
		// timestamptz keeps microseconds; sub-microsecond digits would not
		// survive a storage round trip, so the canonical form drops them.
		"timestamp_micro": e.Timestamp.Truncate(time.Microsecond).UnixNano() / int64(time.Microsecond),
		"previous_hash":   e.PreviousHash,
	}

	jsonBytes, err := json.Marshal(hashData)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal hash data").WithCause(err)
	}

	digest := sha256.Sum256(jsonBytes)
	e.EventHash = fmt.Sprintf("%x", digest)
	e.sealed = true

	return e.EventHash, nil
}

// RecomputeHash returns the digest the event's stored content should produce,
// without touching the event. Integrity verification uses this to detect
// in-place content tampering, not just broken linkage.
func (e *Event) RecomputeHash() (string, error) {
	shadow := *e
	shadow.sealed = false
	shadow.EventHash = ""
	return shadow.ComputeHash(e.PreviousHash)
}

// IsSealed reports whether the hash has been computed
func (e *Event) IsSealed() bool {
	return e.sealed
}

// Seal marks an event loaded from storage as immutable. The repository calls
// this after scanning a row so a loaded event cannot be re-hashed in place.
func (e *Event) Seal() {
	e.sealed = true
}

// Validate performs full validation of the event
func (e *Event) Validate() error {
	if e.ID == uuid.Nil {
		return errors.NewValidationError("MISSING_ID", "event ID is required")
	}
	if e.Type == "" {
		return errors.NewValidationError("MISSING_EVENT_TYPE", "event type is required")
	}
	if e.Action == "" {
		return errors.NewValidationError("MISSING_ACTION", "action is required")
	}
	if !e.Severity.IsValid() {
		return errors.NewValidationError("INVALID_SEVERITY",
			fmt.Sprintf("severity %q is not valid", e.Severity))
	}
	if e.Timestamp.IsZero() {
		return errors.NewValidationError("MISSING_TIMESTAMP", "timestamp is required")
	}
	return nil
}

// Clone returns a deep copy that is not sealed. Used by tests and by the
// retention manager when it needs a mutable scratch copy.
func (e *Event) Clone() *Event {
	clone := *e
	clone.sealed = false
	return &clone
}
