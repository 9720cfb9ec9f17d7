package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
)

func TestNewEvent(t *testing.T) {
	t.Run("valid event", func(t *testing.T) {
		event, err := NewEvent(EventDataAccess, "record_viewed")

		require.NoError(t, err)
		assert.NotEqual(t, "", event.ID.String())
		assert.Equal(t, EventDataAccess, event.Type)
		assert.Equal(t, SeverityInfo, event.Severity)
		assert.Equal(t, "record_viewed", event.Action)
		assert.False(t, event.Timestamp.IsZero())
		assert.False(t, event.IsSealed())
	})

	t.Run("missing event type", func(t *testing.T) {
		_, err := NewEvent("", "record_viewed")

		require.Error(t, err)
		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "MISSING_EVENT_TYPE", appErr.Code)
	})

	t.Run("missing action", func(t *testing.T) {
		_, err := NewEvent(EventDataAccess, "")

		require.Error(t, err)
		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "MISSING_ACTION", appErr.Code)
	})
}

func TestComputeHash(t *testing.T) {
	t.Run("seals the event", func(t *testing.T) {
		event, err := NewEvent(EventSystemAction, "config_reload")
		require.NoError(t, err)

		hash, err := event.ComputeHash(GenesisHash)
		require.NoError(t, err)
		assert.Len(t, hash, 64)
		assert.Equal(t, hash, event.EventHash)
		assert.Equal(t, GenesisHash, event.PreviousHash)
		assert.True(t, event.IsSealed())
	})

	t.Run("sealed event rejects re-hashing", func(t *testing.T) {
		event, err := NewEvent(EventSystemAction, "config_reload")
		require.NoError(t, err)

		_, err = event.ComputeHash(GenesisHash)
		require.NoError(t, err)

		_, err = event.ComputeHash(GenesisHash)
		assert.ErrorIs(t, err, errors.ErrEventImmutable)
	})

	t.Run("deterministic for identical content", func(t *testing.T) {
		event, err := NewEvent(EventDataAccess, "record_viewed")
		require.NoError(t, err)
		event.ActorType = "user"
		event.ActorID = "alice"

		_, err = event.ComputeHash("abc123")
		require.NoError(t, err)

		recomputed, err := event.RecomputeHash()
		require.NoError(t, err)
		assert.Equal(t, event.EventHash, recomputed)
	})

	t.Run("digest survives loss of sub-microsecond precision", func(t *testing.T) {
		// Timestamps persist as timestamptz, which keeps microseconds only.
		event, err := NewEvent(EventDataAccess, "record_viewed")
		require.NoError(t, err)
		event.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

		_, err = event.ComputeHash(GenesisHash)
		require.NoError(t, err)

		event.Timestamp = event.Timestamp.Truncate(time.Microsecond)
		recomputed, err := event.RecomputeHash()
		require.NoError(t, err)
		assert.Equal(t, event.EventHash, recomputed)
	})

	t.Run("previous hash participates in the digest", func(t *testing.T) {
		first, err := NewEvent(EventDataAccess, "record_viewed")
		require.NoError(t, err)
		second := first.Clone()

		h1, err := first.ComputeHash(GenesisHash)
		require.NoError(t, err)
		h2, err := second.ComputeHash("deadbeef")
		require.NoError(t, err)

		assert.NotEqual(t, h1, h2)
	})
}

func TestRecomputeHash(t *testing.T) {
	newSealed := func(t *testing.T) *Event {
		t.Helper()
		event, err := NewEvent(EventDataAccess, "record_viewed")
		require.NoError(t, err)
		event.ActorType = "user"
		event.ActorID = "alice"
		event.ResourceType = "transaction"
		event.ResourceID = "txn-42"
		event.Status = "success"
		event.Details = `{"ip":"10.0.0.1"}`
		_, err = event.ComputeHash(GenesisHash)
		require.NoError(t, err)
		return event
	}

	t.Run("does not mutate the event", func(t *testing.T) {
		event := newSealed(t)
		stored := event.EventHash

		recomputed, err := event.RecomputeHash()
		require.NoError(t, err)
		assert.Equal(t, stored, recomputed)
		assert.Equal(t, stored, event.EventHash)
		assert.True(t, event.IsSealed())
	})

	t.Run("detects tampering in every covered field", func(t *testing.T) {
		mutations := map[string]func(*Event){
			"event_type":    func(e *Event) { e.Type = EventConfigChange },
			"severity":      func(e *Event) { e.Severity = SeverityCritical },
			"actor_type":    func(e *Event) { e.ActorType = "service" },
			"actor_id":      func(e *Event) { e.ActorID = "mallory" },
			"resource_type": func(e *Event) { e.ResourceType = "account" },
			"resource_id":   func(e *Event) { e.ResourceID = "txn-43" },
			"action":        func(e *Event) { e.Action = "record_deleted" },
			"status":        func(e *Event) { e.Status = "failure" },
			"details":       func(e *Event) { e.Details = `{"ip":"10.0.0.2"}` },
			"timestamp":     func(e *Event) { e.Timestamp = e.Timestamp.Add(time.Microsecond) },
		}

		for field, mutate := range mutations {
			t.Run(field, func(t *testing.T) {
				event := newSealed(t)
				mutate(event)

				recomputed, err := event.RecomputeHash()
				require.NoError(t, err)
				assert.NotEqual(t, event.EventHash, recomputed,
					"mutation of %s must change the digest", field)
			})
		}
	})
}

func TestEventValidate(t *testing.T) {
	event, err := NewEvent(EventSecurityIncident, "login_blocked")
	require.NoError(t, err)
	require.NoError(t, event.Validate())

	t.Run("invalid severity", func(t *testing.T) {
		bad := event.Clone()
		bad.Severity = Severity("EXTREME")
		assert.Error(t, bad.Validate())
	})

	t.Run("zero timestamp", func(t *testing.T) {
		bad := event.Clone()
		bad.Timestamp = time.Time{}
		assert.Error(t, bad.Validate())
	})
}

func TestClone(t *testing.T) {
	event, err := NewEvent(EventDataAccess, "record_viewed")
	require.NoError(t, err)
	_, err = event.ComputeHash(GenesisHash)
	require.NoError(t, err)

	clone := event.Clone()
	assert.False(t, clone.IsSealed())
	assert.Equal(t, event.ID, clone.ID)
	assert.Equal(t, event.EventHash, clone.EventHash)

	// Re-hashing the clone must not touch the original
	_, err = clone.ComputeHash("other")
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, event.PreviousHash)
}
