package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/cache"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/crypto"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/database"
	ledgersvc "github.com/davidleathers/transaction-audit-ledger/internal/service/ledger"
)

func newTestServer(t *testing.T) (http.Handler, *ledgersvc.Service) {
	t.Helper()

	store := database.NewMemoryStore()
	cipher, err := crypto.NewFieldCipher(nil, false)
	require.NoError(t, err)

	svc := ledgersvc.NewService(
		store.Events(), store.Decisions(), store.Compliance(),
		cipher, cache.NewLedgerCache(nil, zap.NewNop()),
		prometheus.NewRegistry(), zap.NewNop(),
		ledgersvc.DefaultServiceConfig(),
	)

	mux := http.NewServeMux()
	handler := NewHandler(svc, zap.NewNop())
	handler.RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", handler.HandleHealth)
	return mux, svc
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestLogEventEndpoint(t *testing.T) {
	mux, _ := newTestServer(t)

	t.Run("created", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/v1/audit/events", map[string]interface{}{
			"event_type": "DATA_ACCESS",
			"action":     "record_viewed",
			"actor_id":   "alice",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp idResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)
	})

	t.Run("validation failure maps to 400", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/v1/audit/events", map[string]interface{}{
			"event_type": "DATA_ACCESS",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_EVENT", resp.Code)
	})

	t.Run("malformed body maps to 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/events",
			bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQueryEventsEndpoint(t *testing.T) {
	mux, svc := newTestServer(t)
	ctx := context.Background()

	for _, action := range []string{"read", "write"} {
		_, err := svc.LogEvent(ctx, &ledgersvc.LogEventRequest{
			EventType: "DATA_ACCESS",
			Action:    action,
			ActorID:   "alice",
		})
		require.NoError(t, err)
	}

	t.Run("lists events", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/api/v1/audit/events?actor_id=alice", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("bad filter rejected", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/api/v1/audit/events?since=yesterday", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDecisionEndpoints(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/audit/decisions", map[string]interface{}{
		"transaction_id": "txn-1",
		"customer_id":    "cust-1",
		"risk_score":     0.9,
		"decision":       "BLOCK",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created idResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	t.Run("review", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost,
			"/api/v1/audit/decisions/"+created.ID.String()+"/review",
			map[string]interface{}{"reviewed_by": "analyst-1", "appeal_status": "upheld"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("review with bad id", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost,
			"/api/v1/audit/decisions/not-a-uuid/review",
			map[string]interface{}{"reviewed_by": "analyst-1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVerifyEndpoint(t *testing.T) {
	mux, svc := newTestServer(t)

	_, err := svc.LogEvent(context.Background(), &ledgersvc.LogEventRequest{
		EventType: "SYSTEM_ACTION",
		Action:    "boot",
	})
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/audit/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report ledgersvc.VerificationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.IsValid)
	assert.Equal(t, 1, report.EventCount)
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report ledgersvc.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, ledgersvc.HealthHealthy, report.Status)
}
