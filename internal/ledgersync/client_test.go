package ledgersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientApplyPnL(t *testing.T) {
	accountID, positionID := uuid.New(), uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/pnl", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, positionID.String(), r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req applyPnLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, accountID.String(), req.AccountID)
		assert.Equal(t, "123.45", req.PnL)

		json.NewEncoder(w).Encode(applyPnLResponse{AppliedDelta: req.PnL})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	delta, err := c.ApplyPnL(context.Background(), accountID, positionID, decimal.RequireFromString("123.45"))
	require.NoError(t, err)
	assert.True(t, delta.Equal(decimal.RequireFromString("123.45")))
}

func TestClientApplyPnLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "account frozen", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.ApplyPnL(context.Background(), uuid.New(), uuid.New(), decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 409")
	assert.Contains(t, err.Error(), "account frozen")
}

func TestClientApplyPnLApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(applyPnLResponse{Error: "unknown account"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.ApplyPnL(context.Background(), uuid.New(), uuid.New(), decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown account")
}

func TestEchoReturnsPnLUnchanged(t *testing.T) {
	pnl := decimal.RequireFromString("-42.50")
	applied, err := Echo{}.ApplyPnL(context.Background(), uuid.New(), uuid.New(), pnl)
	require.NoError(t, err)
	assert.True(t, applied.Equal(pnl))
}
