package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicialibros/loyalty/internal/observability"
	"github.com/alicialibros/loyalty/internal/testenv"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t      *testing.T
	env    *testenv.Env
	server *Server
	token  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := testenv.New(t)
	cfg := testConfig()
	s := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{Environment: "test"}, nil),
		Cfg:        cfg,
		LedgerSvc:  env.Ledger,
		TenantSvc:  env.Tenants,
		APIKeySvc:  env.APIKeys,
		AccountSvc: env.Accounts,
		AuditSvc:   env.Audit,
	})
	return &harness{t: t, env: env, server: s, token: cfg.AdminAPIToken}
}

func (h *harness) do(method, path, token string, body any) (int, map[string]any) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Engine().ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (h *harness) admin(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	return h.do(method, path, h.token, body)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(http.MethodGet, "/admin/tenants", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized.", body["error"])

	status, _ = h.do(http.MethodGet, "/admin/tenants", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.admin(http.MethodGet, "/admin/tenants", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := testenv.New(t)
	cfg := testConfig()
	cfg.AdminAPIToken = ""
	s := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{Environment: "test"}, nil),
		Cfg:        cfg,
		LedgerSvc:  env.Ledger,
		TenantSvc:  env.Tenants,
		APIKeySvc:  env.APIKeys,
		AccountSvc: env.Accounts,
		AuditSvc:   env.Audit,
	})
	h := &harness{t: t, env: env, server: s}

	status, body := h.do(http.MethodGet, "/admin/tenants", "anything", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "Service unavailable.", body["error"])
}

func TestEndToEndGrantFlow(t *testing.T) {
	h := newHarness(t)

	status, created := h.admin(http.MethodPost, "/admin/tenants", map[string]any{"name": "Librería Alicia"})
	require.Equal(t, http.StatusCreated, status)
	tenant := created["tenant"].(map[string]any)
	apiKey := created["api_key"].(map[string]any)
	key := apiKey["api_key"].(string)
	tenantID := tenant["id"].(string)

	status, _ = h.admin(http.MethodPost, "/admin/accounts", map[string]any{"user_id": "reader-1"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = h.admin(http.MethodPost, "/admin/accounts", map[string]any{"user_id": "reader-1"})
	assert.Equal(t, http.StatusConflict, status)

	status, body := h.do(http.MethodPost, "/api/points/grant", "", map[string]any{
		"userId": "reader-1", "purchaseAmount": 25.5, "apiKey": key,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(25), body["pointsGranted"])

	status, body = h.do(http.MethodPost, "/api/points/grant", "", map[string]any{
		"userId": "reader-1", "purchaseAmount": 0.99, "apiKey": key,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["pointsGranted"])

	status, body = h.do(http.MethodPost, "/api/points/grant", "", map[string]any{
		"userId": "ghost", "purchaseAmount": 10, "apiKey": key,
	})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Account not found.", body["error"])

	status, account := h.admin(http.MethodGet, "/admin/accounts/reader-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(25), account["points_balance"])

	status, ledger := h.admin(http.MethodGet, "/admin/accounts/reader-1/ledger", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, ledger["data"], 1)

	status, rec := h.admin(http.MethodGet, "/admin/accounts/reader-1/reconcile", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, rec["consistent"])

	status, _ = h.admin(http.MethodPost, "/admin/tenants/"+tenantID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = h.do(http.MethodPost, "/api/points/grant", "", map[string]any{
		"userId": "reader-1", "purchaseAmount": 10, "apiKey": key,
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Invalid or inactive API key.", body["error"])
	assert.Equal(t, int64(25), h.env.Balance(t, "reader-1"))

	status, logs := h.admin(http.MethodGet, "/admin/audit-logs?action=points.granted", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, logs["data"], 1)
}

func TestRotateThroughAdminAPI(t *testing.T) {
	h := newHarness(t)
	tenant, oldKey := h.env.Tenant(t, "Casa del Libro")
	h.env.Account(t, "reader-1", 0)

	status, keys := h.admin(http.MethodGet, "/admin/tenants/"+tenant.ID.String()+"/api-keys", nil)
	require.Equal(t, http.StatusOK, status)
	items := keys["data"].([]any)
	require.Len(t, items, 1)
	keyID := items[0].(map[string]any)["key_id"].(string)

	status, rotated := h.admin(http.MethodPost, "/admin/tenants/"+tenant.ID.String()+"/api-keys/"+keyID+"/rotate", nil)
	require.Equal(t, http.StatusOK, status)
	newKey := rotated["api_key"].(string)

	status, _ = h.do(http.MethodPost, "/api/points/grant", "", map[string]any{
		"userId": "reader-1", "purchaseAmount": 3, "apiKey": oldKey,
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(http.MethodPost, "/api/points/grant", "", map[string]any{
		"userId": "reader-1", "purchaseAmount": 3, "apiKey": newKey,
	})
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.admin(http.MethodPost, "/admin/tenants/"+tenant.ID.String()+"/api-keys/key_NOPE/revoke", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminValidationErrors(t *testing.T) {
	h := newHarness(t)

	status, body := h.admin(http.MethodPost, "/admin/tenants", map[string]any{"name": " "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "name is required.", body["error"])

	status, _ = h.admin(http.MethodGet, "/admin/tenants/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.admin(http.MethodGet, "/admin/tenants/123", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.admin(http.MethodGet, "/admin/accounts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.admin(http.MethodGet, "/admin/audit-logs?start_at=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.admin(http.MethodGet, "/admin/audit-logs?start_at=2026-05-02&end_at=2026-05-01", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPaddedKeyIsForbidden(t *testing.T) {
	h := newHarness(t)
	_, key := h.env.Tenant(t, "Librería Alicia")
	h.env.Account(t, "reader-1", 0)

	status, body := h.do(http.MethodPost, "/api/points/grant", "", map[string]any{
		"userId": "reader-1", "purchaseAmount": 25.5, "apiKey": "  " + key + "\n",
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Invalid or inactive API key.", body["error"])
	assert.Equal(t, int64(0), h.env.Balance(t, "reader-1"))
	assert.Equal(t, int64(0), h.env.EntryCount(t, "reader-1"))
}
