package rate

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"smallbiznis-cashback/pkg/middleware"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	resolver, svc := newTestResolver(t, time.Minute)
	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(r, NewHandler(svc, resolver))
	return r
}

func call(r *gin.Engine, method, path, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("X-Actor-Role", role)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_AdminWritesAndQuote(t *testing.T) {
	r := newRouter(t)

	w := call(r, http.MethodPost, "/v1/rules/defaults", "cashier", "")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = call(r, http.MethodPost, "/v1/rules/defaults", "tenant_admin", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = call(r, http.MethodPut, "/v1/rules/cashback/dining", "tenant_admin", `{"rate_bps":500}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(r, http.MethodPut, "/v1/rules/cashback/dining", "tenant_admin", `{"rate_bps":20000}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = call(r, http.MethodGet, "/v1/rules/rate?category=Dining&tier=GOLD", "cashier", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rate Rate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rate))
	require.Equal(t, int64(500), rate.BaseBps)
	require.Equal(t, int64(100), rate.TierBonusBps)
	require.Equal(t, int64(600), rate.TotalBps)

	w = call(r, http.MethodPost, "/v1/rules/offers", "tenant_admin",
		`{"name":"double","rate_multiplier_bps":100,"starts_at":"2026-01-01T00:00:00Z","ends_at":"2026-01-01T00:00:00Z","condition":"category =="}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
