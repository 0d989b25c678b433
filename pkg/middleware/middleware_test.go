package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smallbiznis-cashback/pkg/errutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestError(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.GET("/typed", func(c *gin.Context) {
		_ = c.Error(errutil.InsufficientFunds("balance too low", nil))
	})
	r.GET("/foreign", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})
	r.GET("/written", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
		c.Writer.WriteHeaderNow()
		_ = c.Error(errutil.Conflict("late", nil))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/typed", nil))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), `"INSUFFICIENT_FUNDS"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/foreign", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "boom")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/written", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestActorContext(t *testing.T) {
	r := gin.New()
	r.Use(Error(), Channel())
	r.GET("/me", ActorContext(), func(c *gin.Context) {
		actor, ok := ActorFromContext(c.Request.Context())
		require.True(t, ok)
		require.Equal(t, "STORE_MANAGER", actor.Role)
		require.Equal(t, "store-1", actor.StoreID)
		c.JSON(http.StatusOK, actor.Origin())
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("X-Store-ID", "store-1")
	req.Header.Set("X-Actor-Role", "store_manager")
	req.Header.Set("X-API-Key", "pos_abc")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"channel":"pos"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeriveChannelFromAPIKey(t *testing.T) {
	require.Equal(t, "pos", deriveChannelFromAPIKey("pos_1"))
	require.Equal(t, "online", deriveChannelFromAPIKey("web_1"))
	require.Equal(t, "partner", deriveChannelFromAPIKey("partner_1"))
	require.Equal(t, "api", deriveChannelFromAPIKey("sk_1"))
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Now()

	require.True(t, l.allow("10.0.0.1", now))
	require.True(t, l.allow("10.0.0.1", now))
	require.False(t, l.allow("10.0.0.1", now))
	require.True(t, l.allow("10.0.0.2", now))
	require.True(t, l.allow("10.0.0.1", now.Add(time.Second)))

	// idle visitors are evicted
	l.allow("10.0.0.3", now.Add(time.Hour))
	require.Len(t, l.visitors, 1)

	r := gin.New()
	r.Use(Error())
	r.GET("/pay", NewRateLimiter(0, 1).Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })

	require.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/pay", nil)).Code)
	require.Equal(t, http.StatusTooManyRequests, serve(r, httptest.NewRequest(http.MethodGet, "/pay", nil)).Code)
}
