package middleware

import (
	"context"
	"strings"

	"smallbiznis-cashback/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type actorKey struct{}

// Actor is the caller identity forwarded by the gateway. Authentication
// happens upstream; these headers are trusted as-is.
type Actor struct {
	TenantID   string
	StoreID    string
	ActorID    string
	Role       string
	Channel    string
	RemoteAddr string
}

// ActorContext reads the gateway headers into the request context. Requests
// without a tenant are rejected.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Actor{
			TenantID:   strings.TrimSpace(c.GetHeader("X-Tenant-ID")),
			StoreID:    strings.TrimSpace(c.GetHeader("X-Store-ID")),
			ActorID:    strings.TrimSpace(c.GetHeader("X-Actor-ID")),
			Role:       strings.ToUpper(strings.TrimSpace(c.GetHeader("X-Actor-Role"))),
			Channel:    GetChannel(c.Request.Context()),
			RemoteAddr: c.ClientIP(),
		}
		if actor.TenantID == "" {
			_ = c.Error(errutil.Unauthorized("missing tenant", nil))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// Origin is the metadata recorded on ledger rows created by this request.
func (a Actor) Origin() map[string]any {
	m := map[string]any{"channel": a.Channel}
	if a.RemoteAddr != "" {
		m["remote_addr"] = a.RemoteAddr
	}
	return m
}

// RequireRole rejects actors whose role is not listed. It must run after
// ActorContext.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := ActorFromContext(c.Request.Context())
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		_ = c.Error(errutil.Forbidden("role not allowed", nil))
		c.Abort()
	}
}
