package rate

import (
	"net/http"
	"time"

	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc      *Service
	resolver *Resolver
}

func NewHandler(svc *Service, resolver *Resolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1/rules", middleware.ActorContext())
	v1.GET("/rate", h.Quote)

	admin := v1.Group("", middleware.RequireRole("TENANT_ADMIN"))
	admin.POST("/defaults", h.InitializeDefaults)
	admin.PUT("/cashback/:category", h.UpsertCashbackRule)
	admin.PUT("/tiers/:tier", h.UpsertTierRule)
	admin.POST("/offers", h.CreateOffer)
}

// Quote returns the rate a purchase would earn right now.
func (h *Handler) Quote(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	category := c.Query("category")
	if category == "" {
		category = DefaultCategory
	}
	rate, err := h.resolver.Resolve(c.Request.Context(), actor.TenantID, category, c.Query("tier"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rate)
}

func (h *Handler) InitializeDefaults(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	if err := h.svc.InitializeDefaults(c.Request.Context(), actor.TenantID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type cashbackRuleRequest struct {
	RateBps int64 `json:"rate_bps"`
	Active  *bool `json:"active"`
}

func (h *Handler) UpsertCashbackRule(c *gin.Context) {
	var req cashbackRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	actor, _ := middleware.ActorFromContext(c.Request.Context())
	rule, err := h.svc.UpsertCashbackRule(c.Request.Context(), actor.TenantID, c.Param("category"), req.RateBps, active(req.Active))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type tierRuleRequest struct {
	MinSpend int64 `json:"min_spend"`
	BonusBps int64 `json:"bonus_bps"`
	Active   *bool `json:"active"`
}

func (h *Handler) UpsertTierRule(c *gin.Context) {
	var req tierRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	actor, _ := middleware.ActorFromContext(c.Request.Context())
	rule, err := h.svc.UpsertTierRule(c.Request.Context(), actor.TenantID, c.Param("tier"), req.MinSpend, req.BonusBps, active(req.Active))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type offerRequest struct {
	Name              string    `json:"name" binding:"required"`
	RateMultiplierBps int64     `json:"rate_multiplier_bps"`
	StartsAt          time.Time `json:"starts_at" binding:"required"`
	EndsAt            time.Time `json:"ends_at" binding:"required"`
	Condition         string    `json:"condition"`
}

func (h *Handler) CreateOffer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	actor, _ := middleware.ActorFromContext(c.Request.Context())
	offer, err := h.svc.CreateOffer(c.Request.Context(), CreateOfferParams{
		TenantID:          actor.TenantID,
		Name:              req.Name,
		RateMultiplierBps: req.RateMultiplierBps,
		StartsAt:          req.StartsAt,
		EndsAt:            req.EndsAt,
		Condition:         req.Condition,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func active(v *bool) bool {
	return v == nil || *v
}
