package purchase

import (
	"net/http"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/middleware"
	"smallbiznis-cashback/services/ledger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc     *Service
	limiter *middleware.RateLimiter
}

func NewHandler(svc *Service, cfg *config.Config) *Handler {
	return &Handler{
		svc:     svc,
		limiter: middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler, wh *WebhookHandler) {
	v1 := r.Group("/v1", middleware.ActorContext())
	v1.POST("/purchases", h.CreatePurchase)
	v1.GET("/purchases/:id", h.GetPurchase)
	v1.POST("/purchases/:id/confirm", h.ConfirmCash)

	public := r.Group("/v1", h.limiter.Handler())
	public.POST("/pay/:token/open", h.OpenPaymentLink)
	public.POST("/pay/:token/confirm", h.ConfirmPaymentLink)
	public.POST("/checkout/:session/confirm", h.ConfirmCheckoutSession)

	r.POST("/v1/webhooks/stripe", wh.HandleStripe)
}

type createPurchaseRequest struct {
	CardCode      string `json:"card_code"`
	Amount        int64  `json:"amount" binding:"required"`
	Category      string `json:"category"`
	Kind          string `json:"kind"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	ProcessorRef  string `json:"processor_ref"`
	Note          string `json:"note"`
}

func (h *Handler) CreatePurchase(c *gin.Context) {
	var req createPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	kind, ok := ParseKind(req.Kind)
	if !ok {
		_ = c.Error(errutil.BadRequest("unsupported purchase kind", nil,
			errutil.WithDetails(errutil.Detail{Field: "kind", Message: "must be REGULAR or STORE_CREDIT"})))
		return
	}
	method, _ := ParsePaymentMethod(req.PaymentMethod)

	actor, _ := middleware.ActorFromContext(c.Request.Context())
	purchase, token, err := h.svc.CreatePendingPurchase(c.Request.Context(), CreatePurchaseParams{
		TenantID:      actor.TenantID,
		StoreID:       actor.StoreID,
		CardCode:      req.CardCode,
		ActorID:       actor.ActorID,
		ActorRole:     ledger.ActorRole(actor.Role),
		Amount:        req.Amount,
		Category:      req.Category,
		Kind:          kind,
		PaymentMethod: method,
		ProcessorRef:  req.ProcessorRef,
		Note:          req.Note,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"purchase": purchase, "payment_link": token})
}

func (h *Handler) GetPurchase(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	purchase, err := h.svc.GetPurchase(c.Request.Context(), actor.TenantID, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func (h *Handler) ConfirmCash(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	res, err := h.svc.ConfirmCash(c.Request.Context(), actor.TenantID, c.Param("id"), actor.ActorID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) OpenPaymentLink(c *gin.Context) {
	checkout, err := h.svc.OpenPaymentLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

func (h *Handler) ConfirmPaymentLink(c *gin.Context) {
	res, err := h.svc.ConfirmPaymentLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(confirmStatus(res), res)
}

func (h *Handler) ConfirmCheckoutSession(c *gin.Context) {
	res, err := h.svc.ConfirmCheckoutSession(c.Request.Context(), c.Param("session"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(confirmStatus(res), res)
}

// confirmStatus maps an expired link to 410 for customer-facing callers.
// Everything else, duplicates included, is a 200.
func confirmStatus(res *ConfirmResult) int {
	if res.Outcome == OutcomeExpired {
		return http.StatusGone
	}
	return http.StatusOK
}
