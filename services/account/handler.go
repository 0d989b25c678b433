package account

import (
	"net/http"

	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/middleware"
	"smallbiznis-cashback/services/rate"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts card lifecycle routes. Balances are never written
// here.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1", middleware.ActorContext(), middleware.RequireRole("STORE_MANAGER", "TENANT_ADMIN"))
	v1.POST("/customers", h.CreateCustomer)
	v1.POST("/cards", h.IssueCard)
	v1.POST("/cards/:code/activate", h.ActivateCard)
	v1.POST("/cards/:code/block", h.BlockCard)
	v1.POST("/cards/:code/unblock", h.UnblockCard)
}

type createCustomerRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Tier  string `json:"tier"`
}

func (h *Handler) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	tier := rate.NormalizeTier(req.Tier)
	if tier == "" {
		tier = rate.DefaultTier
	}

	actor, _ := middleware.ActorFromContext(c.Request.Context())
	customer, err := h.svc.CreateCustomer(c.Request.Context(), CreateCustomerParams{
		TenantID: actor.TenantID,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Tier:     tier,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (h *Handler) IssueCard(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	card, err := h.svc.IssueCard(c.Request.Context(), actor.TenantID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

type activateRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	StoreID    string `json:"store_id"`
}

// ActivateCard binds the card to the request's store unless the body names
// another one.
func (h *Handler) ActivateCard(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	actor, _ := middleware.ActorFromContext(c.Request.Context())
	storeID := req.StoreID
	if storeID == "" {
		storeID = actor.StoreID
	}
	card, err := h.svc.ActivateCard(c.Request.Context(), actor.TenantID, c.Param("code"), req.CustomerID, storeID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) BlockCard(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	card, err := h.svc.BlockCard(c.Request.Context(), actor.TenantID, c.Param("code"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) UnblockCard(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	card, err := h.svc.UnblockCard(c.Request.Context(), actor.TenantID, c.Param("code"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, card)
}
