package ledger

import (
	"net/http"

	"smallbiznis-cashback/pkg/db/pagination"
	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1", middleware.ActorContext())
	v1.GET("/cards/:code", h.GetCard)
	v1.POST("/cards/:code/transactions", h.ApplyTransaction)
	v1.GET("/cards/:code/transactions", h.ListTransactions)
	v1.GET("/cards/:code/verify", h.VerifyCard)
}

type applyRequest struct {
	Type        string         `json:"type" binding:"required"`
	Amount      int64          `json:"amount"`
	Category    string         `json:"category"`
	Note        string         `json:"note"`
	ReferenceID string         `json:"reference_id"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *Handler) ApplyTransaction(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	typ, ok := ParseTransactionType(req.Type)
	if !ok {
		_ = c.Error(errutil.BadRequest("unsupported transaction type", nil,
			errutil.WithDetails(errutil.Detail{Field: "type", Message: "must be EARN, REDEEM or ADJUST"})))
		return
	}

	actor, _ := middleware.ActorFromContext(c.Request.Context())
	metadata := actor.Origin()
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	res, err := h.svc.ApplyTransaction(c.Request.Context(), ApplyParams{
		TenantID:    actor.TenantID,
		CardCode:    c.Param("code"),
		StoreID:     actor.StoreID,
		ActorID:     actor.ActorID,
		ActorRole:   ActorRole(actor.Role),
		Type:        typ,
		Amount:      req.Amount,
		Category:    req.Category,
		Note:        req.Note,
		ReferenceID: req.ReferenceID,
		Metadata:    metadata,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction":  res.Transaction,
		"balance":      res.Card.Balance,
		"tier":         res.Tier.Tier,
		"tier_changed": res.Tier.Changed,
	})
}

func (h *Handler) GetCard(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	out, err := h.svc.GetCard(c.Request.Context(), actor.TenantID, c.Param("code"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	actor, _ := middleware.ActorFromContext(c.Request.Context())
	rows, info, err := h.svc.ListTransactions(c.Request.Context(), actor.TenantID, c.Param("code"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

func (h *Handler) VerifyCard(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c.Request.Context())
	out, err := h.svc.VerifyCard(c.Request.Context(), actor.TenantID, c.Param("code"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
