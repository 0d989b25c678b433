package purchase

import (
	"encoding/json"
	"io"
	"net/http"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = 65536

// WebhookHandler turns Stripe payment events into purchase confirmations.
type WebhookHandler struct {
	svc    *Service
	secret string
}

func NewWebhookHandler(svc *Service, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{svc: svc, secret: cfg.Stripe.WebhookSecret}
}

// refFromEvent extracts the purchase reference from supported event types.
// ok is false for events this service does not act on.
func refFromEvent(event stripe.Event) (ref ConfirmRef, ok bool, err error) {
	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return ref, false, err
		}
		ref.PurchaseID = cs.Metadata["purchase_id"]
		if ref.PurchaseID == "" {
			ref.PurchaseID = cs.ClientReferenceID
		}
		ref.ProcessorRef = cs.ID
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return ref, false, err
		}
		ref.PurchaseID = pi.Metadata["purchase_id"]
		ref.ProcessorRef = pi.ID
	default:
		return ref, false, nil
	}

	ref.ActorID = "stripe"
	ref.Source = string(event.Type)
	return ref, true, nil
}

// HandleStripe acknowledges every verified event it can make sense of, so
// Stripe only retries on storage failures.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		_ = c.Error(errutil.BadRequest("failed to read body", err))
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warn("rejected stripe webhook", zap.Error(err))
		_ = c.Error(errutil.BadRequest("invalid signature", err))
		return
	}

	ref, ok, err := refFromEvent(event)
	if err != nil {
		log.Error("failed to decode stripe event", zap.String("event_id", event.ID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	res, err := h.svc.ConfirmPendingPurchase(ctx, ref)
	switch errutil.StatusOf(err) {
	case "":
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
	case errutil.StatusInternal, errutil.StatusConflict:
		_ = c.Error(err)
	default:
		log.Warn("stripe event did not match a purchase",
			zap.String("event_id", event.ID),
			zap.String("purchase_id", ref.PurchaseID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
