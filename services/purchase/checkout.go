package purchase

import (
	"context"
	"time"

	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/services/session"

	"go.uber.org/zap"
)

// Checkout is what a customer sees after opening a payment link.
type Checkout struct {
	SessionID string               `json:"session_id"`
	Purchase  *PurchaseTransaction `json:"purchase"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// OpenPaymentLink validates a link token and starts a checkout session that
// lives no longer than the link itself.
func (s *Service) OpenPaymentLink(ctx context.Context, token string) (*Checkout, error) {
	if token == "" {
		return nil, ErrLinkNotFound
	}

	link, err := s.links.FindOne(ctx, &PaymentLink{TokenHash: HashToken(token)})
	if err != nil {
		return nil, errutil.Internal("failed to load payment link", err)
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}

	now := s.now()
	if link.UsedAt != nil {
		return nil, ErrLinkUsed
	}
	if link.Expired(now) {
		return nil, ErrLinkExpired
	}

	purchase, err := s.purchases.FindOne(ctx, &PurchaseTransaction{ID: link.PurchaseID})
	if err != nil {
		return nil, errutil.Internal("failed to load purchase", err)
	}
	if purchase == nil {
		return nil, ErrPurchaseNotFound
	}
	if purchase.Status != StatusPending {
		return nil, ErrNotPending
	}

	sess := &session.Session{
		TenantID:   link.TenantID,
		PurchaseID: purchase.ID,
		LinkID:     link.ID,
	}
	if err := s.sessions.Create(ctx, sess, link.ExpiresAt.Sub(now)); err != nil {
		logger.FromContext(ctx).Error("failed to create checkout session", zap.String("purchase_id", purchase.ID), zap.Error(err))
		return nil, wrap(ctx, "create checkout session", err)
	}

	return &Checkout{
		SessionID: sess.ID,
		Purchase:  purchase,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// ConfirmCheckoutSession confirms the purchase behind an open session. The
// session is dropped once the confirmation has been decided either way.
func (s *Service) ConfirmCheckoutSession(ctx context.Context, sessionID string) (*ConfirmResult, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, wrap(ctx, "load checkout session", err)
	}

	res, err := s.ConfirmPendingPurchase(ctx, ConfirmRef{
		TenantID: sess.TenantID,
		LinkID:   sess.LinkID,
		Source:   "checkout",
	})
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		logger.FromContext(ctx).Warn("failed to delete checkout session", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return res, nil
}
