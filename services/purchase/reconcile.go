package purchase

import (
	"context"

	"smallbiznis-cashback/pkg/db/option"
	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/services/account"
	"smallbiznis-cashback/services/ledger"
	"smallbiznis-cashback/services/notification"
	"smallbiznis-cashback/services/tier"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Outcome string

var (
	OutcomeApplied          Outcome = "APPLIED"
	OutcomeAlreadyProcessed Outcome = "ALREADY_PROCESSED"
	OutcomeExpired          Outcome = "EXPIRED"
	OutcomeUnsettled        Outcome = "UNSETTLED"
)

var (
	confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashback_purchase_confirmations_total",
	}, []string{"outcome", "source"})
	settlementRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashback_purchase_settlement_retries_total",
	}, []string{"result"})
)

// ConfirmRef points at a pending purchase. Exactly one of Token, LinkID,
// PurchaseID or ProcessorRef is used, in that order of preference. TenantID,
// when set, must match the purchase.
type ConfirmRef struct {
	TenantID     string
	PurchaseID   string
	Token        string
	LinkID       string
	ProcessorRef string
	ActorID      string
	Source       string
}

type ConfirmResult struct {
	Outcome     Outcome              `json:"outcome"`
	Purchase    *PurchaseTransaction `json:"purchase,omitempty"`
	Transaction *ledger.Transaction  `json:"transaction,omitempty"`
	Tier        tier.Result          `json:"tier"`
}

// ConfirmPendingPurchase completes a pending purchase and applies its ledger
// effect exactly once. The PENDING to COMPLETED transition is a
// compare-and-set in the same database transaction as the ledger write, so
// duplicate or racing confirmations see ALREADY_PROCESSED and change nothing.
func (s *Service) ConfirmPendingPurchase(ctx context.Context, ref ConfirmRef) (*ConfirmResult, error) {
	if ref.Token == "" && ref.LinkID == "" && ref.PurchaseID == "" && ref.ProcessorRef == "" {
		return nil, errutil.BadRequest("purchase reference is required", nil)
	}
	if ref.ActorID == "" {
		ref.ActorID = string(ledger.RoleSystem)
	}

	log := logger.FromContext(ctx).With(
		zap.String("purchase_id", ref.PurchaseID),
		zap.String("processor_ref", ref.ProcessorRef),
		zap.String("source", ref.Source),
	)

	var (
		out    *ConfirmResult
		posted *ledger.Result
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		out, posted = nil, nil
		now := s.now()

		purchaseID := ref.PurchaseID
		if ref.Token != "" || ref.LinkID != "" {
			link, err := s.lockLink(ctx, tx, ref)
			if err != nil {
				return err
			}
			if ref.TenantID != "" && link.TenantID != ref.TenantID {
				return account.ErrTenantMismatch
			}

			switch {
			case link.UsedAt != nil:
				out, err = s.noop(ctx, tx, link.PurchaseID, OutcomeAlreadyProcessed)
				return err
			case link.Expired(now):
				out, err = s.noop(ctx, tx, link.PurchaseID, OutcomeExpired)
				return err
			}

			res := tx.WithContext(ctx).Model(&PaymentLink{}).
				Where("id = ? AND used_at IS NULL", link.ID).
				Update("used_at", now)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				out, err = s.noop(ctx, tx, link.PurchaseID, OutcomeAlreadyProcessed)
				return err
			}
			purchaseID = link.PurchaseID
		}

		purchase, err := s.lockPurchase(ctx, tx, purchaseID, ref.ProcessorRef)
		if err != nil {
			return err
		}
		if ref.TenantID != "" && purchase.TenantID != ref.TenantID {
			return account.ErrTenantMismatch
		}
		if purchase.Status != StatusPending {
			out = &ConfirmResult{Outcome: OutcomeAlreadyProcessed, Purchase: purchase}
			return nil
		}

		updates := map[string]any{
			"status":       StatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}
		if ref.ProcessorRef != "" && purchase.ProcessorRef == nil {
			updates["processor_ref"] = ref.ProcessorRef
		}
		res := tx.WithContext(ctx).Model(&PurchaseTransaction{}).
			Where("id = ? AND status = ?", purchase.ID, StatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			out = &ConfirmResult{Outcome: OutcomeAlreadyProcessed, Purchase: purchase}
			return nil
		}
		purchase.Status = StatusCompleted
		purchase.CompletedAt = &now
		if pr, ok := updates["processor_ref"].(string); ok {
			purchase.ProcessorRef = &pr
		}

		posted, err = s.settle(ctx, tx, purchase, ref.ActorID, ref.Source)
		if err != nil {
			return err
		}

		out = &ConfirmResult{Outcome: OutcomeApplied, Purchase: purchase}
		if purchase.Settlement == SettlementUnsettled {
			out.Outcome = OutcomeUnsettled
		}
		if posted != nil {
			out.Transaction = posted.Transaction
			out.Tier = posted.Tier
		}
		return nil
	})
	if err != nil {
		err = wrap(ctx, "confirm purchase", err)
		confirmations.WithLabelValues(string(errutil.StatusOf(err)), ref.Source).Inc()
		return nil, err
	}

	confirmations.WithLabelValues(string(out.Outcome), ref.Source).Inc()
	switch out.Outcome {
	case OutcomeApplied:
		log.Info("purchase confirmed", zap.String("settlement", string(out.Purchase.Settlement)))
		s.ledger.Notify(ctx, posted)
	case OutcomeUnsettled:
		log.Error("purchase completed without ledger effect", zap.String("reason", out.Purchase.SettlementError))
		s.alert(ctx, out.Purchase)
	default:
		log.Info("purchase confirmation ignored", zap.String("outcome", string(out.Outcome)))
	}
	return out, nil
}

// ConfirmCash is the cashier path: money was collected at the counter.
func (s *Service) ConfirmCash(ctx context.Context, tenantID, purchaseID, actorID string) (*ConfirmResult, error) {
	return s.ConfirmPendingPurchase(ctx, ConfirmRef{
		TenantID:   tenantID,
		PurchaseID: purchaseID,
		ActorID:    actorID,
		Source:     "cash",
	})
}

// ConfirmPaymentLink is the customer-facing path keyed by the link token.
func (s *Service) ConfirmPaymentLink(ctx context.Context, token string) (*ConfirmResult, error) {
	if token == "" {
		return nil, ErrLinkNotFound
	}
	return s.ConfirmPendingPurchase(ctx, ConfirmRef{Token: token, Source: "payment_link"})
}

func (s *Service) noop(ctx context.Context, tx *gorm.DB, purchaseID string, outcome Outcome) (*ConfirmResult, error) {
	p, err := s.purchases.WithTrx(tx).FindOne(ctx, &PurchaseTransaction{ID: purchaseID})
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Outcome: outcome, Purchase: p}, nil
}

func (s *Service) lockLink(ctx context.Context, tx *gorm.DB, ref ConfirmRef) (*PaymentLink, error) {
	query := &PaymentLink{ID: ref.LinkID}
	if ref.Token != "" {
		query = &PaymentLink{TokenHash: HashToken(ref.Token)}
	}
	link, err := s.links.WithTrx(tx).FindOne(ctx, query, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

func (s *Service) lockPurchase(ctx context.Context, tx *gorm.DB, id, processorRef string) (*PurchaseTransaction, error) {
	var query *PurchaseTransaction
	switch {
	case id != "":
		query = &PurchaseTransaction{ID: id}
	case processorRef != "":
		query = &PurchaseTransaction{ProcessorRef: &processorRef}
	default:
		return nil, ErrPurchaseNotFound
	}

	p, err := s.purchases.WithTrx(tx).FindOne(ctx, query, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPurchaseNotFound
	}
	return p, nil
}

// settle applies the ledger side of a completed purchase inside tx and
// records the outcome on the purchase row. A missing or foreign card does not
// fail the confirmation; the purchase is marked UNSETTLED for the sweeper.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, p *PurchaseTransaction, actorID, source string) (*ledger.Result, error) {
	if p.CardID == nil || *p.CardID == "" {
		return nil, s.markSettlement(ctx, tx, p, SettlementNotApplicable, nil, "")
	}

	card, err := account.LockCardByID(ctx, tx, *p.CardID)
	if errutil.StatusOf(err) == errutil.StatusNotFound {
		return nil, s.markSettlement(ctx, tx, p, SettlementUnsettled, nil, "linked card not found")
	}
	if err != nil {
		return nil, err
	}
	if card.TenantID != p.TenantID {
		return nil, s.markSettlement(ctx, tx, p, SettlementUnsettled, nil, "linked card belongs to another tenant")
	}

	var customer *account.Customer
	if card.HasCustomer() {
		customer, err = account.LockCustomer(ctx, tx, card.TenantID, *card.CustomerID)
		if err != nil && errutil.StatusOf(err) != errutil.StatusNotFound {
			return nil, err
		}
	}

	metadata, err := ledger.EncodeMetadata(map[string]any{
		"purchase_id":    p.ID,
		"purchase_code":  p.Code,
		"payment_method": p.PaymentMethod,
		"source":         source,
	})
	if err != nil {
		return nil, err
	}

	post := ledger.PostParams{
		Card:        card,
		Customer:    customer,
		Amount:      p.Amount,
		Category:    p.Category,
		StoreID:     p.StoreID,
		ActorID:     actorID,
		Note:        "purchase " + p.Code,
		ReferenceID: ledger.PurchaseReference(p.ID),
		Metadata:    metadata,
	}
	switch p.Kind {
	case KindStoreCredit:
		post.Type = ledger.TypeAdjust
	default:
		if customer == nil {
			return nil, s.markSettlement(ctx, tx, p, SettlementNotApplicable, nil, "")
		}
		post.Type = ledger.TypeEarn
		post.Cashback = p.CashbackAmount
		post.RateBps = p.RateBps
		post.Spend = p.Amount
		post.EvaluateTier = true
	}

	res, err := s.ledger.Post(ctx, tx, post)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		p.CustomerID = &customer.ID
	}
	if err := s.markSettlement(ctx, tx, p, SettlementSettled, &res.Transaction.ID, ""); err != nil {
		return nil, err
	}
	return res, nil
}

// markSettlement moves the settlement column with a compare-and-set on its
// current value, so two sweepers cannot settle the same purchase twice.
func (s *Service) markSettlement(ctx context.Context, tx *gorm.DB, p *PurchaseTransaction, to Settlement, transactionID *string, reason string) error {
	updates := map[string]any{
		"settlement":       to,
		"settlement_error": reason,
		"updated_at":       s.now(),
	}
	if transactionID != nil {
		updates["transaction_id"] = *transactionID
	}
	if p.CustomerID != nil {
		updates["customer_id"] = *p.CustomerID
	}
	if to == SettlementUnsettled {
		updates["settlement_attempts"] = gorm.Expr("settlement_attempts + 1")
	}

	res := tx.WithContext(ctx).Model(&PurchaseTransaction{}).
		Where("id = ? AND settlement = ?", p.ID, p.Settlement).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("purchase settlement changed concurrently", nil)
	}

	p.Settlement = to
	p.SettlementError = reason
	p.TransactionID = transactionID
	if to == SettlementUnsettled {
		p.SettlementAttempts++
	}
	return nil
}

func (s *Service) alert(ctx context.Context, p *PurchaseTransaction) {
	e := notification.Event{
		Kind:       notification.KindPurchaseUnsettled,
		TenantID:   p.TenantID,
		PurchaseID: p.ID,
		Amount:     p.Amount,
		Cashback:   p.CashbackAmount,
		Reason:     p.SettlementError,
		OccurredAt: s.now(),
	}
	if p.CardID != nil {
		e.CardID = *p.CardID
	}
	if p.CustomerID != nil {
		e.CustomerID = *p.CustomerID
	}
	notification.Send(ctx, s.dispatcher, e)
}
