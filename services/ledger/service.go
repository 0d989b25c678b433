package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/pkg/repository"
	"smallbiznis-cashback/services/account"
	"smallbiznis-cashback/services/notification"
	"smallbiznis-cashback/services/rate"
	"smallbiznis-cashback/services/tier"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	health "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrCardNotActive     = errutil.InvalidState("card is not active", nil)
	ErrCardNoCustomer    = errutil.InvalidState("card has no linked customer, activate the card first", nil)
	ErrInsufficientFunds = errutil.InsufficientFunds("insufficient balance", nil)
	ErrConcurrentUpdate  = errutil.Conflict("card was modified concurrently, retry", nil)
	ErrDuplicateRef      = errutil.Conflict("reference already recorded", nil)
)

var (
	appliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashback_ledger_transactions_total",
	}, []string{"type"})
	cashbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashback_ledger_cashback_minor_total",
	})
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashback_ledger_rejections_total",
	}, []string{"status"})
)

type Service struct {
	health.UnimplementedHealthServer

	db         *gorm.DB
	node       *snowflake.Node
	resolver   *rate.Resolver
	evaluator  *tier.Evaluator
	dispatcher notification.Dispatcher

	transactions repository.Repository[Transaction]
	cards        repository.Repository[account.Card]
	customers    repository.Repository[account.Customer]

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Resolver   *rate.Resolver
	Evaluator  *tier.Evaluator
	Dispatcher notification.Dispatcher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		resolver:   p.Resolver,
		evaluator:  p.Evaluator,
		dispatcher: p.Dispatcher,

		transactions: repository.ProvideStore[Transaction](p.DB),
		cards:        repository.ProvideStore[account.Card](p.DB),
		customers:    repository.ProvideStore[account.Customer](p.DB),

		now: time.Now,
	}
}

type ApplyParams struct {
	TenantID  string
	CardCode  string
	StoreID   string
	ActorID   string
	ActorRole ActorRole
	Type      TransactionType
	Amount    int64
	Category  string
	Note      string
	// ReferenceID is an optional caller idempotency key, unique per tenant.
	ReferenceID string
	Metadata    map[string]any
}

func (p ApplyParams) validate() error {
	var details []errutil.Detail
	if p.TenantID == "" {
		details = append(details, errutil.Detail{Field: "tenant_id", Message: "required"})
	}
	if p.CardCode == "" {
		details = append(details, errutil.Detail{Field: "card_code", Message: "required"})
	}
	switch p.Type {
	case TypeEarn, TypeRedeem:
		if p.Amount <= 0 {
			details = append(details, errutil.Detail{Field: "amount", Message: "must be positive"})
		}
	case TypeAdjust:
		if p.Amount == 0 {
			details = append(details, errutil.Detail{Field: "amount", Message: "must not be zero"})
		}
	default:
		details = append(details, errutil.Detail{Field: "type", Message: "must be EARN, REDEEM or ADJUST"})
	}
	if reservedReference(p.ReferenceID) {
		details = append(details, errutil.Detail{Field: "reference_id", Message: "prefix " + purchaseRefPrefix + " is reserved"})
	}
	if len(details) > 0 {
		return errutil.BadRequest("invalid transaction", nil, errutil.WithDetails(details...))
	}
	return nil
}

type Result struct {
	Transaction *Transaction
	Card        *account.Card
	Customer    *account.Customer
	Tier        tier.Result
}

// Access identifies who is touching a card and from where.
type Access struct {
	TenantID string
	CardCode string
	StoreID  string
	Role     ActorRole
}

// Authorize locks the card and its customer inside tx and enforces the card
// preconditions shared by every balance-changing path: existence, tenant,
// ACTIVE status, linked customer and store binding.
func Authorize(ctx context.Context, tx *gorm.DB, a Access) (*account.Card, *account.Customer, error) {
	card, err := account.LockCardByCode(ctx, tx, a.CardCode)
	if err != nil {
		return nil, nil, err
	}
	if card.TenantID != a.TenantID {
		return nil, nil, account.ErrTenantMismatch
	}
	if card.Status != account.CardActive {
		return nil, nil, ErrCardNotActive
	}
	if !card.HasCustomer() {
		return nil, nil, ErrCardNoCustomer
	}

	if bound := card.BoundStore(); bound != "" && bound != a.StoreID && !a.Role.CanOverrideStoreBinding() {
		name := bound
		if store, err := account.FindStore(ctx, tx, card.TenantID, bound); err == nil {
			name = store.Name
		}
		return nil, nil, errutil.PolicyViolation("card is bound to store "+name+" and cannot be used at another store", nil,
			errutil.WithDetails(errutil.Detail{Field: "store_id", Message: bound}))
	}
	if a.StoreID != "" {
		if _, err := account.FindStore(ctx, tx, card.TenantID, a.StoreID); err != nil {
			return nil, nil, err
		}
	}

	customer, err := account.LockCustomer(ctx, tx, card.TenantID, *card.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	return card, customer, nil
}

// ApplyTransaction runs one EARN, REDEEM or ADJUST against a card. Balance,
// spend, the transaction row and the tier change commit together.
func (s *Service) ApplyTransaction(ctx context.Context, p ApplyParams) (*Result, error) {
	log := logger.FromContext(ctx).With(
		zap.String("tenant_id", p.TenantID),
		zap.String("card_code", p.CardCode),
		zap.String("type", p.Type.String()),
	)

	if err := p.validate(); err != nil {
		rejectedTotal.WithLabelValues(string(errutil.StatusOf(err))).Inc()
		return nil, err
	}

	metadata, err := EncodeMetadata(p.Metadata)
	if err != nil {
		return nil, errutil.BadRequest("invalid metadata", err)
	}

	var out *Result
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, customer, err := Authorize(ctx, tx, Access{
			TenantID: p.TenantID,
			CardCode: p.CardCode,
			StoreID:  p.StoreID,
			Role:     p.ActorRole,
		})
		if err != nil {
			return err
		}

		if p.ReferenceID != "" {
			exist, err := s.transactions.WithTrx(tx).FindOne(ctx, &Transaction{TenantID: p.TenantID, ReferenceID: &p.ReferenceID})
			if err != nil {
				return err
			}
			if exist != nil {
				return ErrDuplicateRef
			}
		}

		storeID := p.StoreID
		if storeID == "" {
			storeID = card.BoundStore()
		}

		post := PostParams{
			Card:         card,
			Customer:     customer,
			Type:         p.Type,
			Amount:       p.Amount,
			Category:     p.Category,
			StoreID:      storeID,
			ActorID:      p.ActorID,
			Note:         p.Note,
			ReferenceID:  p.ReferenceID,
			Metadata:     metadata,
			EvaluateTier: true,
		}

		if p.Type == TypeEarn {
			category := rate.NormalizeCategory(p.Category)
			if category == "" {
				category = rate.DefaultCategory
			}
			r, err := s.resolver.WithTx(tx).Resolve(ctx, p.TenantID, category, customer.Tier)
			if err != nil {
				return err
			}
			post.Category = category
			post.RateBps = r.TotalBps
			post.Cashback = rate.CashbackAmount(p.Amount, r.TotalBps)
			post.Spend = p.Amount
		}

		out, err = s.Post(ctx, tx, post)
		return err
	})
	if err != nil {
		rejectedTotal.WithLabelValues(string(errutil.StatusOf(err))).Inc()
		if errutil.StatusOf(err) == errutil.StatusInternal {
			log.Error("failed to apply transaction", zap.Error(err))
			return nil, errutil.Internal("failed to apply transaction", err)
		}
		log.Info("transaction rejected", zap.Error(err))
		return nil, err
	}

	log.Info("transaction applied",
		zap.String("transaction_id", out.Transaction.ID),
		zap.Int64("amount", out.Transaction.Amount),
		zap.Int64("cashback", out.Transaction.CashbackAmount),
		zap.Int64("balance", out.Card.Balance),
	)
	s.Notify(ctx, out)
	return out, nil
}

// purchaseRefPrefix namespaces the reference of rows posted for a settled
// purchase. Caller keys may not use it.
const purchaseRefPrefix = "purchase:"

// PurchaseReference is the reference_id of the ledger row settling a purchase.
func PurchaseReference(purchaseID string) string {
	return purchaseRefPrefix + purchaseID
}

// mysql compares with a case-insensitive collation.
func reservedReference(ref string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ref)), purchaseRefPrefix)
}

// PostParams describes one ledger row to append for a card that the caller
// has already locked.
type PostParams struct {
	Card     *account.Card
	Customer *account.Customer
	Type     TransactionType
	Amount   int64
	Cashback int64
	RateBps  int64
	Category string
	StoreID  string
	ActorID  string
	Note     string
	// ReferenceID links the row to its origin, e.g. a purchase id.
	ReferenceID string
	Metadata    datatypes.JSON
	// Spend is added to the customer's lifetime spend.
	Spend        int64
	EvaluateTier bool
}

// Post applies a ledger effect inside tx: it moves the balance with a version
// compare-and-set, grows spend, appends the hash-chained row and re-tiers.
// The caller owns the transaction and must hold the card and customer locks.
func (s *Service) Post(ctx context.Context, tx *gorm.DB, p PostParams) (*Result, error) {
	card := p.Card
	row := &Transaction{
		ID:             s.node.Generate().String(),
		TenantID:       card.TenantID,
		StoreID:        p.StoreID,
		CardID:         card.ID,
		ActorID:        p.ActorID,
		Type:           p.Type,
		Category:       p.Category,
		Amount:         p.Amount,
		CashbackAmount: p.Cashback,
		RateBps:        p.RateBps,
		BalanceBefore:  card.Balance,
		Sequence:       card.Version + 1,
		Note:           strings.TrimSpace(p.Note),
		Metadata:       p.Metadata,
		PreviousHash:   card.LastHash,
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
	}
	if row.PreviousHash == "" {
		row.PreviousHash = account.GenesisHash
	}
	if p.ReferenceID != "" {
		ref := p.ReferenceID
		row.ReferenceID = &ref
	}
	if p.Customer != nil {
		row.CustomerID = p.Customer.ID
	}
	if p.Type == TypeEarn || p.Type == TypeRedeem {
		if p.Customer == nil {
			return nil, ErrCardNoCustomer
		}
	}

	row.BalanceAfter = row.BalanceBefore + row.Effect()
	if row.BalanceAfter < 0 {
		return nil, ErrInsufficientFunds
	}

	code, err := GenerateTransactionCode(row.CreatedAt)
	if err != nil {
		return nil, err
	}
	row.Code = code
	row.Hash = row.GenerateHash()

	res := tx.WithContext(ctx).Model(&account.Card{}).
		Where("id = ? AND version = ?", card.ID, card.Version).
		Updates(map[string]any{
			"balance":    row.BalanceAfter,
			"version":    row.Sequence,
			"last_hash":  row.Hash,
			"updated_at": row.CreatedAt,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConcurrentUpdate
	}

	if p.Spend > 0 && p.Customer != nil {
		total := p.Customer.TotalSpend + p.Spend
		if err := tx.WithContext(ctx).Model(&account.Customer{}).
			Where("id = ?", p.Customer.ID).
			Updates(map[string]any{"total_spend": total, "updated_at": row.CreatedAt}).Error; err != nil {
			return nil, err
		}
		p.Customer.TotalSpend = total
	}

	if err := s.transactions.WithTrx(tx).Create(ctx, row); err != nil {
		if row.ReferenceID != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateRef
		}
		return nil, err
	}

	result := &Result{Transaction: row, Card: card, Customer: p.Customer}
	if p.Customer != nil {
		result.Tier = tier.Result{Tier: p.Customer.Tier, Previous: p.Customer.Tier}
	}
	if p.EvaluateTier && p.Customer != nil {
		tr, err := s.evaluator.Evaluate(ctx, tx, p.Customer)
		if err != nil {
			return nil, err
		}
		result.Tier = tr
	}

	card.Balance = row.BalanceAfter
	card.Version = row.Sequence
	card.LastHash = row.Hash
	card.UpdatedAt = row.CreatedAt

	appliedTotal.WithLabelValues(row.Type.String()).Inc()
	if row.CashbackAmount > 0 {
		cashbackTotal.Add(float64(row.CashbackAmount))
	}
	return result, nil
}

// Notify dispatches the events for a committed result. It never fails.
func (s *Service) Notify(ctx context.Context, res *Result) {
	if res == nil || res.Transaction == nil {
		return
	}
	row := res.Transaction
	event := notification.Event{
		TenantID:      row.TenantID,
		CustomerID:    row.CustomerID,
		CardID:        row.CardID,
		TransactionID: row.ID,
		Amount:        row.Amount,
		Cashback:      row.CashbackAmount,
		Balance:       row.BalanceAfter,
		Tier:          res.Tier.Tier,
		OccurredAt:    row.CreatedAt,
	}
	switch row.Type {
	case TypeEarn:
		event.Kind = notification.KindCashbackEarned
	case TypeRedeem:
		event.Kind = notification.KindCashbackRedeemed
	default:
		event.Kind = notification.KindBalanceAdjusted
	}

	events := []notification.Event{event}
	if res.Tier.Changed {
		changed := event
		changed.Kind = notification.KindTierChanged
		changed.PreviousTier = res.Tier.Previous
		events = append(events, changed)
	}
	notification.Send(ctx, s.dispatcher, events...)
}

// EncodeMetadata serializes free-form origin data for the metadata column.
func EncodeMetadata(m map[string]any) (datatypes.JSON, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
