package purchase

import (
	"context"
	"strings"
	"time"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/pkg/repository"
	"smallbiznis-cashback/pkg/sequence"
	"smallbiznis-cashback/services/account"
	"smallbiznis-cashback/services/ledger"
	"smallbiznis-cashback/services/notification"
	"smallbiznis-cashback/services/rate"
	"smallbiznis-cashback/services/session"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPurchaseNotFound = errutil.NotFound("purchase not found", nil)
	ErrLinkNotFound     = errutil.NotFound("payment link not found", nil)
	ErrLinkUsed         = errutil.InvalidState("payment link already used", nil)
	ErrLinkExpired      = errutil.InvalidState("payment link expired", nil)
	ErrNotPending       = errutil.InvalidState("purchase is not pending", nil)
)

const defaultLinkTTL = 15 * time.Minute

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	seq        sequence.Generator
	ledger     *ledger.Service
	resolver   *rate.Resolver
	sessions   session.Store
	dispatcher notification.Dispatcher

	purchases repository.Repository[PurchaseTransaction]
	links     repository.Repository[PaymentLink]

	linkTTL     time.Duration
	maxAttempts int
	now         func() time.Time
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config
	Sequence   sequence.Generator
	Ledger     *ledger.Service
	Resolver   *rate.Resolver
	Sessions   session.Store
	Dispatcher notification.Dispatcher
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:         p.DB,
		node:       p.Node,
		seq:        p.Sequence,
		ledger:     p.Ledger,
		resolver:   p.Resolver,
		sessions:   p.Sessions,
		dispatcher: p.Dispatcher,

		purchases: repository.ProvideStore[PurchaseTransaction](p.DB),
		links:     repository.ProvideStore[PaymentLink](p.DB),

		linkTTL:     defaultLinkTTL,
		maxAttempts: 10,
		now:         time.Now,
	}
	if p.Config != nil {
		if p.Config.Ledger.PaymentLinkTTL > 0 {
			s.linkTTL = p.Config.Ledger.PaymentLinkTTL
		}
		if p.Config.Ledger.MaxSettlementAttempts > 0 {
			s.maxAttempts = p.Config.Ledger.MaxSettlementAttempts
		}
	}
	return s
}

type CreatePurchaseParams struct {
	TenantID      string
	StoreID       string
	CardCode      string
	ActorID       string
	ActorRole     ledger.ActorRole
	Amount        int64
	Category      string
	Kind          Kind
	PaymentMethod PaymentMethod
	ProcessorRef  string
	Note          string
}

func (p CreatePurchaseParams) validate() error {
	var details []errutil.Detail
	if p.TenantID == "" {
		details = append(details, errutil.Detail{Field: "tenant_id", Message: "required"})
	}
	if p.StoreID == "" {
		details = append(details, errutil.Detail{Field: "store_id", Message: "required"})
	}
	if p.Amount <= 0 {
		details = append(details, errutil.Detail{Field: "amount", Message: "must be positive"})
	}
	if p.Kind != KindRegular && p.Kind != KindStoreCredit {
		details = append(details, errutil.Detail{Field: "kind", Message: "must be REGULAR or STORE_CREDIT"})
	}
	if p.Kind == KindStoreCredit && p.CardCode == "" {
		details = append(details, errutil.Detail{Field: "card_code", Message: "required for store credit"})
	}
	if _, ok := ParsePaymentMethod(string(p.PaymentMethod)); !ok {
		details = append(details, errutil.Detail{Field: "payment_method", Message: "must be QR_PAYMENT, CASH or CARD"})
	}
	if len(details) > 0 {
		return errutil.BadRequest("invalid purchase", nil, errutil.WithDetails(details...))
	}
	return nil
}

// CreatePendingPurchase records a purchase whose payment is collected later.
// Cashback for regular purchases is computed now, against the rules and tier
// in force at checkout. Balances are not touched. QR purchases also get a
// single-use payment link; its token is only ever returned here.
func (s *Service) CreatePendingPurchase(ctx context.Context, p CreatePurchaseParams) (*PurchaseTransaction, *PaymentLinkToken, error) {
	if p.Kind == "" {
		p.Kind = KindRegular
	}
	if err := p.validate(); err != nil {
		return nil, nil, err
	}

	category := rate.NormalizeCategory(p.Category)
	if category == "" {
		category = rate.DefaultCategory
	}

	code, err := s.seq.NextPurchaseCode(ctx, p.TenantID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to generate purchase code", zap.String("tenant_id", p.TenantID), zap.Error(err))
		return nil, nil, errutil.Internal("failed to generate purchase code", err)
	}

	now := s.now()
	purchase := &PurchaseTransaction{
		ID:            s.node.Generate().String(),
		Code:          code,
		TenantID:      p.TenantID,
		StoreID:       p.StoreID,
		CreatedBy:     p.ActorID,
		Amount:        p.Amount,
		Category:      category,
		Kind:          p.Kind,
		PaymentMethod: p.PaymentMethod,
		Status:        StatusPending,
		Note:          strings.TrimSpace(p.Note),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.ProcessorRef != "" {
		ref := p.ProcessorRef
		purchase.ProcessorRef = &ref
	}

	var token *PaymentLinkToken
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := account.FindStore(ctx, tx, p.TenantID, p.StoreID); err != nil {
			return err
		}

		if p.CardCode != "" {
			card, customer, err := ledger.Authorize(ctx, tx, ledger.Access{
				TenantID: p.TenantID,
				CardCode: p.CardCode,
				StoreID:  p.StoreID,
				Role:     p.ActorRole,
			})
			if err != nil {
				return err
			}
			purchase.CardID = &card.ID
			purchase.CustomerID = &customer.ID

			if p.Kind == KindRegular {
				r, err := s.resolver.WithTx(tx).Resolve(ctx, p.TenantID, category, customer.Tier)
				if err != nil {
					return err
				}
				purchase.RateBps = r.TotalBps
				purchase.CashbackAmount = rate.CashbackAmount(p.Amount, r.TotalBps)
			}
		}

		if err := s.purchases.WithTrx(tx).Create(ctx, purchase); err != nil {
			return err
		}

		if p.PaymentMethod != MethodQRPayment {
			return nil
		}

		raw := uuid.NewString()
		link := &PaymentLink{
			ID:         s.node.Generate().String(),
			TenantID:   p.TenantID,
			PurchaseID: purchase.ID,
			TokenHash:  HashToken(raw),
			ExpiresAt:  now.Add(s.linkTTL),
			CreatedAt:  now,
		}
		if err := s.links.WithTrx(tx).Create(ctx, link); err != nil {
			return err
		}
		token = &PaymentLinkToken{Token: raw, Path: "/v1/pay/" + raw, ExpiresAt: link.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, nil, wrap(ctx, "create purchase", err)
	}

	logger.FromContext(ctx).Info("pending purchase created",
		zap.String("tenant_id", purchase.TenantID),
		zap.String("purchase_id", purchase.ID),
		zap.String("kind", string(purchase.Kind)),
		zap.String("payment_method", string(purchase.PaymentMethod)),
		zap.Int64("amount", purchase.Amount),
		zap.Int64("cashback", purchase.CashbackAmount),
	)
	return purchase, token, nil
}

// GetPurchase loads a purchase within a tenant.
func (s *Service) GetPurchase(ctx context.Context, tenantID, id string) (*PurchaseTransaction, error) {
	if id == "" {
		return nil, ErrPurchaseNotFound
	}
	p, err := s.purchases.FindOne(ctx, &PurchaseTransaction{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load purchase", err)
	}
	if p == nil {
		return nil, ErrPurchaseNotFound
	}
	if p.TenantID != tenantID {
		return nil, account.ErrTenantMismatch
	}
	return p, nil
}

func wrap(ctx context.Context, op string, err error) error {
	if errutil.StatusOf(err) != errutil.StatusInternal {
		return err
	}
	logger.FromContext(ctx).Error("failed to "+op, zap.Error(err))
	return errutil.Internal("failed to "+op, err)
}
