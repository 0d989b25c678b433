package account

import (
	"context"
	"strings"
	"time"

	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/pkg/repository"
	"smallbiznis-cashback/pkg/sequence"
	"smallbiznis-cashback/services/rate"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrCardNotFound     = errutil.NotFound("card not found", nil)
	ErrCustomerNotFound = errutil.NotFound("customer not found", nil)
	ErrStoreNotFound    = errutil.NotFound("store not found", nil)
	ErrTenantMismatch   = errutil.Unauthorized("card belongs to another tenant", nil)
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	cards     repository.Repository[Card]
	customers repository.Repository[Customer]
	stores    repository.Repository[Store]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Sequence sequence.Generator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Sequence,

		cards:     repository.ProvideStore[Card](p.DB),
		customers: repository.ProvideStore[Customer](p.DB),
		stores:    repository.ProvideStore[Store](p.DB),
	}
}

type CreateCustomerParams struct {
	TenantID string
	Name     string
	Email    string
	Phone    string
	Tier     string
}

func (s *Service) CreateStore(ctx context.Context, tenantID, name string) (*Store, error) {
	if tenantID == "" || strings.TrimSpace(name) == "" {
		return nil, errutil.BadRequest("tenant and store name are required", nil)
	}

	store := &Store{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		Name:      strings.TrimSpace(name),
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := s.stores.Create(ctx, store); err != nil {
		logger.FromContext(ctx).Error("failed to create store", zap.Error(err))
		return nil, errutil.Internal("failed to create store", err)
	}
	return store, nil
}

func (s *Service) CreateCustomer(ctx context.Context, p CreateCustomerParams) (*Customer, error) {
	if p.TenantID == "" || strings.TrimSpace(p.Name) == "" {
		return nil, errutil.BadRequest("tenant and customer name are required", nil)
	}

	tier := rate.NormalizeTier(p.Tier)
	if tier == "" {
		tier = rate.DefaultTier
	}

	now := time.Now()
	customer := &Customer{
		ID:        s.node.Generate().String(),
		TenantID:  p.TenantID,
		Name:      strings.TrimSpace(p.Name),
		Email:     strings.ToLower(strings.TrimSpace(p.Email)),
		Phone:     strings.TrimSpace(p.Phone),
		Tier:      tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.customers.Create(ctx, customer); err != nil {
		logger.FromContext(ctx).Error("failed to create customer", zap.Error(err))
		return nil, errutil.Internal("failed to create customer", err)
	}
	return customer, nil
}

// IssueCard creates an unassigned card with a fresh code.
func (s *Service) IssueCard(ctx context.Context, tenantID string) (*Card, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("tenant is required", nil)
	}

	code, err := s.seq.NextCardCode(ctx, tenantID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to generate card code", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, errutil.Internal("failed to generate card code", err)
	}

	now := time.Now()
	card := &Card{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		Code:      code,
		Status:    CardUnassigned,
		LastHash:  GenesisHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.cards.Create(ctx, card); err != nil {
		logger.FromContext(ctx).Error("failed to create card", zap.Error(err))
		return nil, errutil.Internal("failed to create card", err)
	}
	return card, nil
}

// GetCard loads a card by code and checks it belongs to tenantID.
func (s *Service) GetCard(ctx context.Context, tenantID, code string) (*Card, error) {
	if code == "" {
		return nil, ErrCardNotFound
	}
	card, err := s.cards.FindOne(ctx, &Card{Code: code})
	if err != nil {
		return nil, errutil.Internal("failed to load card", err)
	}
	if card == nil {
		return nil, ErrCardNotFound
	}
	if card.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}
	return card, nil
}

// ActivateCard binds an unassigned card to a customer and a store.
func (s *Service) ActivateCard(ctx context.Context, tenantID, code, customerID, storeID string) (*Card, error) {
	if customerID == "" || storeID == "" {
		return nil, errutil.BadRequest("customer and store are required to activate a card", nil)
	}

	var out *Card
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.lockCard(ctx, tx, tenantID, code)
		if err != nil {
			return err
		}
		if card.Status != CardUnassigned {
			return errutil.InvalidState("card is already assigned", nil)
		}

		customer, err := s.customers.WithTrx(tx).FindOne(ctx, &Customer{ID: customerID, TenantID: tenantID})
		if err != nil {
			return err
		}
		if customer == nil {
			return ErrCustomerNotFound
		}

		store, err := s.stores.WithTrx(tx).FindOne(ctx, &Store{ID: storeID, TenantID: tenantID})
		if err != nil {
			return err
		}
		if store == nil {
			return ErrStoreNotFound
		}

		updates := map[string]any{
			"customer_id": customer.ID,
			"store_id":    store.ID,
			"status":      CardActive,
			"updated_at":  time.Now(),
		}
		if err := s.cards.WithTrx(tx).Update(ctx, card.ID, updates); err != nil {
			return err
		}

		card.CustomerID = &customer.ID
		card.StoreID = &store.ID
		card.Status = CardActive
		out = card
		return nil
	})
	if err != nil {
		return nil, wrap(ctx, "activate card", err)
	}
	return out, nil
}

func (s *Service) BlockCard(ctx context.Context, tenantID, code string) (*Card, error) {
	return s.transition(ctx, tenantID, code, CardActive, CardBlocked)
}

func (s *Service) UnblockCard(ctx context.Context, tenantID, code string) (*Card, error) {
	return s.transition(ctx, tenantID, code, CardBlocked, CardActive)
}

func (s *Service) transition(ctx context.Context, tenantID, code string, from, to CardStatus) (*Card, error) {
	var out *Card
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.lockCard(ctx, tx, tenantID, code)
		if err != nil {
			return err
		}
		if card.Status != from {
			return errutil.InvalidState("card must be "+from.String()+" to become "+to.String(), nil)
		}
		if err := s.cards.WithTrx(tx).Update(ctx, card.ID, map[string]any{
			"status":     to,
			"updated_at": time.Now(),
		}); err != nil {
			return err
		}
		card.Status = to
		out = card
		return nil
	})
	if err != nil {
		return nil, wrap(ctx, "change card status", err)
	}
	return out, nil
}

func (s *Service) lockCard(ctx context.Context, tx *gorm.DB, tenantID, code string) (*Card, error) {
	card, err := LockCardByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if card.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}
	return card, nil
}

func wrap(ctx context.Context, op string, err error) error {
	if errutil.StatusOf(err) != errutil.StatusInternal {
		return err
	}
	logger.FromContext(ctx).Error("failed to "+op, zap.Error(err))
	return errutil.Internal("failed to "+op, err)
}
