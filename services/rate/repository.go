package rate

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository describes database operations available for rate tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActiveCashbackRules(ctx context.Context, tenantID string) ([]CashbackRule, error)
	ListActiveTierRules(ctx context.Context, tenantID string) ([]TierRule, error)
	ListActiveOffers(ctx context.Context, tenantID string) ([]Offer, error)
	UpsertCashbackRule(ctx context.Context, rule *CashbackRule) error
	UpsertTierRule(ctx context.Context, rule *TierRule) error
	CreateOffer(ctx context.Context, offer *Offer) error
	CountRules(ctx context.Context, tenantID string) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) ListActiveCashbackRules(ctx context.Context, tenantID string) ([]CashbackRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rules []CashbackRule
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("category ASC").
		Find(&rules).Error
	return rules, err
}

// ListActiveTierRules returns rules sorted by threshold, highest first.
func (r *gormRepository) ListActiveTierRules(ctx context.Context, tenantID string) ([]TierRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rules []TierRule
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("min_spend DESC").Order("tier ASC").
		Find(&rules).Error
	return rules, err
}

func (r *gormRepository) ListActiveOffers(ctx context.Context, tenantID string) ([]Offer, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var offers []Offer
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("id ASC").
		Find(&offers).Error
	return offers, err
}

func (r *gormRepository) UpsertCashbackRule(ctx context.Context, rule *CashbackRule) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate_bps", "active", "updated_at"}),
	}).Create(rule).Error; err != nil {
		return err
	}

	// the stored row keeps its original id on conflict
	var stored CashbackRule
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND category = ?", rule.TenantID, rule.Category).
		Take(&stored).Error; err != nil {
		return err
	}
	*rule = stored
	return nil
}

func (r *gormRepository) UpsertTierRule(ctx context.Context, rule *TierRule) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "tier"}},
		DoUpdates: clause.AssignmentColumns([]string{"min_spend", "bonus_bps", "active", "updated_at"}),
	}).Create(rule).Error; err != nil {
		return err
	}

	var stored TierRule
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND tier = ?", rule.TenantID, rule.Tier).
		Take(&stored).Error; err != nil {
		return err
	}
	*rule = stored
	return nil
}

func (r *gormRepository) CreateOffer(ctx context.Context, offer *Offer) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(offer).Error
}

func (r *gormRepository) CountRules(ctx context.Context, tenantID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var cashback, tiers int64
	if err := r.db.WithContext(ctx).Model(&CashbackRule{}).Where("tenant_id = ?", tenantID).Count(&cashback).Error; err != nil {
		return 0, err
	}
	if err := r.db.WithContext(ctx).Model(&TierRule{}).Where("tenant_id = ?", tenantID).Count(&tiers).Error; err != nil {
		return 0, err
	}
	return cashback + tiers, nil
}
