package rate

import (
	"context"
	"strings"
	"time"

	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/logger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is the configuration boundary for rate tables. Every write is
// validated here so the resolver can trust what it reads.
type Service struct {
	repo  Repository
	cache *RuleCache
	node  *snowflake.Node
}

type ServiceParams struct {
	fx.In
	Repository Repository
	Cache      *RuleCache
	Node       *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:  p.Repository,
		cache: p.Cache,
		node:  p.Node,
	}
}

func (s *Service) UpsertCashbackRule(ctx context.Context, tenantID, category string, rateBps int64, active bool) (*CashbackRule, error) {
	category = NormalizeCategory(category)
	if tenantID == "" || category == "" {
		return nil, errutil.BadRequest("tenant and category are required", nil)
	}
	if !validBps(rateBps) {
		return nil, errutil.ValidationFailed("rate must be between 0 and 10000 bps", nil,
			errutil.WithDetails(errutil.Detail{Field: "rate_bps", Message: "out of range"}))
	}

	now := time.Now()
	rule := &CashbackRule{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		Category:  category,
		RateBps:   rateBps,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.UpsertCashbackRule(ctx, rule); err != nil {
		logger.FromContext(ctx).Error("failed to upsert cashback rule", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, errutil.Internal("failed to save cashback rule", err)
	}

	s.cache.Invalidate(tenantID)
	return rule, nil
}

func (s *Service) UpsertTierRule(ctx context.Context, tenantID, tier string, minSpend, bonusBps int64, active bool) (*TierRule, error) {
	tier = NormalizeTier(tier)
	if tenantID == "" || tier == "" {
		return nil, errutil.BadRequest("tenant and tier are required", nil)
	}
	if minSpend < 0 {
		return nil, errutil.ValidationFailed("min spend must not be negative", nil,
			errutil.WithDetails(errutil.Detail{Field: "min_spend", Message: "negative"}))
	}
	if !validBps(bonusBps) {
		return nil, errutil.ValidationFailed("bonus must be between 0 and 10000 bps", nil,
			errutil.WithDetails(errutil.Detail{Field: "bonus_bps", Message: "out of range"}))
	}

	now := time.Now()
	rule := &TierRule{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		Tier:      tier,
		MinSpend:  minSpend,
		BonusBps:  bonusBps,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.UpsertTierRule(ctx, rule); err != nil {
		logger.FromContext(ctx).Error("failed to upsert tier rule", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, errutil.Internal("failed to save tier rule", err)
	}

	s.cache.Invalidate(tenantID)
	return rule, nil
}

type CreateOfferParams struct {
	TenantID          string
	Name              string
	RateMultiplierBps int64
	StartsAt          time.Time
	EndsAt            time.Time
	Condition         string
}

func (s *Service) CreateOffer(ctx context.Context, p CreateOfferParams) (*Offer, error) {
	if p.TenantID == "" || strings.TrimSpace(p.Name) == "" {
		return nil, errutil.BadRequest("tenant and offer name are required", nil)
	}
	if !validBps(p.RateMultiplierBps) {
		return nil, errutil.ValidationFailed("offer rate must be between 0 and 10000 bps", nil,
			errutil.WithDetails(errutil.Detail{Field: "rate_multiplier_bps", Message: "out of range"}))
	}
	if p.EndsAt.Before(p.StartsAt) {
		return nil, errutil.ValidationFailed("offer ends before it starts", nil,
			errutil.WithDetails(errutil.Detail{Field: "ends_at", Message: "before starts_at"}))
	}
	if p.Condition != "" {
		if _, err := CompileCondition(p.Condition); err != nil {
			return nil, errutil.ValidationFailed("invalid offer condition", err,
				errutil.WithDetails(errutil.Detail{Field: "condition", Message: err.Error()}))
		}
	}

	now := time.Now()
	offer := &Offer{
		ID:                s.node.Generate().String(),
		TenantID:          p.TenantID,
		Name:              strings.TrimSpace(p.Name),
		RateMultiplierBps: p.RateMultiplierBps,
		Active:            true,
		StartsAt:          p.StartsAt,
		EndsAt:            p.EndsAt,
		Condition:         p.Condition,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateOffer(ctx, offer); err != nil {
		logger.FromContext(ctx).Error("failed to create offer", zap.String("tenant_id", p.TenantID), zap.Error(err))
		return nil, errutil.Internal("failed to save offer", err)
	}

	s.cache.Invalidate(p.TenantID)
	return offer, nil
}

type defaultTier struct {
	tier     string
	minSpend int64
	bonusBps int64
}

var (
	defaultCategoryBps = int64(300)
	defaultTiers       = []defaultTier{
		{tier: "SILVER", minSpend: 0, bonusBps: 0},
		{tier: "GOLD", minSpend: 10000, bonusBps: 100},
		{tier: "PLATINUM", minSpend: 50000, bonusBps: 200},
	}
)

// DefaultTier is the entry tier seeded by InitializeDefaults.
const DefaultTier = "SILVER"

// DefaultCategory is used when a purchase carries no category.
const DefaultCategory = "PURCHASE"

// InitializeDefaults seeds a tenant that has no rules yet. Tenants with any
// rule are left untouched.
func (s *Service) InitializeDefaults(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return errutil.BadRequest("tenant is required", nil)
	}

	n, err := s.repo.CountRules(ctx, tenantID)
	if err != nil {
		return errutil.Internal("failed to count rules", err)
	}
	if n > 0 {
		logger.FromContext(ctx).Info("tenant already has rate rules, skipping defaults", zap.String("tenant_id", tenantID))
		return nil
	}

	if _, err := s.UpsertCashbackRule(ctx, tenantID, DefaultCategory, defaultCategoryBps, true); err != nil {
		return err
	}
	for _, t := range defaultTiers {
		if _, err := s.UpsertTierRule(ctx, tenantID, t.tier, t.minSpend, t.bonusBps, true); err != nil {
			return err
		}
	}

	logger.FromContext(ctx).Info("seeded default rate rules", zap.String("tenant_id", tenantID))
	return nil
}
