package rate

import (
	"context"
	"time"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolver computes cashback rates from a tenant's rule tables. It has no
// side effects; for a fixed clock and rule state the result is fixed.
type Resolver struct {
	repo  Repository
	cache *RuleCache
	now   func() time.Time
}

type ResolverParams struct {
	fx.In
	Repository Repository
	Cache      *RuleCache
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		repo:  p.Repository,
		cache: p.Cache,
		now:   time.Now,
	}
}

func ProvideRuleCache(cfg *config.Config) *RuleCache {
	return NewRuleCache(cfg.Ledger.RuleCacheTTL)
}

// WithTx returns a resolver whose cache misses read through tx.
func (r *Resolver) WithTx(tx *gorm.DB) *Resolver {
	c := *r
	c.repo = r.repo.WithTx(tx)
	return &c
}

// RuleSet returns the tenant's active rule tables.
func (r *Resolver) RuleSet(ctx context.Context, tenantID string) (*RuleSet, error) {
	return r.cache.Load(ctx, tenantID, func(ctx context.Context) (*RuleSet, error) {
		return loadRuleSet(ctx, r.repo, tenantID)
	})
}

// Resolve returns base + tier bonus + every offer active now. Offers stack
// additively.
func (r *Resolver) Resolve(ctx context.Context, tenantID, category, tier string) (Rate, error) {
	rs, err := r.RuleSet(ctx, tenantID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to load rate tables", zap.String("tenant_id", tenantID), zap.Error(err))
		return Rate{}, err
	}
	return rs.resolve(NormalizeCategory(category), NormalizeTier(tier), r.now()), nil
}

func (rs *RuleSet) resolve(category, tier string, now time.Time) Rate {
	var out Rate

	if rule, ok := rs.Cashback[category]; ok {
		out.BaseBps = rule.RateBps
		out.HasBaseRule = true
	}

	out.TierBonusBps = rs.TierBonus(tier)

	for _, o := range rs.Offers {
		if !o.ActiveAt(now) {
			continue
		}
		if o.program != nil {
			matched, err := evalCondition(o.program, category, tier)
			if err != nil {
				zap.L().Warn("offer condition failed", zap.String("offer_id", o.ID), zap.Error(err))
				continue
			}
			if !matched {
				continue
			}
		}
		out.OfferBps += o.RateMultiplierBps
		out.OfferIDs = append(out.OfferIDs, o.ID)
	}

	out.TotalBps = out.BaseBps + out.TierBonusBps + out.OfferBps
	return out
}
