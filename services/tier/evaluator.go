package tier

import (
	"context"
	"time"

	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/services/account"
	"smallbiznis-cashback/services/rate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tierChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cashback_tier_changes_total",
}, []string{"tier"})

type Result struct {
	Tier     string
	Previous string
	Changed  bool
}

// Qualify walks rules from the highest threshold down and returns the first
// tier whose threshold spend reaches. When none does, the lowest defined tier
// is returned. ok is false when rules is empty. rules must be sorted by
// MinSpend descending.
func Qualify(rules []rate.TierRule, spend int64) (tier string, ok bool) {
	if len(rules) == 0 {
		return "", false
	}
	for _, r := range rules {
		if r.MinSpend <= spend {
			return r.Tier, true
		}
	}
	return rules[len(rules)-1].Tier, true
}

type Evaluator struct {
	resolver *rate.Resolver
}

type Params struct {
	fx.In
	Resolver *rate.Resolver
}

func NewEvaluator(p Params) *Evaluator {
	return &Evaluator{resolver: p.Resolver}
}

// Evaluate recomputes the customer's tier from TotalSpend and, when it
// differs, writes it through tx. Upgrades and downgrades are treated alike.
// Tenants without tier rules keep whatever tier is stored.
func (e *Evaluator) Evaluate(ctx context.Context, tx *gorm.DB, customer *account.Customer) (Result, error) {
	result := Result{Tier: customer.Tier, Previous: customer.Tier}

	rs, err := e.resolver.WithTx(tx).RuleSet(ctx, customer.TenantID)
	if err != nil {
		return result, err
	}

	qualified, ok := Qualify(rs.Tiers, customer.TotalSpend)
	if !ok || qualified == customer.Tier {
		return result, nil
	}

	if err := tx.WithContext(ctx).Model(&account.Customer{}).
		Where("id = ?", customer.ID).
		Updates(map[string]any{"tier": qualified, "updated_at": time.Now()}).Error; err != nil {
		return result, err
	}

	logger.FromContext(ctx).Info("customer tier changed",
		zap.String("tenant_id", customer.TenantID),
		zap.String("customer_id", customer.ID),
		zap.String("from", customer.Tier),
		zap.String("to", qualified),
		zap.Int64("total_spend", customer.TotalSpend),
	)
	tierChanges.WithLabelValues(qualified).Inc()

	customer.Tier = qualified
	result.Tier = qualified
	result.Changed = true
	return result, nil
}
