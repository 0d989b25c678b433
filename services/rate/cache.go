package rate

import (
	"context"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "cashback_rule_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "cashback_rule_cache_miss_total"})
)

type compiledOffer struct {
	Offer
	program cel.Program
}

// RuleSet is one tenant's active rate tables.
type RuleSet struct {
	TenantID string
	Cashback map[string]CashbackRule
	Tiers    []TierRule // min_spend descending
	Offers   []compiledOffer
	LoadedAt time.Time
}

// TierBonus returns the bonus of the active rule for tier, 0 when none.
func (rs *RuleSet) TierBonus(tier string) int64 {
	for _, t := range rs.Tiers {
		if t.Tier == tier {
			return t.BonusBps
		}
	}
	return 0
}

// thread-safe + singleflight, keyed by tenant
type RuleCache struct {
	mu    sync.RWMutex
	items map[string]*RuleSet
	ttl   time.Duration
	group singleflight.Group
}

// NewRuleCache returns a cache whose entries expire after ttl. A zero ttl
// disables caching.
func NewRuleCache(ttl time.Duration) *RuleCache {
	return &RuleCache{
		items: make(map[string]*RuleSet),
		ttl:   ttl,
	}
}

func (c *RuleCache) Get(tenantID string) (*RuleSet, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[tenantID]
	if !ok || time.Since(v.LoadedAt) > c.ttl {
		return nil, false
	}
	return v, true
}

func (c *RuleCache) Set(tenantID string, v *RuleSet) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[tenantID] = v
}

func (c *RuleCache) Invalidate(tenantID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, tenantID)
}

// Load returns the cached rule set or loads it once for concurrent callers.
func (c *RuleCache) Load(ctx context.Context, tenantID string, load func(context.Context) (*RuleSet, error)) (*RuleSet, error) {
	if rs, ok := c.Get(tenantID); ok {
		cacheHits.Inc()
		return rs, nil
	}
	cacheMiss.Inc()

	if c == nil || c.ttl <= 0 {
		return load(ctx)
	}

	v, err, _ := c.group.Do(tenantID, func() (any, error) {
		rs, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(tenantID, rs)
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RuleSet), nil
}

func loadRuleSet(ctx context.Context, repo Repository, tenantID string) (*RuleSet, error) {
	cashback, err := repo.ListActiveCashbackRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tiers, err := repo.ListActiveTierRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	offers, err := repo.ListActiveOffers(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{
		TenantID: tenantID,
		Cashback: make(map[string]CashbackRule, len(cashback)),
		Tiers:    tiers,
		Offers:   make([]compiledOffer, 0, len(offers)),
		LoadedAt: time.Now(),
	}
	for _, r := range cashback {
		rs.Cashback[r.Category] = r
	}
	for _, o := range offers {
		co := compiledOffer{Offer: o}
		if o.Condition != "" {
			program, err := CompileCondition(o.Condition)
			if err != nil {
				// rejected at write time; a bad row only disables that offer
				zap.L().Warn("skipping offer with invalid condition",
					zap.String("tenant_id", tenantID), zap.String("offer_id", o.ID), zap.Error(err))
				continue
			}
			co.program = program
		}
		rs.Offers = append(rs.Offers, co)
	}
	return rs, nil
}
