package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestResolver(t *testing.T, ttl time.Duration) (*Resolver, *Service) {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	repo := NewRepository(db)
	cache := NewRuleCache(ttl)

	resolver := NewResolver(ResolverParams{Repository: repo, Cache: cache})
	resolver.now = func() time.Time { return fixedNow }

	svc := NewService(ServiceParams{Repository: repo, Cache: cache, Node: testutil.NewNode(t)})
	return resolver, svc
}

func TestResolve_BaseRateOnly(t *testing.T) {
	resolver, svc := newTestResolver(t, time.Minute)
	ctx := context.Background()

	_, err := svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 300, true)
	require.NoError(t, err)
	_, err = svc.UpsertTierRule(ctx, "tenant-1", "SILVER", 0, 0, true)
	require.NoError(t, err)

	rate, err := resolver.Resolve(ctx, "tenant-1", "purchase", "SILVER")
	require.NoError(t, err)
	require.True(t, rate.HasBaseRule)
	require.Equal(t, int64(300), rate.TotalBps)
	require.Equal(t, int64(300), CashbackAmount(10000, rate.TotalBps))
}

func TestResolve_MissingRuleIsDistinguishableFromZero(t *testing.T) {
	resolver, svc := newTestResolver(t, 0)
	ctx := context.Background()

	missing, err := resolver.Resolve(ctx, "tenant-1", "FUEL", "SILVER")
	require.NoError(t, err)
	require.False(t, missing.HasBaseRule)
	require.Zero(t, missing.TotalBps)

	_, err = svc.UpsertCashbackRule(ctx, "tenant-1", "FUEL", 0, true)
	require.NoError(t, err)

	zero, err := resolver.Resolve(ctx, "tenant-1", "FUEL", "SILVER")
	require.NoError(t, err)
	require.True(t, zero.HasBaseRule)
	require.Zero(t, zero.TotalBps)
}

func TestResolve_InactiveRulesIgnored(t *testing.T) {
	resolver, svc := newTestResolver(t, 0)
	ctx := context.Background()

	_, err := svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 300, false)
	require.NoError(t, err)
	_, err = svc.UpsertTierRule(ctx, "tenant-1", "GOLD", 10000, 100, false)
	require.NoError(t, err)

	rate, err := resolver.Resolve(ctx, "tenant-1", "PURCHASE", "GOLD")
	require.NoError(t, err)
	require.False(t, rate.HasBaseRule)
	require.Zero(t, rate.TotalBps)
}

func TestResolve_OffersStackAdditively(t *testing.T) {
	resolver, svc := newTestResolver(t, time.Minute)
	ctx := context.Background()

	_, err := svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 300, true)
	require.NoError(t, err)
	_, err = svc.UpsertTierRule(ctx, "tenant-1", "GOLD", 10000, 100, true)
	require.NoError(t, err)

	window := CreateOfferParams{
		TenantID: "tenant-1",
		StartsAt: fixedNow.Add(-time.Hour),
		EndsAt:   fixedNow.Add(time.Hour),
	}
	first := window
	first.Name, first.RateMultiplierBps = "weekend", 100
	second := window
	second.Name, second.RateMultiplierBps = "launch", 200
	_, err = svc.CreateOffer(ctx, first)
	require.NoError(t, err)
	_, err = svc.CreateOffer(ctx, second)
	require.NoError(t, err)

	expired := window
	expired.Name, expired.RateMultiplierBps = "last month", 500
	expired.StartsAt, expired.EndsAt = fixedNow.Add(-48*time.Hour), fixedNow.Add(-24*time.Hour)
	_, err = svc.CreateOffer(ctx, expired)
	require.NoError(t, err)

	rate, err := resolver.Resolve(ctx, "tenant-1", "PURCHASE", "GOLD")
	require.NoError(t, err)
	require.Equal(t, int64(300), rate.BaseBps)
	require.Equal(t, int64(100), rate.TierBonusBps)
	require.Equal(t, int64(300), rate.OfferBps)
	require.Len(t, rate.OfferIDs, 2)
	require.Equal(t, int64(700), rate.TotalBps)
}

func TestResolve_OfferCondition(t *testing.T) {
	resolver, svc := newTestResolver(t, 0)
	ctx := context.Background()

	_, err := svc.CreateOffer(ctx, CreateOfferParams{
		TenantID:          "tenant-1",
		Name:              "gold dining",
		RateMultiplierBps: 250,
		StartsAt:          fixedNow.Add(-time.Hour),
		EndsAt:            fixedNow.Add(time.Hour),
		Condition:         `category == "DINING" && tier in ["GOLD", "PLATINUM"]`,
	})
	require.NoError(t, err)

	hit, err := resolver.Resolve(ctx, "tenant-1", "dining", "gold")
	require.NoError(t, err)
	require.Equal(t, int64(250), hit.OfferBps)

	miss, err := resolver.Resolve(ctx, "tenant-1", "dining", "SILVER")
	require.NoError(t, err)
	require.Zero(t, miss.OfferBps)
}

func TestResolve_StackedRateAboveFullAmount(t *testing.T) {
	resolver, svc := newTestResolver(t, 0)
	ctx := context.Background()

	_, err := svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 9000, true)
	require.NoError(t, err)
	_, err = svc.UpsertTierRule(ctx, "tenant-1", "GOLD", 0, 5000, true)
	require.NoError(t, err)

	rate, err := resolver.Resolve(ctx, "tenant-1", "PURCHASE", "GOLD")
	require.NoError(t, err)
	require.Equal(t, int64(14000), rate.TotalBps)
	require.Equal(t, int64(5000), CashbackAmount(5000, rate.TotalBps))
}

func TestResolve_CacheInvalidatedOnWrite(t *testing.T) {
	resolver, svc := newTestResolver(t, time.Hour)
	ctx := context.Background()

	_, err := svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 300, true)
	require.NoError(t, err)

	before, err := resolver.Resolve(ctx, "tenant-1", "PURCHASE", "")
	require.NoError(t, err)
	require.Equal(t, int64(300), before.TotalBps)

	_, err = svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 450, true)
	require.NoError(t, err)

	after, err := resolver.Resolve(ctx, "tenant-1", "PURCHASE", "")
	require.NoError(t, err)
	require.Equal(t, int64(450), after.TotalBps)
}

func TestResolve_Deterministic(t *testing.T) {
	tiers := []string{"SILVER", "GOLD", "PLATINUM", ""}
	categories := []string{"PURCHASE", "DINING", "FUEL"}

	rapid.Check(t, func(rt *rapid.T) {
		rs := &RuleSet{Cashback: map[string]CashbackRule{}}
		for _, c := range categories {
			if rapid.Bool().Draw(rt, "has_"+c) {
				rs.Cashback[c] = CashbackRule{Category: c, RateBps: rapid.Int64Range(0, MaxBps).Draw(rt, "bps_"+c), Active: true}
			}
		}
		for _, tier := range tiers[:3] {
			rs.Tiers = append(rs.Tiers, TierRule{Tier: tier, BonusBps: rapid.Int64Range(0, 500).Draw(rt, "bonus_"+tier)})
		}
		n := rapid.IntRange(0, 4).Draw(rt, "offers")
		for i := 0; i < n; i++ {
			rs.Offers = append(rs.Offers, compiledOffer{Offer: Offer{
				ID:                "offer",
				Active:            rapid.Bool().Draw(rt, "offer_active"),
				RateMultiplierBps: rapid.Int64Range(0, 1000).Draw(rt, "offer_bps"),
				StartsAt:          fixedNow.Add(-time.Hour),
				EndsAt:            fixedNow.Add(time.Duration(rapid.IntRange(-2, 2).Draw(rt, "offer_end")) * time.Hour),
			}})
		}

		category := rapid.SampledFrom(categories).Draw(rt, "category")
		tier := rapid.SampledFrom(tiers).Draw(rt, "tier")

		first := rs.resolve(category, tier, fixedNow)
		second := rs.resolve(category, tier, fixedNow)
		require.Equal(rt, first, second)
		require.Equal(rt, first.BaseBps+first.TierBonusBps+first.OfferBps, first.TotalBps)
	})
}

func TestCashbackAmount(t *testing.T) {
	require.Equal(t, int64(300), CashbackAmount(10000, 300))
	require.Equal(t, int64(250), CashbackAmount(5000, 500))
	require.Equal(t, int64(0), CashbackAmount(33, 300))
	require.Equal(t, int64(0), CashbackAmount(-100, 300))
	require.Equal(t, int64(1<<63-1), CashbackAmount(1<<63-1, MaxBps))

	rapid.Check(t, func(rt *rapid.T) {
		amount := rapid.Int64Range(0, 1<<62).Draw(rt, "amount")
		bps := rapid.Int64Range(0, 3*MaxBps).Draw(rt, "bps")

		cashback := CashbackAmount(amount, bps)
		require.GreaterOrEqual(rt, cashback, int64(0))
		require.LessOrEqual(rt, cashback, amount)
	})
}

func TestService_RejectsOutOfRangeRates(t *testing.T) {
	_, svc := newTestResolver(t, 0)
	ctx := context.Background()

	_, err := svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 10001, true)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = svc.UpsertTierRule(ctx, "tenant-1", "GOLD", -1, 100, true)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = svc.CreateOffer(ctx, CreateOfferParams{
		TenantID: "tenant-1", Name: "bad", RateMultiplierBps: 100,
		StartsAt: fixedNow, EndsAt: fixedNow.Add(-time.Minute),
	})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = svc.CreateOffer(ctx, CreateOfferParams{
		TenantID: "tenant-1", Name: "bad", RateMultiplierBps: 100,
		StartsAt: fixedNow, EndsAt: fixedNow.Add(time.Hour), Condition: `category + "x"`,
	})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}

func TestService_UpsertKeepsRowID(t *testing.T) {
	_, svc := newTestResolver(t, 0)
	ctx := context.Background()

	first, err := svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 300, true)
	require.NoError(t, err)
	second, err := svc.UpsertCashbackRule(ctx, "tenant-1", " purchase ", 500, true)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(500), second.RateBps)
}

func TestService_InitializeDefaults(t *testing.T) {
	resolver, svc := newTestResolver(t, 0)
	ctx := context.Background()

	require.NoError(t, svc.InitializeDefaults(ctx, "tenant-1"))

	rs, err := resolver.RuleSet(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), rs.Cashback["PURCHASE"].RateBps)
	require.Len(t, rs.Tiers, 3)
	require.Equal(t, "PLATINUM", rs.Tiers[0].Tier)
	require.Equal(t, DefaultTier, rs.Tiers[2].Tier)

	_, err = svc.UpsertCashbackRule(ctx, "tenant-1", "PURCHASE", 150, true)
	require.NoError(t, err)
	require.NoError(t, svc.InitializeDefaults(ctx, "tenant-1"))

	rs, err = resolver.RuleSet(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, int64(150), rs.Cashback["PURCHASE"].RateBps)
}
