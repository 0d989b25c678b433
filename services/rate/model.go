package rate

import (
	"time"
)

// MaxBps is 100%.
const MaxBps int64 = 10000

type CashbackRule struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;uniqueIndex:idx_cashback_rules_tenant_category" json:"tenant_id"`
	Category  string    `gorm:"column:category;uniqueIndex:idx_cashback_rules_tenant_category" json:"category"`
	RateBps   int64     `gorm:"column:rate_bps" json:"rate_bps"`
	Active    bool      `gorm:"column:active" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

type TierRule struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;uniqueIndex:idx_tier_rules_tenant_tier" json:"tenant_id"`
	Tier      string    `gorm:"column:tier;uniqueIndex:idx_tier_rules_tenant_tier" json:"tier"`
	MinSpend  int64     `gorm:"column:min_spend" json:"min_spend"`
	BonusBps  int64     `gorm:"column:bonus_bps" json:"bonus_bps"`
	Active    bool      `gorm:"column:active" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// Offer adds RateMultiplierBps on top of the base and tier rates while now is
// inside [StartsAt, EndsAt] and Condition (a CEL expression over category and
// tier) holds. An empty Condition always holds.
type Offer struct {
	ID                string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID          string    `gorm:"column:tenant_id;index" json:"tenant_id"`
	Name              string    `gorm:"column:name" json:"name"`
	RateMultiplierBps int64     `gorm:"column:rate_multiplier_bps" json:"rate_multiplier_bps"`
	Active            bool      `gorm:"column:active" json:"active"`
	StartsAt          time.Time `gorm:"column:starts_at" json:"starts_at"`
	EndsAt            time.Time `gorm:"column:ends_at" json:"ends_at"`
	Condition         string    `gorm:"column:condition_expr" json:"condition,omitempty"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (o *Offer) ActiveAt(now time.Time) bool {
	return o.Active && !now.Before(o.StartsAt) && !now.After(o.EndsAt)
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&CashbackRule{}, &TierRule{}, &Offer{}}
}

// Rate is the resolved cashback rate with its parts.
type Rate struct {
	BaseBps      int64    `json:"base_bps"`
	HasBaseRule  bool     `json:"has_base_rule"`
	TierBonusBps int64    `json:"tier_bonus_bps"`
	OfferBps     int64    `json:"offer_bps"`
	OfferIDs     []string `json:"offer_ids,omitempty"`
	TotalBps     int64    `json:"total_bps"`
}
