package account

import (
	"time"
)

type CardStatus string

var (
	CardUnassigned CardStatus = "UNASSIGNED"
	CardActive     CardStatus = "ACTIVE"
	CardBlocked    CardStatus = "BLOCKED"
)

func (s CardStatus) String() string {
	return string(s)
}

// Card balance, version and last_hash are written only by the ledger and the
// purchase reconciler.
type Card struct {
	ID         string     `gorm:"column:id;primaryKey" json:"id"`
	TenantID   string     `gorm:"column:tenant_id;index" json:"tenant_id"`
	Code       string     `gorm:"column:code;uniqueIndex" json:"code"`
	CustomerID *string    `gorm:"column:customer_id;index" json:"customer_id,omitempty"`
	StoreID    *string    `gorm:"column:store_id" json:"store_id,omitempty"`
	Status     CardStatus `gorm:"column:status" json:"status"`
	Balance    int64      `gorm:"column:balance" json:"balance"`
	Version    int64      `gorm:"column:version" json:"version"`
	LastHash   string     `gorm:"column:last_hash" json:"last_hash"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// Customer spend is kept in minor currency units, same as balances.
type Customer struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID   string    `gorm:"column:tenant_id;index" json:"tenant_id"`
	Name       string    `gorm:"column:name" json:"name"`
	Email      string    `gorm:"column:email" json:"email,omitempty"`
	Phone      string    `gorm:"column:phone" json:"phone,omitempty"`
	Tier       string    `gorm:"column:tier" json:"tier"`
	TotalSpend int64     `gorm:"column:total_spend" json:"total_spend"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

type Store struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;index" json:"tenant_id"`
	Name      string    `gorm:"column:name" json:"name"`
	Active    bool      `gorm:"column:active" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{&Store{}, &Customer{}, &Card{}}
}

func (c *Card) HasCustomer() bool {
	return c.CustomerID != nil && *c.CustomerID != ""
}

func (c *Card) BoundStore() string {
	if c.StoreID == nil {
		return ""
	}
	return *c.StoreID
}
