package notification

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

var (
	KindCashbackEarned    Kind = "cashback.earned"
	KindCashbackRedeemed  Kind = "cashback.redeemed"
	KindBalanceAdjusted   Kind = "balance.adjusted"
	KindTierChanged       Kind = "tier.changed"
	KindPurchaseUnsettled Kind = "purchase.unsettled"
)

func (k Kind) String() string {
	return string(k)
}

// Event is what the ledger reports after a committed change.
type Event struct {
	Kind          Kind      `json:"kind"`
	TenantID      string    `json:"tenant_id"`
	CustomerID    string    `json:"customer_id,omitempty"`
	CardID        string    `json:"card_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	PurchaseID    string    `json:"purchase_id,omitempty"`
	Amount        int64     `json:"amount"`
	Cashback      int64     `json:"cashback"`
	Balance       int64     `json:"balance"`
	Tier          string    `json:"tier,omitempty"`
	PreviousTier  string    `json:"previous_tier,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// FormatMinor renders minor units as a major-unit string, 1050 -> "10.50".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
