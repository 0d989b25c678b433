package purchase

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Kind decides the payout shape on confirmation. It is fixed at creation.
type Kind string

var (
	KindRegular     Kind = "REGULAR"
	KindStoreCredit Kind = "STORE_CREDIT"
)

type PaymentMethod string

var (
	MethodQRPayment PaymentMethod = "QR_PAYMENT"
	MethodCash      PaymentMethod = "CASH"
	MethodCard      PaymentMethod = "CARD"
)

type Status string

var (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// Settlement records what happened to the ledger side of a completed purchase.
type Settlement string

var (
	SettlementNone          Settlement = ""
	SettlementSettled       Settlement = "SETTLED"
	SettlementNotApplicable Settlement = "NOT_APPLICABLE"
	SettlementUnsettled     Settlement = "UNSETTLED"
)

func ParseKind(v string) (Kind, bool) {
	switch Kind(strings.ToUpper(strings.TrimSpace(v))) {
	case "", KindRegular:
		return KindRegular, true
	case KindStoreCredit:
		return KindStoreCredit, true
	}
	return "", false
}

func ParsePaymentMethod(v string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(v))) {
	case MethodQRPayment:
		return MethodQRPayment, true
	case MethodCash:
		return MethodCash, true
	case MethodCard:
		return MethodCard, true
	}
	return "", false
}

type PurchaseTransaction struct {
	ID                 string        `gorm:"column:id;primaryKey" json:"id"`
	Code               string        `gorm:"column:code;uniqueIndex" json:"code"`
	TenantID           string        `gorm:"column:tenant_id;index" json:"tenant_id"`
	StoreID            string        `gorm:"column:store_id" json:"store_id"`
	CardID             *string       `gorm:"column:card_id;index" json:"card_id,omitempty"`
	CustomerID         *string       `gorm:"column:customer_id" json:"customer_id,omitempty"`
	CreatedBy          string        `gorm:"column:created_by" json:"created_by"`
	Amount             int64         `gorm:"column:amount" json:"amount"`
	Category           string        `gorm:"column:category" json:"category"`
	Kind               Kind          `gorm:"column:kind" json:"kind"`
	PaymentMethod      PaymentMethod `gorm:"column:payment_method" json:"payment_method"`
	Status             Status        `gorm:"column:status;index" json:"status"`
	CashbackAmount     int64         `gorm:"column:cashback_amount" json:"cashback_amount"`
	RateBps            int64         `gorm:"column:rate_bps" json:"rate_bps"`
	ProcessorRef       *string       `gorm:"column:processor_ref;uniqueIndex" json:"processor_ref,omitempty"`
	TransactionID      *string       `gorm:"column:transaction_id" json:"transaction_id,omitempty"`
	Settlement         Settlement    `gorm:"column:settlement;index" json:"settlement"`
	SettlementError    string        `gorm:"column:settlement_error" json:"settlement_error,omitempty"`
	SettlementAttempts int           `gorm:"column:settlement_attempts" json:"settlement_attempts"`
	Note               string        `gorm:"column:note" json:"note"`
	CompletedAt        *time.Time    `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

// PaymentLink is a single-use handle a customer uses to pay for a pending
// purchase. Only the token hash is stored.
type PaymentLink struct {
	ID         string     `gorm:"column:id;primaryKey"`
	TenantID   string     `gorm:"column:tenant_id;index"`
	PurchaseID string     `gorm:"column:purchase_id;index"`
	TokenHash  string     `gorm:"column:token_hash;uniqueIndex"`
	ExpiresAt  time.Time  `gorm:"column:expires_at"`
	UsedAt     *time.Time `gorm:"column:used_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
}

func (l *PaymentLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// PaymentLinkToken is handed to the caller once, at creation.
type PaymentLinkToken struct {
	Token     string    `json:"token"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HashToken returns the SHA-256 hex digest used to look tokens up.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func Models() []any {
	return []any{&PurchaseTransaction{}, &PaymentLink{}}
}
