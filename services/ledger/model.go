package ledger

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type TransactionType string

var (
	TypeEarn   TransactionType = "EARN"
	TypeRedeem TransactionType = "REDEEM"
	TypeAdjust TransactionType = "ADJUST"
)

func (t TransactionType) String() string {
	return string(t)
}

func ParseTransactionType(v string) (TransactionType, bool) {
	switch TransactionType(strings.ToUpper(strings.TrimSpace(v))) {
	case TypeEarn:
		return TypeEarn, true
	case TypeRedeem:
		return TypeRedeem, true
	case TypeAdjust:
		return TypeAdjust, true
	}
	return "", false
}

type ActorRole string

var (
	RoleCashier      ActorRole = "CASHIER"
	RoleStoreManager ActorRole = "STORE_MANAGER"
	RoleTenantAdmin  ActorRole = "TENANT_ADMIN"
	RoleSystem       ActorRole = "SYSTEM"
)

// CanOverrideStoreBinding reports whether the role may use a card outside the
// store it is bound to.
func (r ActorRole) CanOverrideStoreBinding() bool {
	return r == RoleTenantAdmin || r == RoleSystem
}

// Transaction rows are append-only. Each row links to the previous row of the
// same card through PreviousHash.
type Transaction struct {
	ID             string          `gorm:"column:id;primaryKey" json:"id"`
	Code           string          `gorm:"column:code;index" json:"code"`
	TenantID       string          `gorm:"column:tenant_id;index;uniqueIndex:idx_transactions_tenant_reference" json:"tenant_id"`
	StoreID        string          `gorm:"column:store_id" json:"store_id"`
	CardID         string          `gorm:"column:card_id;uniqueIndex:idx_transactions_card_sequence" json:"card_id"`
	CustomerID     string          `gorm:"column:customer_id;index" json:"customer_id,omitempty"`
	ActorID        string          `gorm:"column:actor_id" json:"actor_id"`
	Type           TransactionType `gorm:"column:type" json:"type"`
	Category       string          `gorm:"column:category" json:"category"`
	Amount         int64           `gorm:"column:amount" json:"amount"`
	CashbackAmount int64           `gorm:"column:cashback_amount" json:"cashback_amount"`
	RateBps        int64           `gorm:"column:rate_bps" json:"rate_bps"`
	BalanceBefore  int64           `gorm:"column:balance_before" json:"balance_before"`
	BalanceAfter   int64           `gorm:"column:balance_after" json:"balance_after"`
	Sequence       int64           `gorm:"column:sequence;uniqueIndex:idx_transactions_card_sequence" json:"sequence"`
	ReferenceID    *string         `gorm:"column:reference_id;uniqueIndex:idx_transactions_tenant_reference" json:"reference_id,omitempty"`
	Note           string          `gorm:"column:note" json:"note,omitempty"`
	Metadata       datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	PreviousHash   string          `gorm:"column:previous_hash" json:"previous_hash"`
	Hash           string          `gorm:"column:hash" json:"hash"`
	CreatedAt      time.Time       `gorm:"column:created_at" json:"created_at"`
}

// Effect is the signed change the row applied to the card balance.
func (m *Transaction) Effect() int64 {
	switch m.Type {
	case TypeEarn:
		return m.CashbackAmount
	case TypeRedeem:
		return -m.Amount
	default:
		return m.Amount
	}
}

func (m *Transaction) HashFields() map[string]string {
	ref := ""
	if m.ReferenceID != nil {
		ref = *m.ReferenceID
	}
	return map[string]string{
		"id":              m.ID,
		"tenant_id":       m.TenantID,
		"store_id":        m.StoreID,
		"card_id":         m.CardID,
		"customer_id":     m.CustomerID,
		"actor_id":        m.ActorID,
		"type":            m.Type.String(),
		"category":        m.Category,
		"amount":          fmt.Sprintf("%d", m.Amount),
		"cashback_amount": fmt.Sprintf("%d", m.CashbackAmount),
		"rate_bps":        fmt.Sprintf("%d", m.RateBps),
		"balance_before":  fmt.Sprintf("%d", m.BalanceBefore),
		"balance_after":   fmt.Sprintf("%d", m.BalanceAfter),
		"sequence":        fmt.Sprintf("%d", m.Sequence),
		"reference_id":    ref,
		"note":            m.Note,
		"metadata":        canonicalJSON(m.Metadata),
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":   m.PreviousHash,
	}
}

// canonicalJSON re-encodes metadata so key order and spacing chosen by the
// database do not change the hash.
func canonicalJSON(b datatypes.JSON) string {
	if len(b) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(b)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func (m *Transaction) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// GenerateTransactionCode returns a short human-facing code, YYYYMMDD-XXXXXX.
func GenerateTransactionCode(now time.Time) (string, error) {
	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", now.Format("20060102"), strings.ToUpper(hex.EncodeToString(r))), nil
}

func Models() []any {
	return []any{&Transaction{}}
}
