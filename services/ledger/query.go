package ledger

import (
	"context"

	"smallbiznis-cashback/pkg/db/option"
	"smallbiznis-cashback/pkg/db/pagination"
	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/services/account"

	"go.uber.org/zap"
)

type CardSummary struct {
	Card     *account.Card     `json:"card"`
	Customer *account.Customer `json:"customer,omitempty"`
}

func (s *Service) loadCard(ctx context.Context, tenantID, code string) (*account.Card, error) {
	if code == "" {
		return nil, account.ErrCardNotFound
	}
	card, err := s.cards.FindOne(ctx, &account.Card{Code: code})
	if err != nil {
		logger.FromContext(ctx).Error("failed to load card", zap.String("card_code", code), zap.Error(err))
		return nil, errutil.Internal("failed to load card", err)
	}
	if card == nil {
		return nil, account.ErrCardNotFound
	}
	if card.TenantID != tenantID {
		return nil, account.ErrTenantMismatch
	}
	return card, nil
}

// GetCard returns the card with its linked customer, if any.
func (s *Service) GetCard(ctx context.Context, tenantID, code string) (*CardSummary, error) {
	card, err := s.loadCard(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}

	out := &CardSummary{Card: card}
	if card.HasCustomer() {
		customer, err := s.customers.FindOne(ctx, &account.Customer{ID: *card.CustomerID, TenantID: tenantID})
		if err != nil {
			return nil, errutil.Internal("failed to load customer", err)
		}
		out.Customer = customer
	}
	return out, nil
}

// ListTransactions pages a card's rows newest first.
func (s *Service) ListTransactions(ctx context.Context, tenantID, code string, page pagination.Pagination) ([]*Transaction, *pagination.PageInfo, error) {
	card, err := s.loadCard(ctx, tenantID, code)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.transactions.Find(ctx, &Transaction{TenantID: tenantID, CardID: card.ID}, option.ApplyPagination(page))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list transactions", zap.String("card_id", card.ID), zap.Error(err))
		return nil, nil, errutil.Internal("failed to list transactions", err)
	}

	rows, info := pagination.Trim(rows, page.Limit, func(t *Transaction) string { return t.ID })
	return rows, info, nil
}

type Verification struct {
	CardID       string `json:"card_id"`
	Valid        bool   `json:"valid"`
	Transactions int    `json:"transactions"`
	Balance      int64  `json:"balance"`
	Computed     int64  `json:"computed_balance"`
	BrokenAt     string `json:"broken_at,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// VerifyCard walks the card's rows in sequence order, recomputing each hash
// and the running balance. The card is valid when the chain is unbroken, the
// chain head matches the card and the signed effects sum to its balance.
func (s *Service) VerifyCard(ctx context.Context, tenantID, code string) (*Verification, error) {
	card, err := s.loadCard(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}

	rows, err := s.transactions.Find(ctx, &Transaction{TenantID: tenantID, CardID: card.ID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "sequence",
			OrderBy: "asc",
			Allow:   map[string]bool{"sequence": true},
		}),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to load transactions", zap.String("card_id", card.ID), zap.Error(err))
		return nil, errutil.Internal("failed to load transactions", err)
	}

	v := verifyChain(rows)
	v.CardID = card.ID
	v.Balance = card.Balance

	head := account.GenesisHash
	if len(rows) > 0 {
		head = rows[len(rows)-1].Hash
	}
	switch {
	case !v.Valid:
	case card.LastHash != "" && card.LastHash != head:
		v.Valid, v.Reason = false, "card chain head does not match last transaction"
	case v.Computed != card.Balance:
		v.Valid, v.Reason = false, "balance does not equal the sum of transaction effects"
	}

	if !v.Valid {
		logger.FromContext(ctx).Warn("card verification failed",
			zap.String("card_id", card.ID),
			zap.String("broken_at", v.BrokenAt),
			zap.String("reason", v.Reason),
		)
	}
	return v, nil
}

func verifyChain(rows []*Transaction) *Verification {
	v := &Verification{Valid: true, Transactions: len(rows)}

	prev := account.GenesisHash
	var running int64
	for i, row := range rows {
		fail := func(reason string) *Verification {
			v.Valid, v.BrokenAt, v.Reason = false, row.ID, reason
			v.Computed = running
			return v
		}
		if row.Sequence != int64(i+1) {
			return fail("sequence gap")
		}
		if row.PreviousHash != prev {
			return fail("previous hash mismatch")
		}
		if row.GenerateHash() != row.Hash {
			return fail("hash mismatch")
		}
		if row.BalanceBefore != running || row.BalanceAfter != running+row.Effect() {
			return fail("balance before/after mismatch")
		}
		running = row.BalanceAfter
		prev = row.Hash
	}
	v.Computed = running
	return v
}
