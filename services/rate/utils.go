package rate

import (
	"math/big"
	"strings"

	"github.com/gosimple/slug"
)

// NormalizeCategory turns free-form category names into rule keys:
// "purchase", " Purchase " and "PURCHASE" all become "PURCHASE".
func NormalizeCategory(category string) string {
	return strings.ToUpper(strings.ReplaceAll(slug.Make(category), "-", "_"))
}

func NormalizeTier(tier string) string {
	return strings.ToUpper(strings.TrimSpace(tier))
}

// CashbackAmount is floor(amount * bps / 10000). Non-positive inputs give 0.
// A stacked rate above 100% pays at most the full amount.
func CashbackAmount(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	bps = min(bps, MaxBps)
	if amount <= (1<<63-1)/bps {
		return amount * bps / MaxBps
	}
	v := new(big.Int).Mul(big.NewInt(amount), big.NewInt(bps))
	return v.Quo(v, big.NewInt(MaxBps)).Int64()
}

func validBps(bps int64) bool {
	return bps >= 0 && bps <= MaxBps
}
