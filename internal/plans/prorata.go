package plans

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ProRata is the upgrade quote for a user moving between paid tiers
// mid-cycle. All amounts are minor units.
type ProRata struct {
	OriginalPrice int64 `json:"originalPrice"`
	UnusedCredit  int64 `json:"unusedCredit"`
	FinalAmount   int64 `json:"finalAmount"`
	DaysRemaining int   `json:"daysRemaining"`
	Savings       int64 `json:"savings"`
}

// ComputeProRata quotes the amount owed when upgrading from the current plan
// to a new one. With no active paid term the full new price is owed. The
// result is deterministic and never negative.
func ComputeProRata(currentPrice, newPrice int64, start, expiry *time.Time, now time.Time) ProRata {
	if currentPrice <= 0 || start == nil || expiry == nil || !expiry.After(now) {
		return ProRata{
			OriginalPrice: newPrice,
			FinalAmount:   newPrice,
		}
	}

	totalDays := ceilDays(expiry.Sub(*start))
	if totalDays <= 0 {
		return ProRata{
			OriginalPrice: newPrice,
			FinalAmount:   newPrice,
		}
	}

	daysRemaining := ceilDays(expiry.Sub(now))
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	if daysRemaining > totalDays {
		daysRemaining = totalDays
	}

	dailyRate := decimal.NewFromInt(currentPrice).Div(decimal.NewFromInt(int64(totalDays)))
	credit := dailyRate.Mul(decimal.NewFromInt(int64(daysRemaining))).Round(0).IntPart()

	final := newPrice - credit
	if final < 0 {
		final = 0
	}

	return ProRata{
		OriginalPrice: newPrice,
		UnusedCredit:  credit,
		FinalAmount:   final,
		DaysRemaining: daysRemaining,
		Savings:       newPrice - final,
	}
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}
