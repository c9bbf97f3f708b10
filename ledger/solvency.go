/*
solvency.go - Company-wide assets/liabilities reporting

PURPOSE:
  Aggregates every member's position into one assets vs. liabilities
  view for operator dashboards. The store produces the raw sums in a
  single pass (no per-user recomputation); this file only does the
  arithmetic, so the report stays trivially testable.

  This view is reporting-only. It never gates individual member
  operations (eligibility.go and balance.go do that) and is allowed to
  be a few seconds stale: TotalUserBalances reads the lazily refreshed
  estimated-balance cache.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SolvencyInputs are the raw sums a store produces in one aggregate pass.
type SolvencyInputs struct {
	TotalDeposits       decimal.Decimal // approved qualifying-deposit transactions
	ActiveStakes        decimal.Decimal // principal of active stakes
	TotalUserBalances   decimal.Decimal // estimated_balance cache of approved users
	ApprovedWithdrawals decimal.Decimal
	PendingWithdrawals  decimal.Decimal
	TotalBonuses        decimal.Decimal
}

// SolvencyReport is the operator-facing aggregate.
type SolvencyReport struct {
	GeneratedAt time.Time

	SolvencyInputs

	TotalAssets      decimal.Decimal // deposits + active stakes + user balances
	TotalLiabilities decimal.Decimal // approved + pending withdrawals + bonuses
	NetAssets        decimal.Decimal
}

// BuildSolvencyReport folds the raw sums into the report.
func BuildSolvencyReport(in SolvencyInputs, generatedAt time.Time) SolvencyReport {
	assets := in.TotalDeposits.Add(in.ActiveStakes).Add(in.TotalUserBalances)
	liabilities := in.ApprovedWithdrawals.Add(in.PendingWithdrawals).Add(in.TotalBonuses)
	return SolvencyReport{
		GeneratedAt:      generatedAt,
		SolvencyInputs:   in,
		TotalAssets:      assets,
		TotalLiabilities: liabilities,
		NetAssets:        assets.Sub(liabilities),
	}
}
