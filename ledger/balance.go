/*
balance.go - The canonical balance derivation

PURPOSE:
  Computes a user's available balance from source records. This is the
  single formula every surface uses: the member dashboard, the admin
  user-detail view, the withdrawal-eligibility gate and the solvency
  report all call ComputeBalance and differ only in which bonus figure
  they pass in.

FORMULA:
  deposits   = approved transactions of a qualifying deposit type
  withdrawn  = approved transactions of type withdrawal
  loanRepay  = approved transactions of type loan_repayment
  interest   = accrued interest on active stakes, capped at full term
  balance    = max(0, deposits + bonusTotal + interest - withdrawn - loanRepay)

NOTES:
  - Loan disbursements are recorded but excluded from the formula.
  - Stake principal is NOT part of the personal balance. Principal
    becomes spendable only through the withdrawal payout (principal +
    interest credited when the stake withdrawal is approved). Counting
    it here as well would double-count against that payout.
  - The clamp to zero happens exactly once, at the output. Intermediate
    sums stay signed so a large loan repayment cannot silently eat into
    unrelated deposit history inside the computation.

SEE ALSO:
  - interest.go: per-stake accrual
  - solvency.go: the company-wide aggregate (which DOES count principal,
    as an asset)
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE BREAKDOWN - explicit result record, "missing" is never ambiguous
// =============================================================================

// BalanceBreakdown is the derived balance with every contributing term.
// All fields are zero-valued decimals when no records exist.
type BalanceBreakdown struct {
	AsOf time.Time

	Deposits       decimal.Decimal // approved qualifying-deposit credits
	Bonuses        decimal.Decimal // caller-supplied bonus total
	StakeInterest  decimal.Decimal // accrued interest on active stakes
	Withdrawals    decimal.Decimal // approved withdrawal-type transactions
	LoanRepayments decimal.Decimal // approved loan_repayment debits

	// Available = max(0, Deposits + Bonuses + StakeInterest
	//                    - Withdrawals - LoanRepayments)
	Available decimal.Decimal
}

// =============================================================================
// BALANCE DERIVATION ENGINE
// =============================================================================

// ComputeBalance derives a user's available balance from their full
// history. Pure: no hidden state beyond asOf, which only feeds stake
// interest accrual. Safe to recompute redundantly from concurrent
// requests.
//
// bonusTotal is caller-supplied so each surface chooses its bonus
// policy explicitly (sum of bonus rows, or a flat referral formula).
func ComputeBalance(
	transactions []Transaction,
	stakes []Stake,
	bonusTotal decimal.Decimal,
	asOf time.Time,
) BalanceBreakdown {
	b := BalanceBreakdown{
		AsOf:           asOf,
		Deposits:       decimal.Zero,
		Bonuses:        bonusTotal,
		StakeInterest:  decimal.Zero,
		Withdrawals:    decimal.Zero,
		LoanRepayments: decimal.Zero,
		Available:      decimal.Zero,
	}

	for _, tx := range transactions {
		if tx.Status != StatusApproved {
			continue
		}
		switch {
		case tx.Type.IsQualifyingDeposit():
			b.Deposits = b.Deposits.Add(tx.Amount)
		case tx.Type == TxWithdrawal:
			b.Withdrawals = b.Withdrawals.Add(tx.Amount)
		case tx.Type == TxLoanRepayment:
			b.LoanRepayments = b.LoanRepayments.Add(tx.Amount)
		}
		// TxLoan and TxStake fall through: recorded, never summed here.
	}

	for _, s := range stakes {
		if s.Status != StakeActive {
			continue
		}
		b.StakeInterest = b.StakeInterest.Add(AccruedInterest(s, asOf))
	}

	available := b.Deposits.
		Add(b.Bonuses).
		Add(b.StakeInterest).
		Sub(b.Withdrawals).
		Sub(b.LoanRepayments)

	// Clamp once, at output only.
	if available.IsNegative() {
		available = decimal.Zero
	}
	b.Available = available
	return b
}
