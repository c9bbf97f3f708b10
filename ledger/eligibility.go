/*
eligibility.go - Withdrawal eligibility gate

PURPOSE:
  Two distinct withdrawal policies exist and are kept as two explicit
  modes:

  Stake-bound: eligible iff the named stake is active AND matured.
  Payout is always the full principal + principal*rate, never partial.

  Free-amount: eligible iff
    (a) the account is at least 3 calendar months old, AND
    (b) each of the 3 preceding calendar months has approved
        qualifying-deposit transactions summing to the monthly minimum
        (2000), AND
    (c) the requested amount does not exceed the derived balance.

  Every refusal carries the concrete shortfall numbers; the product
  builds localized user-facing messages from them, so a bare boolean is
  never enough.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EligibilityPolicy parameterizes the free-amount gate.
type EligibilityPolicy struct {
	MinAccountMonths int
	WindowMonths     int
	MonthlyMinimum   decimal.Decimal
}

// DefaultEligibilityPolicy is the production gate: 3 months of account
// age and 2000 per month of qualifying savings in the 3 preceding
// calendar months.
func DefaultEligibilityPolicy() EligibilityPolicy {
	return EligibilityPolicy{
		MinAccountMonths: 3,
		WindowMonths:     3,
		MonthlyMinimum:   decimal.NewFromInt(2000),
	}
}

// =============================================================================
// STAKE-BOUND MODE
// =============================================================================

// CheckStakeWithdrawal gates a stake-bound withdrawal request: the
// stake must be active and its term elapsed.
func CheckStakeWithdrawal(s Stake, asOf time.Time) error {
	if s.Status != StakeActive {
		return &StateTransitionError{
			Entity:  "stake",
			ID:      string(s.ID),
			Current: string(s.Status),
			Wanted:  string(StakeWithdrawn),
		}
	}
	if !s.Matured(asOf) {
		return &StakeNotMaturedError{
			StakeID:   s.ID,
			MaturesAt: s.EndDate.Format("2006-01-02"),
		}
	}
	return nil
}

// =============================================================================
// FREE-AMOUNT MODE
// =============================================================================

// CheckFreeWithdrawal gates a free-amount withdrawal request.
// transactions is the user's full history; available is the already
// derived balance (callers have it in hand from ComputeBalance).
func (p EligibilityPolicy) CheckFreeWithdrawal(
	user User,
	transactions []Transaction,
	requested decimal.Decimal,
	available decimal.Decimal,
	asOf time.Time,
) error {
	months := calendarMonthsBetween(user.CreatedAt, asOf)
	if months < p.MinAccountMonths {
		return &AccountTooYoungError{
			MonthsRegistered: months,
			RequiredMonths:   p.MinAccountMonths,
		}
	}

	eligible := p.eligibleMonths(transactions, asOf)
	if eligible < p.WindowMonths {
		return &InsufficientMonthlySavingsError{
			EligibleMonths: eligible,
			RequiredMonths: p.WindowMonths,
			MonthlyMinimum: p.MonthlyMinimum,
		}
	}

	if requested.GreaterThan(available) {
		return &InsufficientBalanceError{Requested: requested, Available: available}
	}
	return nil
}

// eligibleMonths counts how many of the preceding WindowMonths calendar
// months met the monthly minimum in approved qualifying deposits.
func (p EligibilityPolicy) eligibleMonths(transactions []Transaction, asOf time.Time) int {
	sums := make(map[monthKey]decimal.Decimal)
	for _, tx := range transactions {
		if tx.Status != StatusApproved || !tx.Type.IsQualifyingDeposit() {
			continue
		}
		k := keyOf(tx.CreatedAt)
		sums[k] = sums[k].Add(tx.Amount)
	}

	eligible := 0
	year, month, _ := asOf.UTC().Date()
	for i := 1; i <= p.WindowMonths; i++ {
		k := monthKey{Year: year, Month: month}.back(i)
		if sums[k].GreaterThanOrEqual(p.MonthlyMinimum) {
			eligible++
		}
	}
	return eligible
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

type monthKey struct {
	Year  int
	Month time.Month
}

func keyOf(t time.Time) monthKey {
	y, m, _ := t.UTC().Date()
	return monthKey{Year: y, Month: m}
}

// back steps the key i calendar months backwards.
func (k monthKey) back(i int) monthKey {
	idx := k.Year*12 + int(k.Month) - 1 - i
	return monthKey{Year: idx / 12, Month: time.Month(idx%12 + 1)}
}

// calendarMonthsBetween counts whole calendar months from one date to
// another: the 15th of January to the 14th of April is 2 months, to
// the 15th it is 3.
func calendarMonthsBetween(from, to time.Time) int {
	from, to = from.UTC(), to.UTC()
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
