/*
interest.go - Stake interest accrual

PURPOSE:
  Computes accrued interest on a stake given elapsed time vs. term.
  Accrual is linear over the term and caps at the full-term value:
  querying long after maturity never yields more than principal * rate.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccruedInterest returns principal * rate * min(1, elapsed/term) for
// the stake at asOf. Elapsed days clamp to [0, term]: nothing accrues
// before the start date, nothing beyond maturity.
func AccruedInterest(s Stake, asOf time.Time) decimal.Decimal {
	if s.TermDays <= 0 {
		return decimal.Zero
	}

	elapsed := daysBetween(s.StartDate, asOf)
	if elapsed <= 0 {
		return decimal.Zero
	}
	if elapsed >= s.TermDays {
		return s.Principal.Mul(s.Rate)
	}

	fraction := decimal.NewFromInt(int64(elapsed)).
		Div(decimal.NewFromInt(int64(s.TermDays)))
	return s.Principal.Mul(s.Rate).Mul(fraction)
}

// daysBetween counts whole days from one calendar date to another,
// ignoring the time of day.
func daysBetween(from, to time.Time) int {
	from = truncateToDay(from)
	to = truncateToDay(to)
	return int(to.Sub(from).Hours() / 24)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
