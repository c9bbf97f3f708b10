/*
bonus.go - Referral bonus calculation

PURPOSE:
  Derives the referral reward owed when a qualifying transaction is
  approved. Two policies exist in the product and both are kept explicit:

  - Percent mode: 10% of an approved tree_plan transaction of at least
    1000, floored to a whole unit.
  - Flat mode: a fixed reward per qualifying referral event, regardless
    of amount.

  The approval state machine asks the policy for the reward; the policy
  never touches the store.
*/
package ledger

import "github.com/shopspring/decimal"

type BonusMode string

const (
	BonusPercent BonusMode = "percent"
	BonusFlat    BonusMode = "flat"
)

// BonusPolicy decides the referral reward for an approved transaction.
type BonusPolicy struct {
	Mode BonusMode

	// Percent mode
	Rate      decimal.Decimal // fraction of the transaction amount
	MinAmount decimal.Decimal // qualifying threshold (inclusive)

	// Flat mode
	FlatAmount decimal.Decimal
}

// DefaultBonusPolicy is the production policy: 10% of a tree_plan
// transaction of at least 1000, floored.
func DefaultBonusPolicy() BonusPolicy {
	return BonusPolicy{
		Mode:      BonusPercent,
		Rate:      decimal.NewFromFloat(0.10),
		MinAmount: decimal.NewFromInt(1000),
	}
}

// FlatBonusPolicy rewards a fixed amount per qualifying referral.
func FlatBonusPolicy(amount decimal.Decimal) BonusPolicy {
	return BonusPolicy{Mode: BonusFlat, FlatAmount: amount}
}

// Reward returns the bonus owed for an approved transaction, and
// whether one is owed at all. Amount 999 earns nothing; amount 1000
// earns floor(1000 * 0.10) = 100 under the default policy.
func (p BonusPolicy) Reward(txType TransactionType, amount decimal.Decimal) (decimal.Decimal, bool) {
	if txType != TxTreePlan {
		return decimal.Zero, false
	}
	switch p.Mode {
	case BonusFlat:
		return p.FlatAmount, true
	default:
		if amount.LessThan(p.MinAmount) {
			return decimal.Zero, false
		}
		return amount.Mul(p.Rate).Floor(), true
	}
}
