/*
eligibility_test.go - Unit tests for the withdrawal eligibility gate

CORE DESIGN:
- Stake-bound: active AND matured, full payout only
- Free-amount: account age >= 3 calendar months, 3 preceding calendar
  months each with >= 2000 in approved qualifying deposits, amount
  within the derived balance
- Every refusal carries the concrete shortfall numbers
*/
package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kedimoney/ledger-engine/ledger"
)

// =============================================================================
// STAKE-BOUND GATE
// =============================================================================

func TestCheckStakeWithdrawal_MaturedActiveStakePasses(t *testing.T) {
	// GIVEN: An active stake past its end date
	// WHEN: Checking the stake-bound gate
	// THEN: No error

	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	s := newStake("10000", 30, "0.05", start)

	assert.NoError(t, ledger.CheckStakeWithdrawal(s, s.EndDate))
}

func TestCheckStakeWithdrawal_NotMaturedRefused(t *testing.T) {
	// GIVEN: An active stake one day before maturity
	// WHEN: Checking the stake-bound gate
	// THEN: StakeNotMaturedError naming the maturity date

	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	s := newStake("10000", 90, "0.15", start)

	err := ledger.CheckStakeWithdrawal(s, s.EndDate.AddDate(0, 0, -1))
	require.Error(t, err)

	var notMatured *ledger.StakeNotMaturedError
	require.ErrorAs(t, err, &notMatured)
	assert.Equal(t, s.EndDate.Format("2006-01-02"), notMatured.MaturesAt)
}

func TestCheckStakeWithdrawal_WithdrawnStakeRefused(t *testing.T) {
	// GIVEN: A stake already withdrawn
	// WHEN: Checking the stake-bound gate long after maturity
	// THEN: A state transition error, not a maturity error

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	s := newStake("10000", 30, "0.05", start)
	s.Status = ledger.StakeWithdrawn

	err := ledger.CheckStakeWithdrawal(s, start.AddDate(1, 0, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInvalidStateTransition))
}

// =============================================================================
// FREE-AMOUNT GATE
// =============================================================================

func monthlyDeposits(months []time.Time, amount string) []ledger.Transaction {
	txs := make([]ledger.Transaction, len(months))
	for i, m := range months {
		txs[i] = ledger.Transaction{
			ID:        ledger.TransactionID(m.Format("tx-2006-01")),
			UserID:    "usr-1",
			Type:      ledger.TxSaving,
			Amount:    dec(amount),
			Status:    ledger.StatusApproved,
			CreatedAt: m,
		}
	}
	return txs
}

func TestCheckFreeWithdrawal_FullyEligible(t *testing.T) {
	// GIVEN: Account opened in January, 2000 saved in each of March,
	//        April and May, balance 6000
	// WHEN: Requesting 5000 on June 10
	// THEN: Eligible

	policy := ledger.DefaultEligibilityPolicy()
	user := ledger.User{ID: "usr-1", CreatedAt: time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)}
	txs := monthlyDeposits([]time.Time{
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.May, 28, 0, 0, 0, 0, time.UTC),
	}, "2000")
	asOf := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)

	err := policy.CheckFreeWithdrawal(user, txs, dec("5000"), dec("6000"), asOf)
	assert.NoError(t, err)
}

func TestCheckFreeWithdrawal_AccountTooYoung(t *testing.T) {
	// GIVEN: Account registered 95 days ago counts 3 calendar months,
	//        but one registered 2 months ago does not
	// WHEN: Requesting a withdrawal
	// THEN: AccountTooYoungError with the concrete month count

	policy := ledger.DefaultEligibilityPolicy()
	asOf := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	user := ledger.User{ID: "usr-1", CreatedAt: asOf.AddDate(0, -2, 0)}

	err := policy.CheckFreeWithdrawal(user, nil, dec("100"), dec("1000"), asOf)
	require.Error(t, err)

	var young *ledger.AccountTooYoungError
	require.ErrorAs(t, err, &young)
	assert.Equal(t, 2, young.MonthsRegistered)
	assert.Equal(t, 3, young.RequiredMonths)
	assert.True(t, errors.Is(err, ledger.ErrEligibilityDenied))
}

func TestCheckFreeWithdrawal_NinetyFiveDaysIsThreeMonths(t *testing.T) {
	// GIVEN: Account registered 95 days before the request, with a full
	//        savings streak and ample balance
	// WHEN: Requesting a withdrawal
	// THEN: The age gate passes (95 days spans 3 calendar months)

	policy := ledger.DefaultEligibilityPolicy()
	asOf := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	user := ledger.User{ID: "usr-1", CreatedAt: asOf.AddDate(0, 0, -95)}
	txs := monthlyDeposits([]time.Time{
		time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.May, 15, 0, 0, 0, 0, time.UTC),
	}, "2500")

	err := policy.CheckFreeWithdrawal(user, txs, dec("100"), dec("7500"), asOf)
	assert.NoError(t, err)
}

func TestCheckFreeWithdrawal_BrokenSavingsStreak(t *testing.T) {
	// GIVEN: Only 2 of the 3 preceding calendar months met the minimum;
	//        April's deposits total 1999
	// WHEN: Requesting a withdrawal in June
	// THEN: InsufficientMonthlySavingsError reporting 2 of 3 months

	policy := ledger.DefaultEligibilityPolicy()
	user := ledger.User{ID: "usr-1", CreatedAt: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)}
	txs := append(monthlyDeposits([]time.Time{
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.May, 28, 0, 0, 0, 0, time.UTC),
	}, "2000"), monthlyDeposits([]time.Time{
		time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC),
	}, "1999")...)
	asOf := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)

	err := policy.CheckFreeWithdrawal(user, txs, dec("100"), dec("10000"), asOf)
	require.Error(t, err)

	var savings *ledger.InsufficientMonthlySavingsError
	require.ErrorAs(t, err, &savings)
	assert.Equal(t, 2, savings.EligibleMonths)
	assert.Equal(t, 3, savings.RequiredMonths)
}

func TestCheckFreeWithdrawal_MonthSumAggregatesAcrossDeposits(t *testing.T) {
	// GIVEN: April holds two deposits of 1000 each
	// WHEN: Counting eligible months
	// THEN: April qualifies; the minimum is on the monthly SUM

	policy := ledger.DefaultEligibilityPolicy()
	user := ledger.User{ID: "usr-1", CreatedAt: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)}
	txs := append(monthlyDeposits([]time.Time{
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.May, 28, 0, 0, 0, 0, time.UTC),
	}, "2000"), monthlyDeposits([]time.Time{
		time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 21, 12, 0, 0, 0, time.UTC),
	}, "1000")...)
	asOf := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)

	err := policy.CheckFreeWithdrawal(user, txs, dec("100"), dec("10000"), asOf)
	assert.NoError(t, err)
}

func TestCheckFreeWithdrawal_CurrentMonthDoesNotCount(t *testing.T) {
	// GIVEN: Heavy deposits in the request month itself, nothing before
	// WHEN: Requesting a withdrawal
	// THEN: The window looks at PRECEDING months only; refused

	policy := ledger.DefaultEligibilityPolicy()
	user := ledger.User{ID: "usr-1", CreatedAt: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)}
	txs := monthlyDeposits([]time.Time{
		time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
	}, "99999")
	asOf := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)

	err := policy.CheckFreeWithdrawal(user, txs, dec("100"), dec("99999"), asOf)
	require.Error(t, err)

	var savings *ledger.InsufficientMonthlySavingsError
	require.ErrorAs(t, err, &savings)
	assert.Equal(t, 0, savings.EligibleMonths)
}

func TestCheckFreeWithdrawal_AmountExceedsBalance(t *testing.T) {
	// GIVEN: An otherwise fully eligible member with 6000 available
	// WHEN: Requesting 6000.01
	// THEN: InsufficientBalanceError with both figures

	policy := ledger.DefaultEligibilityPolicy()
	user := ledger.User{ID: "usr-1", CreatedAt: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)}
	txs := monthlyDeposits([]time.Time{
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.May, 28, 0, 0, 0, 0, time.UTC),
	}, "2000")
	asOf := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)

	err := policy.CheckFreeWithdrawal(user, txs, dec("6000.01"), dec("6000"), asOf)
	require.Error(t, err)

	var balance *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &balance)
	assert.True(t, balance.Requested.Equal(dec("6000.01")))
	assert.True(t, balance.Available.Equal(dec("6000")))
}

func TestCheckFreeWithdrawal_PendingDepositsDoNotCount(t *testing.T) {
	// GIVEN: A pending 2000 deposit in each window month
	// WHEN: Requesting a withdrawal
	// THEN: Pending transactions never feed the streak; refused

	policy := ledger.DefaultEligibilityPolicy()
	user := ledger.User{ID: "usr-1", CreatedAt: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)}
	txs := monthlyDeposits([]time.Time{
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.May, 28, 0, 0, 0, 0, time.UTC),
	}, "2000")
	for i := range txs {
		txs[i].Status = ledger.StatusPending
	}
	asOf := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)

	err := policy.CheckFreeWithdrawal(user, txs, dec("100"), dec("10000"), asOf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrEligibilityDenied))
}
