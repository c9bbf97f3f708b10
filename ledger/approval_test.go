/*
approval_test.go - Tests for the admin approval state machine

CORE DESIGN:
- pending -> approved | rejected, terminal both ways
- A second decision attempt FAILS, it never silently succeeds
- Under concurrent approvals exactly one attempt wins
- Side effects (bonus, message, balance cache) commit with the decision
*/
package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kedimoney/ledger-engine/ledger"
)

// =============================================================================
// TRANSACTION DECISIONS
// =============================================================================

func TestDecideTransaction_ApproveFlipsStatusAndRefreshesBalance(t *testing.T) {
	// GIVEN: A pending 5000 deposit
	// WHEN: An admin approves it
	// THEN: Status flips, the owner gets a message, the balance cache
	//       reflects the new deposit

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))
	tx, err := svc.SubmitTransaction(context.Background(), "usr-1", ledger.TxDeposit, dec("5000"), "")
	require.NoError(t, err)

	err = svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeApprove, "usr-admin")
	require.NoError(t, err)

	stored, err := mem.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, stored.Status)

	u, err := mem.GetUser(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.True(t, u.EstimatedBalance.Equal(dec("5000")), "cache = %s", u.EstimatedBalance)

	msgs, err := mem.MessagesByUser(context.Background(), "usr-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Transaction approved", msgs[0].Subject)
	assert.Equal(t, string(tx.ID), msgs[0].ActivityID)
}

func TestDecideTransaction_SecondDecisionFails(t *testing.T) {
	// GIVEN: A transaction already approved
	// WHEN: Approving again, then rejecting
	// THEN: Both fail with the state transition error; the record and
	//       the balance are untouched

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))
	tx, err := svc.SubmitTransaction(context.Background(), "usr-1", ledger.TxDeposit, dec("5000"), "")
	require.NoError(t, err)
	require.NoError(t, svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeApprove, "usr-admin"))

	err = svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeApprove, "usr-admin")
	assert.True(t, errors.Is(err, ledger.ErrInvalidStateTransition))

	err = svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeReject, "usr-admin")
	assert.True(t, errors.Is(err, ledger.ErrInvalidStateTransition))

	u, err := mem.GetUser(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.True(t, u.EstimatedBalance.Equal(dec("5000")), "no double credit")
}

func TestDecideTransaction_RejectLeavesBalanceUntouched(t *testing.T) {
	// GIVEN: A pending 5000 deposit
	// WHEN: An admin rejects it
	// THEN: The owner is notified but no balance or bonus moves

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))
	tx, err := svc.SubmitTransaction(context.Background(), "usr-1", ledger.TxDeposit, dec("5000"), "")
	require.NoError(t, err)

	require.NoError(t, svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeReject, "usr-admin"))

	u, err := mem.GetUser(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.True(t, u.EstimatedBalance.IsZero())

	msgs, err := mem.MessagesByUser(context.Background(), "usr-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Transaction rejected", msgs[0].Subject)
}

func TestDecideTransaction_ConcurrentApprovals_ExactlyOneWinner(t *testing.T) {
	// GIVEN: One pending transaction and 16 admins racing to approve it
	// WHEN: All decisions run concurrently
	// THEN: Exactly one succeeds; the bonus and balance apply once

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-ref", testNow.AddDate(-1, 0, 0))
	code, err := svc.EnsureReferralCode(context.Background(), "usr-ref")
	require.NoError(t, err)

	// The referral link makes the race also cover the bonus path.
	referred, err := svc.RegisterUser(context.Background(), ledger.User{
		Email: "racer@example.com", Username: "racer",
	}, code)
	require.NoError(t, err)

	tx, err := svc.SubmitTransaction(context.Background(), referred.ID, ledger.TxTreePlan, dec("1000"), "")
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeApprove, "usr-admin")
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.True(t, errors.Is(err, ledger.ErrInvalidStateTransition), "loser error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one approval must win")

	total, err := mem.BonusTotal(context.Background(), "usr-ref")
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("100")), "bonus applied once, got %s", total)
}

// =============================================================================
// REFERRAL BONUS SIDE EFFECTS
// =============================================================================

func TestDecideTransaction_BonusGoesToReferrer(t *testing.T) {
	// GIVEN: usr-1 was referred by usr-ref; a pending tree plan of 1500
	// WHEN: The transaction is approved
	// THEN: usr-ref is credited floor(150) and their cache is refreshed

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-ref", testNow.AddDate(-1, 0, 0))
	code, err := svc.EnsureReferralCode(context.Background(), "usr-ref")
	require.NoError(t, err)

	referred, err := svc.RegisterUser(context.Background(), ledger.User{
		Email: "ref@example.com", Username: "referred",
	}, code)
	require.NoError(t, err)

	tx, err := svc.SubmitTransaction(context.Background(), referred.ID, ledger.TxTreePlan, dec("1500"), "")
	require.NoError(t, err)
	require.NoError(t, svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeApprove, "usr-admin"))

	total, err := mem.BonusTotal(context.Background(), "usr-ref")
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("150")), "referrer bonus = %s", total)

	referrer, err := mem.GetUser(context.Background(), "usr-ref")
	require.NoError(t, err)
	assert.True(t, referrer.EstimatedBalance.Equal(dec("150")), "referrer cache = %s", referrer.EstimatedBalance)

	// The owner keeps the deposit but not the bonus.
	ownerTotal, err := mem.BonusTotal(context.Background(), referred.ID)
	require.NoError(t, err)
	assert.True(t, ownerTotal.IsZero())
}

func TestDecideTransaction_BonusGoesToOwnerWithoutReferrer(t *testing.T) {
	// GIVEN: A member who signed up without a referral code
	// WHEN: Their 1000 tree plan is approved
	// THEN: The reward lands on their own account

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))

	tx, err := svc.SubmitTransaction(context.Background(), "usr-1", ledger.TxTreePlan, dec("1000"), "")
	require.NoError(t, err)
	require.NoError(t, svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeApprove, "usr-admin"))

	total, err := mem.BonusTotal(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("100")))

	// Balance cache = 1000 deposit + 100 bonus.
	u, err := mem.GetUser(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.True(t, u.EstimatedBalance.Equal(dec("1100")), "cache = %s", u.EstimatedBalance)
}

func TestDecideTransaction_SubThresholdTreePlanEarnsNoBonus(t *testing.T) {
	// GIVEN: A pending tree plan of 999
	// WHEN: Approved
	// THEN: The deposit counts, no bonus row exists

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))

	tx, err := svc.SubmitTransaction(context.Background(), "usr-1", ledger.TxTreePlan, dec("999"), "")
	require.NoError(t, err)
	require.NoError(t, svc.DecideTransaction(context.Background(), tx.ID, ledger.OutcomeApprove, "usr-admin"))

	total, err := mem.BonusTotal(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	u, err := mem.GetUser(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.True(t, u.EstimatedBalance.Equal(dec("999")))
}

// =============================================================================
// WITHDRAWAL DECISIONS
// =============================================================================

func TestDecideWithdrawal_ApproveStakeBound_ClosesStake(t *testing.T) {
	// GIVEN: A matured 90-day stake of 100000 at 15% with a pending
	//        withdrawal for the 115000 payout
	// WHEN: An admin approves the withdrawal
	// THEN: The withdrawal is approved with a processed date and the
	//       stake flips to withdrawn

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))

	opened := testNow.AddDate(0, 0, -90)
	svc.Now = func() time.Time { return opened }
	s, err := svc.OpenStake(context.Background(), "usr-1", dec("100000"), 90)
	require.NoError(t, err)

	svc.Now = func() time.Time { return testNow }
	w, err := svc.RequestStakeWithdrawal(context.Background(), "usr-1", s.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DecideWithdrawal(context.Background(), w.ID, ledger.OutcomeApprove, "usr-admin"))

	storedW, err := mem.GetWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, storedW.Status)
	require.NotNil(t, storedW.ProcessedAt)
	assert.Equal(t, testNow, *storedW.ProcessedAt)

	storedS, err := mem.GetStake(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StakeWithdrawn, storedS.Status)
}

func TestDecideWithdrawal_RejectLeavesStakeActive(t *testing.T) {
	// GIVEN: A matured stake with a pending withdrawal
	// WHEN: An admin rejects the withdrawal
	// THEN: The stake stays active and can be withdrawn later

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))

	opened := testNow.AddDate(0, 0, -30)
	svc.Now = func() time.Time { return opened }
	s, err := svc.OpenStake(context.Background(), "usr-1", dec("5000"), 30)
	require.NoError(t, err)

	svc.Now = func() time.Time { return testNow }
	w, err := svc.RequestStakeWithdrawal(context.Background(), "usr-1", s.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DecideWithdrawal(context.Background(), w.ID, ledger.OutcomeReject, "usr-admin"))

	storedS, err := mem.GetStake(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StakeActive, storedS.Status)

	// A fresh request on the still-active stake is legal.
	_, err = svc.RequestStakeWithdrawal(context.Background(), "usr-1", s.ID)
	assert.NoError(t, err)
}

func TestDecideWithdrawal_SecondDecisionFails(t *testing.T) {
	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))
	seedSavingsStreak(t, mem, "usr-1")

	w, err := svc.RequestWithdrawal(context.Background(), "usr-1", dec("1000"))
	require.NoError(t, err)

	require.NoError(t, svc.DecideWithdrawal(context.Background(), w.ID, ledger.OutcomeApprove, "usr-admin"))
	err = svc.DecideWithdrawal(context.Background(), w.ID, ledger.OutcomeApprove, "usr-admin")
	assert.True(t, errors.Is(err, ledger.ErrInvalidStateTransition))
}

func TestDecideWithdrawal_ConcurrentStakeWithdrawals_SinglePayout(t *testing.T) {
	// GIVEN: Two pending withdrawals bound to the same matured stake
	//        (requested before either was decided)
	// WHEN: Both are approved concurrently
	// THEN: Only one wins; the stake flips to withdrawn exactly once

	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))

	opened := testNow.AddDate(0, 0, -90)
	svc.Now = func() time.Time { return opened }
	s, err := svc.OpenStake(context.Background(), "usr-1", dec("100000"), 90)
	require.NoError(t, err)

	svc.Now = func() time.Time { return testNow }
	w1, err := svc.RequestStakeWithdrawal(context.Background(), "usr-1", s.ID)
	require.NoError(t, err)
	w2, err := svc.RequestStakeWithdrawal(context.Background(), "usr-1", s.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []ledger.WithdrawalID{w1.ID, w2.ID} {
		wg.Add(1)
		go func(id ledger.WithdrawalID) {
			defer wg.Done()
			results <- svc.DecideWithdrawal(context.Background(), id, ledger.OutcomeApprove, "usr-admin")
		}(id)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.True(t, errors.Is(err, ledger.ErrInvalidStateTransition), "loser error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "the stake can only pay out once")

	storedS, err := mem.GetStake(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StakeWithdrawn, storedS.Status)
}

// =============================================================================
// USER DECISIONS
// =============================================================================

func TestDecideUser_ApproveActivatesAccount(t *testing.T) {
	svc, mem := newTestService(t, testNow)

	u, err := svc.RegisterUser(context.Background(), ledger.User{
		Email: "amara@example.com", Username: "amara",
	}, "")
	require.NoError(t, err)

	require.NoError(t, svc.DecideUser(context.Background(), u.ID, ledger.OutcomeApprove, "usr-admin"))

	stored, err := mem.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, stored.Status)

	msgs, err := mem.MessagesByUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Account approved", msgs[0].Subject)
}

func TestDecideUser_RejectedAccountStaysRejected(t *testing.T) {
	svc, mem := newTestService(t, testNow)

	u, err := svc.RegisterUser(context.Background(), ledger.User{
		Email: "amara@example.com", Username: "amara",
	}, "")
	require.NoError(t, err)

	require.NoError(t, svc.DecideUser(context.Background(), u.ID, ledger.OutcomeReject, "usr-admin"))

	err = svc.DecideUser(context.Background(), u.ID, ledger.OutcomeApprove, "usr-admin")
	assert.True(t, errors.Is(err, ledger.ErrInvalidStateTransition))

	stored, err := mem.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, stored.Status)
}

func TestDecide_UnknownOutcomeRejected(t *testing.T) {
	svc, mem := newTestService(t, testNow)
	seedUser(t, mem, "usr-1", testNow.AddDate(-1, 0, 0))

	err := svc.DecideUser(context.Background(), "usr-1", ledger.Outcome("maybe"), "usr-admin")
	var v *ledger.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "outcome", v.Field)
}
