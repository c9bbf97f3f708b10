/*
approval.go - The admin approval state machine

PURPOSE:
  Governs the legal lifecycle transitions:

    Transaction:  pending -> approved | rejected   (terminal both ways)
    Withdrawal:   pending -> approved | rejected   (terminal both ways)
    User:         pending -> approved | rejected
    Stake:        active  -> withdrawn             (on withdrawal approval)

  Approving an already-decided entity always fails with
  ErrInvalidStateTransition; it never silently succeeds and never
  double-applies side effects.

ATOMICITY:
  Every decision runs inside one store transaction: the status flip,
  the bonus insert, the notification message and the balance cache
  write commit together or not at all. Under concurrent approval
  attempts the conditional status update picks exactly one winner.

SIDE EFFECTS ON APPROVE:
  Transaction: bonus per BonusPolicy (credited to the referrer when the
  member was referred, otherwise to the member), message to the owner,
  estimated-balance refresh for everyone whose balance moved.

  Withdrawal: processed date set; a stake-bound withdrawal flips the
  stake to withdrawn (re-checking maturity at approval time); message;
  owner balance refresh.
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

func (o Outcome) status() (ApprovalStatus, error) {
	switch o {
	case OutcomeApprove:
		return StatusApproved, nil
	case OutcomeReject:
		return StatusRejected, nil
	}
	return "", &ValidationError{Field: "outcome", Message: fmt.Sprintf("unknown outcome %q", o)}
}

// =============================================================================
// TRANSACTION DECISIONS
// =============================================================================

// DecideTransaction adjudicates a pending transaction.
func (s *Service) DecideTransaction(ctx context.Context, id TransactionID, outcome Outcome, adminID UserID) error {
	target, err := outcome.status()
	if err != nil {
		return err
	}

	return s.Store.WithTx(ctx, func(store Store) error {
		tx, err := store.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := store.TransitionTransaction(ctx, id, target); err != nil {
			return err
		}

		if target == StatusRejected {
			return store.CreateMessage(ctx, decisionMessage(
				tx.UserID, adminID, "transaction", string(id),
				"Transaction rejected",
				fmt.Sprintf("Your %s of %s was rejected.", tx.Type, tx.Amount),
				s.now(),
			))
		}

		owner, err := store.GetUser(ctx, tx.UserID)
		if err != nil {
			return err
		}

		if reward, ok := s.Bonus.Reward(tx.Type, tx.Amount); ok {
			recipient := owner.ID
			description := "reward for approved tree plan"
			if owner.ReferredBy != "" {
				recipient = owner.ReferredBy
				description = fmt.Sprintf("referral reward for %s", owner.Username)
			}
			if err := store.CreateBonus(ctx, Bonus{
				ID:          BonusID(newID("bns")),
				UserID:      recipient,
				Amount:      reward,
				Description: description,
				CreatedAt:   s.now(),
			}); err != nil {
				return err
			}
			if recipient != owner.ID {
				if err := s.refreshBalanceIn(ctx, store, recipient); err != nil {
					return err
				}
			}
		}

		if err := store.CreateMessage(ctx, decisionMessage(
			tx.UserID, adminID, "transaction", string(id),
			"Transaction approved",
			fmt.Sprintf("Your %s of %s was approved.", tx.Type, tx.Amount),
			s.now(),
		)); err != nil {
			return err
		}

		return s.refreshBalanceIn(ctx, store, tx.UserID)
	})
}

// =============================================================================
// WITHDRAWAL DECISIONS
// =============================================================================

// DecideWithdrawal adjudicates a pending withdrawal. Approving a
// stake-bound withdrawal re-checks maturity and flips the stake to
// withdrawn in the same transaction.
func (s *Service) DecideWithdrawal(ctx context.Context, id WithdrawalID, outcome Outcome, adminID UserID) error {
	target, err := outcome.status()
	if err != nil {
		return err
	}

	return s.Store.WithTx(ctx, func(store Store) error {
		w, err := store.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		if target == StatusApproved && w.StakeBound() {
			stake, err := store.GetStake(ctx, w.StakeID)
			if err != nil {
				return err
			}
			if err := CheckStakeWithdrawal(*stake, now); err != nil {
				return err
			}
		}

		if err := store.TransitionWithdrawal(ctx, id, target, now); err != nil {
			return err
		}

		if target == StatusRejected {
			return store.CreateMessage(ctx, decisionMessage(
				w.UserID, adminID, "withdrawal", string(id),
				"Withdrawal rejected",
				fmt.Sprintf("Your withdrawal of %s was rejected.", w.Amount),
				now,
			))
		}

		if w.StakeBound() {
			if err := store.TransitionStake(ctx, w.StakeID, StakeActive, StakeWithdrawn); err != nil {
				return err
			}
		}

		if err := store.CreateMessage(ctx, decisionMessage(
			w.UserID, adminID, "withdrawal", string(id),
			"Withdrawal approved",
			fmt.Sprintf("Your withdrawal of %s was approved.", w.Amount),
			now,
		)); err != nil {
			return err
		}

		return s.refreshBalanceIn(ctx, store, w.UserID)
	})
}

// =============================================================================
// USER DECISIONS
// =============================================================================

// DecideUser adjudicates a pending signup.
func (s *Service) DecideUser(ctx context.Context, id UserID, outcome Outcome, adminID UserID) error {
	target, err := outcome.status()
	if err != nil {
		return err
	}

	return s.Store.WithTx(ctx, func(store Store) error {
		if err := store.TransitionUser(ctx, id, target); err != nil {
			return err
		}

		subject, body := "Account approved", "Welcome! Your account is now active."
		if target == StatusRejected {
			subject, body = "Account rejected", "Your signup was not approved."
		}
		return store.CreateMessage(ctx, decisionMessage(id, adminID, "", "", subject, body, s.now()))
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// refreshBalanceIn recomputes and persists the estimated-balance cache
// using the transactional store view, so the cache write commits with
// the decision it belongs to.
func (s *Service) refreshBalanceIn(ctx context.Context, store Store, userID UserID) error {
	transactions, err := store.TransactionsByUser(ctx, userID)
	if err != nil {
		return err
	}
	breakdown, err := s.balanceFrom(ctx, store, userID, transactions, s.now())
	if err != nil {
		return err
	}
	return store.SetEstimatedBalance(ctx, userID, breakdown.Available)
}

func decisionMessage(to, admin UserID, activityType, activityID, subject, body string, at time.Time) Message {
	return Message{
		ID:           MessageID(newID("msg")),
		UserID:       to,
		AdminID:      admin,
		Subject:      subject,
		Body:         body,
		Type:         "decision",
		ActivityType: activityType,
		ActivityID:   activityID,
		CreatedAt:    at,
	}
}
