/*
service.go - Member-facing ledger operations

PURPOSE:
  Orchestrates the member-facing lifecycle: signup, transaction
  submission, stake creation, withdrawal requests and balance reads.
  Every operation validates input before touching the store and returns
  typed domain errors; nothing here is silently swallowed.

  The admin-facing approval state machine lives in approval.go; both
  sets of operations hang off the same Service so they share the store,
  the bonus policy and the eligibility gate.

AUTHORIZATION:
  The HTTP layer supplies (userId, role) from its auth collaborator;
  the core trusts that input verbatim and only does ownership checks
  (a member can only touch their own stakes and messages).
*/
package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Service exposes the ledger core. Construct with NewService and share
// freely: all state lives in the store.
type Service struct {
	Store       Store
	Bonus       BonusPolicy
	Eligibility EligibilityPolicy

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		Store:       store,
		Bonus:       DefaultBonusPolicy(),
		Eligibility: DefaultEligibilityPolicy(),
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// NowOrDefault exposes the service clock so collaborating layers stamp
// responses with the same time source the core uses.
func (s *Service) NowOrDefault() time.Time {
	return s.now()
}

// =============================================================================
// SIGNUP & PROFILE
// =============================================================================

// RegisterUser creates a pending member account. referralCode, when
// present, links the new member to the referrer owning that code.
func (s *Service) RegisterUser(ctx context.Context, u User, referralCode string) (*User, error) {
	if strings.TrimSpace(u.Email) == "" {
		return nil, &ValidationError{Field: "email", Message: "must not be empty"}
	}
	if strings.TrimSpace(u.Username) == "" {
		return nil, &ValidationError{Field: "username", Message: "must not be empty"}
	}

	if referralCode != "" {
		referrer, err := s.Store.GetUserByReferralCode(ctx, referralCode)
		if err != nil {
			if IsNotFound(err) {
				return nil, &ValidationError{Field: "referral_code", Message: "unknown referral code"}
			}
			return nil, err
		}
		u.ReferredBy = referrer.ID
	}

	if u.ID == "" {
		u.ID = UserID(newID("usr"))
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.Status = StatusPending
	u.EstimatedBalance = decimal.Zero
	u.CreatedAt = s.now()

	if err := s.Store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureReferralCode returns the user's referral code, generating and
// persisting one on first read.
func (s *Service) EnsureReferralCode(ctx context.Context, id UserID) (string, error) {
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	if u.ReferralCode != "" {
		return u.ReferralCode, nil
	}
	code := newReferralCode()
	if err := s.Store.SetReferralCode(ctx, id, code); err != nil {
		return "", err
	}
	return code, nil
}

// =============================================================================
// TRANSACTION SUBMISSION
// =============================================================================

// SubmitTransaction records a pending transaction for adjudication.
func (s *Service) SubmitTransaction(
	ctx context.Context,
	userID UserID,
	txType TransactionType,
	amount decimal.Decimal,
	reference string,
) (*Transaction, error) {
	if !KnownTransactionType(txType) {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown transaction type %q", txType)}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	tx := Transaction{
		ID:        TransactionID(newID("txn")),
		UserID:    userID,
		Type:      txType,
		Amount:    amount,
		Reference: reference,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// =============================================================================
// STAKES
// =============================================================================

// OpenStake creates an active stake with the rate locked in from the
// term table at creation time.
func (s *Service) OpenStake(
	ctx context.Context,
	userID UserID,
	principal decimal.Decimal,
	termDays int,
) (*Stake, error) {
	if !principal.IsPositive() {
		return nil, &ValidationError{Field: "principal", Message: "must be positive"}
	}
	rate, err := RateForTerm(termDays)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	start := s.now()
	stake := Stake{
		ID:        StakeID(newID("stk")),
		UserID:    userID,
		Principal: principal,
		TermDays:  termDays,
		Rate:      rate,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, termDays),
		Status:    StakeActive,
	}
	if err := s.Store.CreateStake(ctx, stake); err != nil {
		return nil, err
	}
	return &stake, nil
}

// =============================================================================
// WITHDRAWAL REQUESTS
// =============================================================================

// RequestStakeWithdrawal requests liquidation of a matured stake.
// Amount is always the full payout: principal + principal*rate.
func (s *Service) RequestStakeWithdrawal(ctx context.Context, userID UserID, stakeID StakeID) (*Withdrawal, error) {
	stake, err := s.Store.GetStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	if stake.UserID != userID {
		return nil, ErrNotFound
	}
	if err := CheckStakeWithdrawal(*stake, s.now()); err != nil {
		return nil, err
	}

	w := Withdrawal{
		ID:          WithdrawalID(newID("wdr")),
		UserID:      userID,
		StakeID:     stakeID,
		Amount:      stake.Payout(),
		Status:      StatusPending,
		RequestDate: s.now(),
	}
	if err := s.Store.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	return &w, nil
}

// RequestWithdrawal requests a free-amount withdrawal against the
// derived balance, gated by the eligibility policy.
func (s *Service) RequestWithdrawal(ctx context.Context, userID UserID, amount decimal.Decimal) (*Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	user, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	asOf := s.now()
	transactions, err := s.Store.TransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.balanceFrom(ctx, s.Store, userID, transactions, asOf)
	if err != nil {
		return nil, err
	}
	if err := s.Eligibility.CheckFreeWithdrawal(*user, transactions, amount, breakdown.Available, asOf); err != nil {
		return nil, err
	}

	w := Withdrawal{
		ID:          WithdrawalID(newID("wdr")),
		UserID:      userID,
		Amount:      amount,
		Status:      StatusPending,
		RequestDate: asOf,
	}
	if err := s.Store.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	return &w, nil
}

// =============================================================================
// BALANCE READS
// =============================================================================

// Balance derives the user's balance from source records at asOf.
// Read-only and side-effect free.
func (s *Service) Balance(ctx context.Context, userID UserID, asOf time.Time) (BalanceBreakdown, error) {
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return BalanceBreakdown{}, err
	}
	transactions, err := s.Store.TransactionsByUser(ctx, userID)
	if err != nil {
		return BalanceBreakdown{}, err
	}
	return s.balanceFrom(ctx, s.Store, userID, transactions, asOf)
}

// RefreshBalance recomputes the balance and persists the estimated
// balance cache.
func (s *Service) RefreshBalance(ctx context.Context, userID UserID) (BalanceBreakdown, error) {
	breakdown, err := s.Balance(ctx, userID, s.now())
	if err != nil {
		return BalanceBreakdown{}, err
	}
	if err := s.Store.SetEstimatedBalance(ctx, userID, breakdown.Available); err != nil {
		return BalanceBreakdown{}, err
	}
	return breakdown, nil
}

// balanceFrom finishes the derivation given already-loaded transactions.
// store is passed explicitly so approval.go can reuse it inside WithTx.
func (s *Service) balanceFrom(
	ctx context.Context,
	store Store,
	userID UserID,
	transactions []Transaction,
	asOf time.Time,
) (BalanceBreakdown, error) {
	stakes, err := store.StakesByUser(ctx, userID)
	if err != nil {
		return BalanceBreakdown{}, err
	}
	bonusTotal, err := store.BonusTotal(ctx, userID)
	if err != nil {
		return BalanceBreakdown{}, err
	}
	return ComputeBalance(transactions, stakes, bonusTotal, asOf), nil
}

// =============================================================================
// SOLVENCY
// =============================================================================

// Solvency builds the company-wide assets/liabilities report.
func (s *Service) Solvency(ctx context.Context) (SolvencyReport, error) {
	inputs, err := s.Store.SolvencyInputs(ctx)
	if err != nil {
		return SolvencyReport{}, err
	}
	return BuildSolvencyReport(inputs, s.now()), nil
}

// =============================================================================
// INBOX
// =============================================================================

func (s *Service) Inbox(ctx context.Context, userID UserID) ([]Message, error) {
	return s.Store.MessagesByUser(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, id MessageID, owner UserID) error {
	return s.Store.MarkMessageRead(ctx, id, owner)
}

// =============================================================================
// ID GENERATION
// =============================================================================

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newID(prefix string) string {
	return fmt.Sprintf("%s-%d%04d", prefix, time.Now().UnixNano(), rand.Intn(10000))
}

func newReferralCode() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return "KD-" + string(b)
}
