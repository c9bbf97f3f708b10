/*
Package ledger implements the micro-finance ledger core.

PURPOSE:
  This package contains the domain types and algorithms for a community
  micro-finance platform: members submit deposits, stakes, loans and
  withdrawal requests; admins adjudicate them; and the platform derives
  every balance figure from the underlying records.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: a user-submitted financial event awaiting adjudication
  - Stake: a time-boxed deposit earning a fixed, locked-in rate
  - Withdrawal: a request to liquidate a stake or an arbitrary amount
  - Bonus: an immutable referral credit
  - User/Message: identity and the admin-to-user inbox

DESIGN PRINCIPLES:
  1. Derivability: User.EstimatedBalance is a cache. The authoritative
     figure is always recomputable from source records (balance.go).
  2. Precision: decimal.Decimal for every amount, never binary floats.
  3. Immutability: approved/rejected records are terminal; corrections
     happen through new records, not edits.
  4. Locked rates: a stake keeps the interest rate it was created with,
     even if the rate table changes later.

SEE ALSO:
  - balance.go: the canonical balance derivation
  - approval.go: the pending -> approved/rejected state machine
  - store.go: persistence contract any backing store must honor
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TransactionID string
type StakeID string
type WithdrawalID string
type BonusID string
type MessageID string

// =============================================================================
// STATUSES - closed enumerations, one source of truth for legality checks
// =============================================================================

// ApprovalStatus is the lifecycle of adjudicated records
// (users, transactions, withdrawals).
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// StakeStatus is the lifecycle of a stake. A stake never goes through
// approved/rejected; it is active while earning and withdrawn exactly
// once, on withdrawal approval.
type StakeStatus string

const (
	StakePending   StakeStatus = "pending"
	StakeActive    StakeStatus = "active"
	StakeWithdrawn StakeStatus = "withdrawn"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

type TransactionType string

const (
	TxTreePlan      TransactionType = "tree_plan"
	TxSaving        TransactionType = "saving"
	TxDeposit       TransactionType = "deposit"
	TxInvestment    TransactionType = "investment"
	TxLoan          TransactionType = "loan"
	TxLoanRepayment TransactionType = "loan_repayment"
	TxWithdrawal    TransactionType = "withdrawal"
	TxStake         TransactionType = "stake"
)

// KnownTransactionType reports whether t is one of the accepted types.
func KnownTransactionType(t TransactionType) bool {
	switch t {
	case TxTreePlan, TxSaving, TxDeposit, TxInvestment,
		TxLoan, TxLoanRepayment, TxWithdrawal, TxStake:
		return true
	}
	return false
}

// IsQualifyingDeposit reports whether t counts as a credit toward
// balance and toward the monthly-savings eligibility check.
// Loan disbursements are deliberately NOT credits: a loan is recorded
// for audit but does not enter the deposit sum.
func (t TransactionType) IsQualifyingDeposit() bool {
	switch t {
	case TxTreePlan, TxSaving, TxDeposit, TxInvestment:
		return true
	}
	return false
}

// IsDebit reports whether an approved transaction of this type reduces
// the available balance.
func (t TransactionType) IsDebit() bool {
	return t == TxWithdrawal || t == TxLoanRepayment
}

// =============================================================================
// ENTITIES
// =============================================================================

type User struct {
	ID           UserID
	FirstName    string
	LastName     string
	Email        string
	Username     string
	Phone        string
	PasswordHash string
	Role         Role
	Status       ApprovalStatus
	ReferralCode string
	ReferredBy   UserID // referrer's ID, empty when the user signed up without a code

	// EstimatedBalance is a display cache, refreshed by approvals and
	// on-demand recomputes. Never authoritative.
	EstimatedBalance decimal.Decimal

	CreatedAt time.Time
}

type Transaction struct {
	ID        TransactionID
	UserID    UserID
	Type      TransactionType
	Amount    decimal.Decimal
	Reference string // opaque external reference (payment id, media ref)
	Status    ApprovalStatus
	CreatedAt time.Time
}

type Stake struct {
	ID        StakeID
	UserID    UserID
	Principal decimal.Decimal
	TermDays  int
	// Rate is locked in at creation from the term table and never
	// recomputed, even if the table changes later.
	Rate      decimal.Decimal
	StartDate time.Time
	EndDate   time.Time
	Status    StakeStatus
}

// Matured reports whether the stake's term has elapsed at asOf.
// Maturity does not change status; it only gates withdrawal.
func (s Stake) Matured(asOf time.Time) bool {
	return !asOf.Before(s.EndDate)
}

// Payout returns the full stake payout: principal plus full-term interest.
// Stake withdrawals are all-or-nothing, never partial.
func (s Stake) Payout() decimal.Decimal {
	return s.Principal.Add(s.Principal.Mul(s.Rate))
}

type Withdrawal struct {
	ID          WithdrawalID
	UserID      UserID
	StakeID     StakeID // empty for free-amount withdrawals
	Amount      decimal.Decimal
	Status      ApprovalStatus
	RequestDate time.Time
	ProcessedAt *time.Time // set on approval/rejection
}

// StakeBound reports whether this withdrawal liquidates a specific stake.
func (w Withdrawal) StakeBound() bool { return w.StakeID != "" }

type Bonus struct {
	ID          BonusID
	UserID      UserID
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}

type Message struct {
	ID           MessageID
	UserID       UserID // recipient
	AdminID      UserID // author, empty for system-generated
	Subject      string
	Body         string
	Type         string
	ActivityType string // "transaction", "withdrawal", "" for manual notes
	ActivityID   string
	IsRead       bool
	CreatedAt    time.Time
}

// =============================================================================
// STAKE TERM TABLE
// =============================================================================

// Term->rate table: 30 days -> 5%, 90 days -> 15%, 180 days -> 30%.
// The rate is injected into the Stake at creation time; existing stakes
// keep their locked-in rate regardless of later table changes.
var stakeRates = map[int]decimal.Decimal{
	30:  decimal.NewFromFloat(0.05),
	90:  decimal.NewFromFloat(0.15),
	180: decimal.NewFromFloat(0.30),
}

// RateForTerm returns the locked-in interest rate for a stake term.
func RateForTerm(termDays int) (decimal.Decimal, error) {
	rate, ok := stakeRates[termDays]
	if !ok {
		return decimal.Zero, &ValidationError{
			Field:   "term_days",
			Message: "unknown stake term: must be 30, 90 or 180 days",
		}
	}
	return rate, nil
}

// StakeTerms lists the accepted terms in ascending order.
func StakeTerms() []int { return []int{30, 90, 180} }
