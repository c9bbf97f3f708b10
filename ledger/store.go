/*
store.go - Persistence contract the ledger core requires of any store

PURPOSE:
  Defines the interface between the domain logic and the database.
  Two production implementations exist (SQLite and Postgres); tests use
  the in-memory store. The core takes a Store as an explicit dependency
  in its constructor; lifecycle (open/close) belongs to the composing
  application.

CONDITIONAL TRANSITIONS:
  Every Transition* method is a conditional update: it moves the row
  from an expected current state to the next one, and fails with
  ErrInvalidStateTransition when the row is not in that state. Under
  two concurrent approval attempts, the store guarantees exactly one
  winner (UPDATE ... WHERE status='pending', affected-row count), with
  no application-level locking.

ATOMICITY:
  WithTx runs a function against a transactional view of the store.
  Approval side effects (status flip + bonus insert + message insert +
  balance cache write) always run inside one WithTx so a crash never
  leaves partial effects.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract for the six ledger relations.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u User) error // ErrDuplicateIdentity on email/username collision
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	TransitionUser(ctx context.Context, id UserID, to ApprovalStatus) error
	SetReferralCode(ctx context.Context, id UserID, code string) error // only when currently empty
	SetEstimatedBalance(ctx context.Context, id UserID, balance decimal.Decimal) error

	// Transactions
	CreateTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	TransactionsByUser(ctx context.Context, id UserID) ([]Transaction, error)
	PendingTransactions(ctx context.Context) ([]Transaction, error)
	TransitionTransaction(ctx context.Context, id TransactionID, to ApprovalStatus) error

	// Stakes
	CreateStake(ctx context.Context, s Stake) error
	GetStake(ctx context.Context, id StakeID) (*Stake, error)
	StakesByUser(ctx context.Context, id UserID) ([]Stake, error)
	TransitionStake(ctx context.Context, id StakeID, from, to StakeStatus) error

	// Withdrawals
	CreateWithdrawal(ctx context.Context, w Withdrawal) error
	GetWithdrawal(ctx context.Context, id WithdrawalID) (*Withdrawal, error)
	WithdrawalsByUser(ctx context.Context, id UserID) ([]Withdrawal, error)
	PendingWithdrawals(ctx context.Context) ([]Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id WithdrawalID, to ApprovalStatus, processedAt time.Time) error

	// Bonuses (append-only, always credits)
	CreateBonus(ctx context.Context, b Bonus) error
	BonusTotal(ctx context.Context, id UserID) (decimal.Decimal, error)

	// Messages
	CreateMessage(ctx context.Context, m Message) error
	MessagesByUser(ctx context.Context, id UserID) ([]Message, error)
	MarkMessageRead(ctx context.Context, id MessageID, owner UserID) error

	// SolvencyInputs aggregates all six relations in a single pass.
	SolvencyInputs(ctx context.Context) (SolvencyInputs, error)

	// WithTx executes fn against a transactional view. fn returning an
	// error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
