/*
Package postgres provides a PostgreSQL-backed implementation of
ledger.Store on pgx.

PURPOSE:
  The deployment variant for shared environments. Same contract and
  query shapes as store/sqlite; differences are placeholder style,
  NUMERIC columns for amounts, real timestamps, and constraint-error
  detection via pgconn error codes. Concurrency control is left to the
  database: conditional UPDATE ... WHERE status='pending' statements
  decide races, no in-process locking.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kedimoney/ledger-engine/ledger"
)

// Store implements ledger.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the schema. Production deployments run versioned
// migrations instead; this covers dev and CI databases.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		status TEXT NOT NULL DEFAULT 'pending',
		referral_code TEXT UNIQUE,
		referred_by TEXT REFERENCES users(id),
		estimated_balance NUMERIC(20,6) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		tx_type TEXT NOT NULL,
		amount NUMERIC(20,6) NOT NULL CHECK (amount > 0),
		reference TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);

	CREATE TABLE IF NOT EXISTS stakes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		principal NUMERIC(20,6) NOT NULL CHECK (principal > 0),
		term_days INTEGER NOT NULL,
		rate NUMERIC(8,6) NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);
	CREATE INDEX IF NOT EXISTS idx_stakes_user ON stakes(user_id);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		stake_id TEXT REFERENCES stakes(id),
		amount NUMERIC(20,6) NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL DEFAULT 'pending',
		request_date TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);

	CREATE TABLE IF NOT EXISTS bonuses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount NUMERIC(20,6) NOT NULL CHECK (amount >= 0),
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bonuses_user ON bonuses(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		admin_id TEXT REFERENCES users(id),
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		msg_type TEXT NOT NULL DEFAULT '',
		activity_type TEXT NOT NULL DEFAULT '',
		activity_id TEXT NOT NULL DEFAULT '',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);
	`)
	return err
}

// =============================================================================
// TRANSACTIONAL EXECUTION
// =============================================================================

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db querier
}

func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txView{queries{db: tx}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txView struct {
	queries
}

func (v *txView) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(v)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, first_name, last_name, email, username, phone, password_hash,
	role, status, COALESCE(referral_code, ''), COALESCE(referred_by, ''),
	estimated_balance::text, created_at`

func (q *queries) CreateUser(ctx context.Context, u ledger.User) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO users
		(id, first_name, last_name, email, username, phone, password_hash,
		 role, status, referral_code, referred_by, estimated_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Username, u.Phone, u.PasswordHash,
		u.Role, u.Status, nullString(u.ReferralCode), nullString(string(u.ReferredBy)),
		u.EstimatedBalance.String(), u.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateIdentity
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (q *queries) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (q *queries) GetUserByReferralCode(ctx context.Context, code string) (*ledger.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
}

func (q *queries) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (q *queries) TransitionUser(ctx context.Context, id ledger.UserID, to ledger.ApprovalStatus) error {
	return q.conditionalTransition(ctx, "user",
		`UPDATE users SET status = $1 WHERE id = $2 AND status = $3`,
		`SELECT status FROM users WHERE id = $1`,
		string(id), to)
}

func (q *queries) SetReferralCode(ctx context.Context, id ledger.UserID, code string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET referral_code = $1 WHERE id = $2 AND referral_code IS NULL`, code, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := q.GetUser(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) SetEstimatedBalance(ctx context.Context, id ledger.UserID, balance decimal.Decimal) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET estimated_balance = $1 WHERE id = $2`, balance.String(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*ledger.User, error) {
	u, err := scanUserRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return u, err
}

func scanUserRow(row pgx.Row) (*ledger.User, error) {
	var (
		u       ledger.User
		balance string
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Username, &u.Phone,
		&u.PasswordHash, &u.Role, &u.Status, &u.ReferralCode, &u.ReferredBy, &balance, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if u.EstimatedBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt estimated_balance: %w", err)
	}
	return &u, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const txColumns = `id, user_id, tx_type, amount::text, reference, status, created_at`

func (q *queries) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO transactions (id, user_id, tx_type, amount, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount.String(), tx.Reference, tx.Status, tx.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (q *queries) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, err := scanTransaction(q.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return tx, err
}

func (q *queries) TransactionsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at, id`, id)
}

func (q *queries) PendingTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE status = $1 ORDER BY created_at, id`,
		ledger.StatusPending)
}

func (q *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var (
		tx     ledger.Transaction
		amount string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Type, &amount, &tx.Reference, &tx.Status, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount: %w", err)
	}
	return &tx, nil
}

func (q *queries) TransitionTransaction(ctx context.Context, id ledger.TransactionID, to ledger.ApprovalStatus) error {
	return q.conditionalTransition(ctx, "transaction",
		`UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`,
		`SELECT status FROM transactions WHERE id = $1`,
		string(id), to)
}

// =============================================================================
// STAKES
// =============================================================================

const stakeColumns = `id, user_id, principal::text, term_days, rate::text, start_date, end_date, status`

func (q *queries) CreateStake(ctx context.Context, s ledger.Stake) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO stakes (id, user_id, principal, term_days, rate, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.Principal.String(), s.TermDays, s.Rate.String(),
		s.StartDate.UTC(), s.EndDate.UTC(), s.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create stake: %w", err)
	}
	return nil
}

func (q *queries) GetStake(ctx context.Context, id ledger.StakeID) (*ledger.Stake, error) {
	s, err := scanStake(q.db.QueryRow(ctx, `SELECT `+stakeColumns+` FROM stakes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return s, err
}

func (q *queries) StakesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Stake, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+stakeColumns+` FROM stakes WHERE user_id = $1 ORDER BY start_date, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stakes []ledger.Stake
	for rows.Next() {
		s, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, *s)
	}
	return stakes, rows.Err()
}

func scanStake(row pgx.Row) (*ledger.Stake, error) {
	var (
		s         ledger.Stake
		principal string
		rate      string
	)
	err := row.Scan(&s.ID, &s.UserID, &principal, &s.TermDays, &rate,
		&s.StartDate, &s.EndDate, &s.Status)
	if err != nil {
		return nil, err
	}
	if s.Principal, err = decimal.NewFromString(principal); err != nil {
		return nil, fmt.Errorf("corrupt principal: %w", err)
	}
	if s.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("corrupt rate: %w", err)
	}
	return &s, nil
}

func (q *queries) TransitionStake(ctx context.Context, id ledger.StakeID, from, to ledger.StakeStatus) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE stakes SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = q.db.QueryRow(ctx, `SELECT status FROM stakes WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &ledger.StateTransitionError{Entity: "stake", ID: string(id), Current: current, Wanted: string(to)}
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

const withdrawalColumns = `id, user_id, COALESCE(stake_id, ''), amount::text, status, request_date, processed_at`

func (q *queries) CreateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	var processed any
	if w.ProcessedAt != nil {
		processed = w.ProcessedAt.UTC()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO withdrawals (id, user_id, stake_id, amount, status, request_date, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.UserID, nullString(string(w.StakeID)), w.Amount.String(), w.Status,
		w.RequestDate.UTC(), processed,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

func (q *queries) GetWithdrawal(ctx context.Context, id ledger.WithdrawalID) (*ledger.Withdrawal, error) {
	w, err := scanWithdrawal(q.db.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return w, err
}

func (q *queries) WithdrawalsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Withdrawal, error) {
	return q.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE user_id = $1 ORDER BY request_date, id`, id)
}

func (q *queries) PendingWithdrawals(ctx context.Context) ([]ledger.Withdrawal, error) {
	return q.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE status = $1 ORDER BY request_date, id`,
		ledger.StatusPending)
}

func (q *queries) queryWithdrawals(ctx context.Context, query string, args ...any) ([]ledger.Withdrawal, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ws []ledger.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		ws = append(ws, *w)
	}
	return ws, rows.Err()
}

func scanWithdrawal(row pgx.Row) (*ledger.Withdrawal, error) {
	var (
		w      ledger.Withdrawal
		amount string
	)
	err := row.Scan(&w.ID, &w.UserID, &w.StakeID, &amount, &w.Status, &w.RequestDate, &w.ProcessedAt)
	if err != nil {
		return nil, err
	}
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount: %w", err)
	}
	return &w, nil
}

func (q *queries) TransitionWithdrawal(ctx context.Context, id ledger.WithdrawalID, to ledger.ApprovalStatus, processedAt time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE withdrawals SET status = $1, processed_at = $2 WHERE id = $3 AND status = $4`,
		to, processedAt.UTC(), id, ledger.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return q.transitionFailure(ctx, "withdrawal",
		`SELECT status FROM withdrawals WHERE id = $1`, string(id), to)
}

// =============================================================================
// BONUSES & MESSAGES
// =============================================================================

func (q *queries) CreateBonus(ctx context.Context, b ledger.Bonus) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO bonuses (id, user_id, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.UserID, b.Amount.String(), b.Description, b.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create bonus: %w", err)
	}
	return nil
}

func (q *queries) BonusTotal(ctx context.Context, id ledger.UserID) (decimal.Decimal, error) {
	var total string
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM bonuses WHERE user_id = $1`, id).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(total)
}

func (q *queries) CreateMessage(ctx context.Context, m ledger.Message) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO messages
		(id, user_id, admin_id, subject, body, msg_type, activity_type, activity_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.UserID, nullString(string(m.AdminID)), m.Subject, m.Body, m.Type,
		m.ActivityType, m.ActivityID, m.IsRead, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (q *queries) MessagesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Message, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, COALESCE(admin_id, ''), subject, body, msg_type,
		       activity_type, activity_id, is_read, created_at
		FROM messages WHERE user_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ledger.Message
	for rows.Next() {
		var m ledger.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.AdminID, &m.Subject, &m.Body, &m.Type,
			&m.ActivityType, &m.ActivityID, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (q *queries) MarkMessageRead(ctx context.Context, id ledger.MessageID, owner ledger.UserID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// =============================================================================
// SOLVENCY AGGREGATES
// =============================================================================

// SolvencyInputs runs one aggregate statement; NUMERIC sums stay exact
// and come back as text for decimal parsing.
func (q *queries) SolvencyInputs(ctx context.Context) (ledger.SolvencyInputs, error) {
	var deposits, stakes, balances, approved, pending, bonuses string
	err := q.db.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(amount), 0) FROM transactions
			 WHERE status = 'approved'
			   AND tx_type IN ('tree_plan', 'saving', 'deposit', 'investment'))::text,
			(SELECT COALESCE(SUM(principal), 0) FROM stakes WHERE status = 'active')::text,
			(SELECT COALESCE(SUM(estimated_balance), 0) FROM users WHERE status = 'approved')::text,
			(SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE status = 'approved')::text,
			(SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE status = 'pending')::text,
			(SELECT COALESCE(SUM(amount), 0) FROM bonuses)::text
	`).Scan(&deposits, &stakes, &balances, &approved, &pending, &bonuses)
	if err != nil {
		return ledger.SolvencyInputs{}, err
	}

	var in ledger.SolvencyInputs
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&in.TotalDeposits, deposits},
		{&in.ActiveStakes, stakes},
		{&in.TotalUserBalances, balances},
		{&in.ApprovedWithdrawals, approved},
		{&in.PendingWithdrawals, pending},
		{&in.TotalBonuses, bonuses},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return ledger.SolvencyInputs{}, fmt.Errorf("corrupt aggregate: %w", err)
		}
	}
	return in, nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func (q *queries) conditionalTransition(ctx context.Context, entity, update, lookup, id string, to ledger.ApprovalStatus) error {
	tag, err := q.db.Exec(ctx, update, to, id, ledger.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return q.transitionFailure(ctx, entity, lookup, id, to)
}

func (q *queries) transitionFailure(ctx context.Context, entity, lookup, id string, to ledger.ApprovalStatus) error {
	var current string
	err := q.db.QueryRow(ctx, lookup, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &ledger.StateTransitionError{Entity: entity, ID: id, Current: current, Wanted: string(to)}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// =============================================================================
// STORE - pool-level delegation
// =============================================================================

func (s *Store) q() *queries { return &queries{db: s.pool} }

func (s *Store) CreateUser(ctx context.Context, u ledger.User) error { return s.q().CreateUser(ctx, u) }

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return s.q().GetUser(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	return s.q().GetUserByEmail(ctx, email)
}

func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*ledger.User, error) {
	return s.q().GetUserByReferralCode(ctx, code)
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) { return s.q().ListUsers(ctx) }

func (s *Store) TransitionUser(ctx context.Context, id ledger.UserID, to ledger.ApprovalStatus) error {
	return s.q().TransitionUser(ctx, id, to)
}

func (s *Store) SetReferralCode(ctx context.Context, id ledger.UserID, code string) error {
	return s.q().SetReferralCode(ctx, id, code)
}

func (s *Store) SetEstimatedBalance(ctx context.Context, id ledger.UserID, balance decimal.Decimal) error {
	return s.q().SetEstimatedBalance(ctx, id, balance)
}

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	return s.q().CreateTransaction(ctx, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return s.q().GetTransaction(ctx, id)
}

func (s *Store) TransactionsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	return s.q().TransactionsByUser(ctx, id)
}

func (s *Store) PendingTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return s.q().PendingTransactions(ctx)
}

func (s *Store) TransitionTransaction(ctx context.Context, id ledger.TransactionID, to ledger.ApprovalStatus) error {
	return s.q().TransitionTransaction(ctx, id, to)
}

func (s *Store) CreateStake(ctx context.Context, st ledger.Stake) error {
	return s.q().CreateStake(ctx, st)
}

func (s *Store) GetStake(ctx context.Context, id ledger.StakeID) (*ledger.Stake, error) {
	return s.q().GetStake(ctx, id)
}

func (s *Store) StakesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Stake, error) {
	return s.q().StakesByUser(ctx, id)
}

func (s *Store) TransitionStake(ctx context.Context, id ledger.StakeID, from, to ledger.StakeStatus) error {
	return s.q().TransitionStake(ctx, id, from, to)
}

func (s *Store) CreateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	return s.q().CreateWithdrawal(ctx, w)
}

func (s *Store) GetWithdrawal(ctx context.Context, id ledger.WithdrawalID) (*ledger.Withdrawal, error) {
	return s.q().GetWithdrawal(ctx, id)
}

func (s *Store) WithdrawalsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Withdrawal, error) {
	return s.q().WithdrawalsByUser(ctx, id)
}

func (s *Store) PendingWithdrawals(ctx context.Context) ([]ledger.Withdrawal, error) {
	return s.q().PendingWithdrawals(ctx)
}

func (s *Store) TransitionWithdrawal(ctx context.Context, id ledger.WithdrawalID, to ledger.ApprovalStatus, processedAt time.Time) error {
	return s.q().TransitionWithdrawal(ctx, id, to, processedAt)
}

func (s *Store) CreateBonus(ctx context.Context, b ledger.Bonus) error {
	return s.q().CreateBonus(ctx, b)
}

func (s *Store) BonusTotal(ctx context.Context, id ledger.UserID) (decimal.Decimal, error) {
	return s.q().BonusTotal(ctx, id)
}

func (s *Store) CreateMessage(ctx context.Context, m ledger.Message) error {
	return s.q().CreateMessage(ctx, m)
}

func (s *Store) MessagesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Message, error) {
	return s.q().MessagesByUser(ctx, id)
}

func (s *Store) MarkMessageRead(ctx context.Context, id ledger.MessageID, owner ledger.UserID) error {
	return s.q().MarkMessageRead(ctx, id, owner)
}

func (s *Store) SolvencyInputs(ctx context.Context) (ledger.SolvencyInputs, error) {
	return s.q().SolvencyInputs(ctx)
}
