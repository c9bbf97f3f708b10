/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  The default production store. The same schema and query shapes apply
  to the Postgres variant (store/postgres) - only placeholder style and
  constraint-error detection differ.

KEY TABLES:
  users:        identity + estimated_balance cache
  transactions: user-submitted financial events (append-mostly)
  stakes:       time-boxed deposits with locked-in rates
  withdrawals:  stake-bound and free-amount liquidation requests
  bonuses:      immutable referral credits
  messages:     admin-to-user inbox

CONDITIONAL TRANSITIONS:
  Status flips are single UPDATE ... WHERE status='pending' statements
  checked via affected-row count. Two concurrent approvals of the same
  row produce exactly one success; the loser gets the current state
  back in a StateTransitionError.

AMOUNTS:
  Stored as TEXT and summed in Go with decimal.Decimal. SQLite's
  numeric affinity is floating point, which is not acceptable for
  money, so aggregation never happens in SQL here.

WAL MODE:
  Opened with WAL and foreign keys on, same as the rest of the
  platform's SQLite usage.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/kedimoney/ledger-engine/ledger"
)

// Store implements ledger.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and
	// sidesteps SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
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
		referral_code TEXT,
		referred_by TEXT REFERENCES users(id),
		estimated_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_referral_code
		ON users(referral_code) WHERE referral_code IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
	CREATE INDEX IF NOT EXISTS idx_transactions_user_status_type
		ON transactions(user_id, status, tx_type);

	CREATE TABLE IF NOT EXISTS stakes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		principal TEXT NOT NULL,
		term_days INTEGER NOT NULL,
		rate TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE INDEX IF NOT EXISTS idx_stakes_user ON stakes(user_id);
	CREATE INDEX IF NOT EXISTS idx_stakes_status ON stakes(status);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		stake_id TEXT REFERENCES stakes(id),
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		request_date TEXT NOT NULL,
		processed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);

	CREATE TABLE IF NOT EXISTS bonuses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
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
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL EXECUTION
// =============================================================================

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement, bound to either the pool or an open
// transaction.
type queries struct {
	db dbtx
}

// WithTx runs fn against a transactional view; fn returning an error
// rolls the whole decision back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txView{queries{db: tx}}); err != nil {
		return err
	}
	return tx.Commit()
}

// txView exposes queries as a ledger.Store inside a transaction.
type txView struct {
	queries
}

// WithTx nested inside a transaction just reuses it.
func (v *txView) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(v)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// USERS
// =============================================================================

func (q *queries) CreateUser(ctx context.Context, u ledger.User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users
		(id, first_name, last_name, email, username, phone, password_hash,
		 role, status, referral_code, referred_by, estimated_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Username, u.Phone, u.PasswordHash,
		u.Role, u.Status, nullString(u.ReferralCode), nullString(string(u.ReferredBy)),
		u.EstimatedBalance.String(), u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdentity
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, first_name, last_name, email, username, phone, password_hash,
	role, status, referral_code, referred_by, estimated_balance, created_at`

func (q *queries) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (q *queries) GetUserByReferralCode(ctx context.Context, code string) (*ledger.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = ?`, code)
	return scanUser(row)
}

func (q *queries) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (q *queries) TransitionUser(ctx context.Context, id ledger.UserID, to ledger.ApprovalStatus) error {
	return q.conditionalTransition(ctx, "user",
		`UPDATE users SET status = ? WHERE id = ? AND status = ?`,
		`SELECT status FROM users WHERE id = ?`,
		string(id), to)
}

func (q *queries) SetReferralCode(ctx context.Context, id ledger.UserID, code string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET referral_code = ? WHERE id = ? AND referral_code IS NULL`, code, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already has a code; the latter is fine.
		if _, err := q.GetUser(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) SetEstimatedBalance(ctx context.Context, id ledger.UserID, balance decimal.Decimal) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET estimated_balance = ? WHERE id = ?`, balance.String(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*ledger.User, error) {
	return scanUserFrom(row.Scan)
}

func scanUserRows(rows *sql.Rows) (*ledger.User, error) {
	return scanUserFrom(rows.Scan)
}

func scanUserFrom(scan func(...any) error) (*ledger.User, error) {
	var (
		u          ledger.User
		refCode    sql.NullString
		referredBy sql.NullString
		balance    string
		createdAt  string
	)
	err := scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Username, &u.Phone,
		&u.PasswordHash, &u.Role, &u.Status, &refCode, &referredBy, &balance, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	u.ReferralCode = refCode.String
	u.ReferredBy = ledger.UserID(referredBy.String)
	if u.EstimatedBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt estimated_balance: %w", err)
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at: %w", err)
	}
	return &u, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (q *queries) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, tx_type, amount, reference, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount.String(), tx.Reference, tx.Status,
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

const txColumns = `id, user_id, tx_type, amount, reference, status, created_at`

func (q *queries) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	return tx, err
}

func (q *queries) TransactionsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = ? ORDER BY created_at, id`, id)
}

func (q *queries) PendingTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE status = ? ORDER BY created_at, id`,
		ledger.StatusPending)
}

func (q *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func scanTransaction(scan func(...any) error) (*ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		amount    string
		createdAt string
	)
	if err := scan(&tx.ID, &tx.UserID, &tx.Type, &amount, &tx.Reference, &tx.Status, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount: %w", err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at: %w", err)
	}
	return &tx, nil
}

func (q *queries) TransitionTransaction(ctx context.Context, id ledger.TransactionID, to ledger.ApprovalStatus) error {
	return q.conditionalTransition(ctx, "transaction",
		`UPDATE transactions SET status = ? WHERE id = ? AND status = ?`,
		`SELECT status FROM transactions WHERE id = ?`,
		string(id), to)
}

// =============================================================================
// STAKES
// =============================================================================

func (q *queries) CreateStake(ctx context.Context, s ledger.Stake) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO stakes (id, user_id, principal, term_days, rate, start_date, end_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Principal.String(), s.TermDays, s.Rate.String(),
		s.StartDate.UTC().Format(time.RFC3339), s.EndDate.UTC().Format(time.RFC3339), s.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create stake: %w", err)
	}
	return nil
}

const stakeColumns = `id, user_id, principal, term_days, rate, start_date, end_date, status`

func (q *queries) GetStake(ctx context.Context, id ledger.StakeID) (*ledger.Stake, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+stakeColumns+` FROM stakes WHERE id = ?`, id)
	s, err := scanStake(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	return s, err
}

func (q *queries) StakesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Stake, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+stakeColumns+` FROM stakes WHERE user_id = ? ORDER BY start_date, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stakes []ledger.Stake
	for rows.Next() {
		s, err := scanStake(rows.Scan)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, *s)
	}
	return stakes, rows.Err()
}

func scanStake(scan func(...any) error) (*ledger.Stake, error) {
	var (
		s          ledger.Stake
		principal  string
		rate       string
		start, end string
	)
	if err := scan(&s.ID, &s.UserID, &principal, &s.TermDays, &rate, &start, &end, &s.Status); err != nil {
		return nil, err
	}
	var err error
	if s.Principal, err = decimal.NewFromString(principal); err != nil {
		return nil, fmt.Errorf("corrupt principal: %w", err)
	}
	if s.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("corrupt rate: %w", err)
	}
	if s.StartDate, err = time.Parse(time.RFC3339, start); err != nil {
		return nil, fmt.Errorf("corrupt start_date: %w", err)
	}
	if s.EndDate, err = time.Parse(time.RFC3339, end); err != nil {
		return nil, fmt.Errorf("corrupt end_date: %w", err)
	}
	return &s, nil
}

// TransitionStake moves a stake between explicit states; the stake
// machine is not pending-based, so the caller names both ends.
func (q *queries) TransitionStake(ctx context.Context, id ledger.StakeID, from, to ledger.StakeStatus) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE stakes SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = q.db.QueryRowContext(ctx, `SELECT status FROM stakes WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
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

func (q *queries) CreateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	var processed any
	if w.ProcessedAt != nil {
		processed = w.ProcessedAt.UTC().Format(time.RFC3339)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO withdrawals (id, user_id, stake_id, amount, status, request_date, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, nullString(string(w.StakeID)), w.Amount.String(), w.Status,
		w.RequestDate.UTC().Format(time.RFC3339), processed,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

const withdrawalColumns = `id, user_id, stake_id, amount, status, request_date, processed_at`

func (q *queries) GetWithdrawal(ctx context.Context, id ledger.WithdrawalID) (*ledger.Withdrawal, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = ?`, id)
	w, err := scanWithdrawal(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	return w, err
}

func (q *queries) WithdrawalsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Withdrawal, error) {
	return q.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE user_id = ? ORDER BY request_date, id`, id)
}

func (q *queries) PendingWithdrawals(ctx context.Context) ([]ledger.Withdrawal, error) {
	return q.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE status = ? ORDER BY request_date, id`,
		ledger.StatusPending)
}

func (q *queries) queryWithdrawals(ctx context.Context, query string, args ...any) ([]ledger.Withdrawal, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ws []ledger.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows.Scan)
		if err != nil {
			return nil, err
		}
		ws = append(ws, *w)
	}
	return ws, rows.Err()
}

func scanWithdrawal(scan func(...any) error) (*ledger.Withdrawal, error) {
	var (
		w           ledger.Withdrawal
		stakeID     sql.NullString
		amount      string
		requestDate string
		processedAt sql.NullString
	)
	if err := scan(&w.ID, &w.UserID, &stakeID, &amount, &w.Status, &requestDate, &processedAt); err != nil {
		return nil, err
	}
	w.StakeID = ledger.StakeID(stakeID.String)
	var err error
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount: %w", err)
	}
	if w.RequestDate, err = time.Parse(time.RFC3339, requestDate); err != nil {
		return nil, fmt.Errorf("corrupt request_date: %w", err)
	}
	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339, processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt processed_at: %w", err)
		}
		w.ProcessedAt = &t
	}
	return &w, nil
}

func (q *queries) TransitionWithdrawal(ctx context.Context, id ledger.WithdrawalID, to ledger.ApprovalStatus, processedAt time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE withdrawals SET status = ?, processed_at = ? WHERE id = ? AND status = ?`,
		to, processedAt.UTC().Format(time.RFC3339), id, ledger.StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return q.transitionFailure(ctx, "withdrawal",
		`SELECT status FROM withdrawals WHERE id = ?`, string(id), to)
}

// =============================================================================
// BONUSES & MESSAGES
// =============================================================================

func (q *queries) CreateBonus(ctx context.Context, b ledger.Bonus) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bonuses (id, user_id, amount, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Amount.String(), b.Description, b.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create bonus: %w", err)
	}
	return nil
}

func (q *queries) BonusTotal(ctx context.Context, id ledger.UserID) (decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT amount FROM bonuses WHERE user_id = ?`, id)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()
	return sumAmounts(rows)
}

func (q *queries) CreateMessage(ctx context.Context, m ledger.Message) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages
		(id, user_id, admin_id, subject, body, msg_type, activity_type, activity_id, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, nullString(string(m.AdminID)), m.Subject, m.Body, m.Type,
		m.ActivityType, m.ActivityID, m.IsRead, m.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (q *queries) MessagesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Message, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, admin_id, subject, body, msg_type, activity_type, activity_id, is_read, created_at
		FROM messages WHERE user_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ledger.Message
	for rows.Next() {
		var (
			m         ledger.Message
			adminID   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &adminID, &m.Subject, &m.Body, &m.Type,
			&m.ActivityType, &m.ActivityID, &m.IsRead, &createdAt); err != nil {
			return nil, err
		}
		m.AdminID = ledger.UserID(adminID.String)
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (q *queries) MarkMessageRead(ctx context.Context, id ledger.MessageID, owner ledger.UserID) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// =============================================================================
// SOLVENCY AGGREGATES
// =============================================================================

// SolvencyInputs sums each relation in a single pass per table, with
// filtering in SQL and decimal arithmetic in Go. No per-user loop.
func (q *queries) SolvencyInputs(ctx context.Context) (ledger.SolvencyInputs, error) {
	in := ledger.SolvencyInputs{
		TotalDeposits:       decimal.Zero,
		ActiveStakes:        decimal.Zero,
		TotalUserBalances:   decimal.Zero,
		ApprovedWithdrawals: decimal.Zero,
		PendingWithdrawals:  decimal.Zero,
		TotalBonuses:        decimal.Zero,
	}

	sums := []struct {
		dst   *decimal.Decimal
		query string
		args  []any
	}{
		{&in.TotalDeposits,
			`SELECT amount FROM transactions WHERE status = ? AND tx_type IN (?, ?, ?, ?)`,
			[]any{ledger.StatusApproved, ledger.TxTreePlan, ledger.TxSaving, ledger.TxDeposit, ledger.TxInvestment}},
		{&in.ActiveStakes,
			`SELECT principal FROM stakes WHERE status = ?`,
			[]any{ledger.StakeActive}},
		{&in.TotalUserBalances,
			`SELECT estimated_balance FROM users WHERE status = ?`,
			[]any{ledger.StatusApproved}},
		{&in.ApprovedWithdrawals,
			`SELECT amount FROM withdrawals WHERE status = ?`,
			[]any{ledger.StatusApproved}},
		{&in.PendingWithdrawals,
			`SELECT amount FROM withdrawals WHERE status = ?`,
			[]any{ledger.StatusPending}},
		{&in.TotalBonuses,
			`SELECT amount FROM bonuses`, nil},
	}

	for _, s := range sums {
		rows, err := q.db.QueryContext(ctx, s.query, s.args...)
		if err != nil {
			return ledger.SolvencyInputs{}, err
		}
		total, err := sumAmounts(rows)
		rows.Close()
		if err != nil {
			return ledger.SolvencyInputs{}, err
		}
		*s.dst = total
	}
	return in, nil
}

func sumAmounts(rows *sql.Rows) (decimal.Decimal, error) {
	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount: %w", err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// conditionalTransition flips a pending row and classifies the failure
// when no row moved: missing -> ErrNotFound, otherwise the current
// state comes back in a StateTransitionError.
func (q *queries) conditionalTransition(ctx context.Context, entity, update, lookup, id string, to ledger.ApprovalStatus) error {
	res, err := q.db.ExecContext(ctx, update, to, id, ledger.StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return q.transitionFailure(ctx, entity, lookup, id, to)
}

func (q *queries) transitionFailure(ctx context.Context, entity, lookup, id string, to ledger.ApprovalStatus) error {
	var current string
	err := q.db.QueryRowContext(ctx, lookup, id).Scan(&current)
	if err == sql.ErrNoRows {
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
// STORE - locked delegation to queries
// =============================================================================

func (s *Store) view() (*queries, func()) {
	s.mu.Lock()
	return &queries{db: s.db}, s.mu.Unlock
}

func (s *Store) CreateUser(ctx context.Context, u ledger.User) error {
	q, unlock := s.view()
	defer unlock()
	return q.CreateUser(ctx, u)
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	q, unlock := s.view()
	defer unlock()
	return q.GetUser(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	q, unlock := s.view()
	defer unlock()
	return q.GetUserByEmail(ctx, email)
}

func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*ledger.User, error) {
	q, unlock := s.view()
	defer unlock()
	return q.GetUserByReferralCode(ctx, code)
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	q, unlock := s.view()
	defer unlock()
	return q.ListUsers(ctx)
}

func (s *Store) TransitionUser(ctx context.Context, id ledger.UserID, to ledger.ApprovalStatus) error {
	q, unlock := s.view()
	defer unlock()
	return q.TransitionUser(ctx, id, to)
}

func (s *Store) SetReferralCode(ctx context.Context, id ledger.UserID, code string) error {
	q, unlock := s.view()
	defer unlock()
	return q.SetReferralCode(ctx, id, code)
}

func (s *Store) SetEstimatedBalance(ctx context.Context, id ledger.UserID, balance decimal.Decimal) error {
	q, unlock := s.view()
	defer unlock()
	return q.SetEstimatedBalance(ctx, id, balance)
}

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	q, unlock := s.view()
	defer unlock()
	return q.CreateTransaction(ctx, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	q, unlock := s.view()
	defer unlock()
	return q.GetTransaction(ctx, id)
}

func (s *Store) TransactionsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	q, unlock := s.view()
	defer unlock()
	return q.TransactionsByUser(ctx, id)
}

func (s *Store) PendingTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	q, unlock := s.view()
	defer unlock()
	return q.PendingTransactions(ctx)
}

func (s *Store) TransitionTransaction(ctx context.Context, id ledger.TransactionID, to ledger.ApprovalStatus) error {
	q, unlock := s.view()
	defer unlock()
	return q.TransitionTransaction(ctx, id, to)
}

func (s *Store) CreateStake(ctx context.Context, st ledger.Stake) error {
	q, unlock := s.view()
	defer unlock()
	return q.CreateStake(ctx, st)
}

func (s *Store) GetStake(ctx context.Context, id ledger.StakeID) (*ledger.Stake, error) {
	q, unlock := s.view()
	defer unlock()
	return q.GetStake(ctx, id)
}

func (s *Store) StakesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Stake, error) {
	q, unlock := s.view()
	defer unlock()
	return q.StakesByUser(ctx, id)
}

func (s *Store) TransitionStake(ctx context.Context, id ledger.StakeID, from, to ledger.StakeStatus) error {
	q, unlock := s.view()
	defer unlock()
	return q.TransitionStake(ctx, id, from, to)
}

func (s *Store) CreateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	q, unlock := s.view()
	defer unlock()
	return q.CreateWithdrawal(ctx, w)
}

func (s *Store) GetWithdrawal(ctx context.Context, id ledger.WithdrawalID) (*ledger.Withdrawal, error) {
	q, unlock := s.view()
	defer unlock()
	return q.GetWithdrawal(ctx, id)
}

func (s *Store) WithdrawalsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Withdrawal, error) {
	q, unlock := s.view()
	defer unlock()
	return q.WithdrawalsByUser(ctx, id)
}

func (s *Store) PendingWithdrawals(ctx context.Context) ([]ledger.Withdrawal, error) {
	q, unlock := s.view()
	defer unlock()
	return q.PendingWithdrawals(ctx)
}

func (s *Store) TransitionWithdrawal(ctx context.Context, id ledger.WithdrawalID, to ledger.ApprovalStatus, processedAt time.Time) error {
	q, unlock := s.view()
	defer unlock()
	return q.TransitionWithdrawal(ctx, id, to, processedAt)
}

func (s *Store) CreateBonus(ctx context.Context, b ledger.Bonus) error {
	q, unlock := s.view()
	defer unlock()
	return q.CreateBonus(ctx, b)
}

func (s *Store) BonusTotal(ctx context.Context, id ledger.UserID) (decimal.Decimal, error) {
	q, unlock := s.view()
	defer unlock()
	return q.BonusTotal(ctx, id)
}

func (s *Store) CreateMessage(ctx context.Context, m ledger.Message) error {
	q, unlock := s.view()
	defer unlock()
	return q.CreateMessage(ctx, m)
}

func (s *Store) MessagesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Message, error) {
	q, unlock := s.view()
	defer unlock()
	return q.MessagesByUser(ctx, id)
}

func (s *Store) MarkMessageRead(ctx context.Context, id ledger.MessageID, owner ledger.UserID) error {
	q, unlock := s.view()
	defer unlock()
	return q.MarkMessageRead(ctx, id, owner)
}

func (s *Store) SolvencyInputs(ctx context.Context) (ledger.SolvencyInputs, error) {
	q, unlock := s.view()
	defer unlock()
	return q.SolvencyInputs(ctx)
}
