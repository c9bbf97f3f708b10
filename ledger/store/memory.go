// Package store provides an in-memory ledger.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kedimoney/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store with plain maps. WithTx snapshots the
// whole state and restores it when the function fails, giving the same
// all-or-nothing behavior as the SQL stores. The single mutex also
// serializes concurrent decisions, so conditional transitions keep
// their exactly-one-winner guarantee.
type Memory struct {
	mu sync.Mutex
	s  state
}

type state struct {
	users        map[ledger.UserID]ledger.User
	transactions map[ledger.TransactionID]ledger.Transaction
	stakes       map[ledger.StakeID]ledger.Stake
	withdrawals  map[ledger.WithdrawalID]ledger.Withdrawal
	bonuses      map[ledger.BonusID]ledger.Bonus
	messages     map[ledger.MessageID]ledger.Message
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

func newState() state {
	return state{
		users:        make(map[ledger.UserID]ledger.User),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		stakes:       make(map[ledger.StakeID]ledger.Stake),
		withdrawals:  make(map[ledger.WithdrawalID]ledger.Withdrawal),
		bonuses:      make(map[ledger.BonusID]ledger.Bonus),
		messages:     make(map[ledger.MessageID]ledger.Message),
	}
}

func (st state) clone() state {
	c := newState()
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.transactions {
		c.transactions[k] = v
	}
	for k, v := range st.stakes {
		c.stakes[k] = v
	}
	for k, v := range st.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range st.bonuses {
		c.bonuses[k] = v
	}
	for k, v := range st.messages {
		c.messages[k] = v
	}
	return c
}

// WithTx executes fn against an unlocked view while holding the lock.
// On error the pre-transaction snapshot is restored.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(&view{m: m}); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// view is the transactional (and internal) face of Memory: same data,
// no locking. Memory's public methods lock and delegate here.
type view struct {
	m *Memory
}

// =============================================================================
// USERS
// =============================================================================

func (v *view) CreateUser(_ context.Context, u ledger.User) error {
	for _, existing := range v.m.s.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return ledger.ErrDuplicateIdentity
		}
	}
	v.m.s.users[u.ID] = u
	return nil
}

func (v *view) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	u, ok := v.m.s.users[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &u, nil
}

func (v *view) GetUserByEmail(_ context.Context, email string) (*ledger.User, error) {
	for _, u := range v.m.s.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (v *view) GetUserByReferralCode(_ context.Context, code string) (*ledger.User, error) {
	for _, u := range v.m.s.users {
		if u.ReferralCode != "" && u.ReferralCode == code {
			u := u
			return &u, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (v *view) ListUsers(_ context.Context) ([]ledger.User, error) {
	users := make([]ledger.User, 0, len(v.m.s.users))
	for _, u := range v.m.s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (v *view) TransitionUser(_ context.Context, id ledger.UserID, to ledger.ApprovalStatus) error {
	u, ok := v.m.s.users[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if u.Status != ledger.StatusPending {
		return &ledger.StateTransitionError{
			Entity: "user", ID: string(id), Current: string(u.Status), Wanted: string(to),
		}
	}
	u.Status = to
	v.m.s.users[id] = u
	return nil
}

func (v *view) SetReferralCode(_ context.Context, id ledger.UserID, code string) error {
	u, ok := v.m.s.users[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if u.ReferralCode != "" {
		return nil
	}
	u.ReferralCode = code
	v.m.s.users[id] = u
	return nil
}

func (v *view) SetEstimatedBalance(_ context.Context, id ledger.UserID, balance decimal.Decimal) error {
	u, ok := v.m.s.users[id]
	if !ok {
		return ledger.ErrNotFound
	}
	u.EstimatedBalance = balance
	v.m.s.users[id] = u
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (v *view) CreateTransaction(_ context.Context, tx ledger.Transaction) error {
	v.m.s.transactions[tx.ID] = tx
	return nil
}

func (v *view) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, ok := v.m.s.transactions[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &tx, nil
}

func (v *view) TransactionsByUser(_ context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	var txs []ledger.Transaction
	for _, tx := range v.m.s.transactions {
		if tx.UserID == id {
			txs = append(txs, tx)
		}
	}
	sortTransactions(txs)
	return txs, nil
}

func (v *view) PendingTransactions(_ context.Context) ([]ledger.Transaction, error) {
	var txs []ledger.Transaction
	for _, tx := range v.m.s.transactions {
		if tx.Status == ledger.StatusPending {
			txs = append(txs, tx)
		}
	}
	sortTransactions(txs)
	return txs, nil
}

func (v *view) TransitionTransaction(_ context.Context, id ledger.TransactionID, to ledger.ApprovalStatus) error {
	tx, ok := v.m.s.transactions[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if tx.Status != ledger.StatusPending {
		return &ledger.StateTransitionError{
			Entity: "transaction", ID: string(id), Current: string(tx.Status), Wanted: string(to),
		}
	}
	tx.Status = to
	v.m.s.transactions[id] = tx
	return nil
}

func sortTransactions(txs []ledger.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}

// =============================================================================
// STAKES
// =============================================================================

func (v *view) CreateStake(_ context.Context, s ledger.Stake) error {
	v.m.s.stakes[s.ID] = s
	return nil
}

func (v *view) GetStake(_ context.Context, id ledger.StakeID) (*ledger.Stake, error) {
	s, ok := v.m.s.stakes[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &s, nil
}

func (v *view) StakesByUser(_ context.Context, id ledger.UserID) ([]ledger.Stake, error) {
	var stakes []ledger.Stake
	for _, s := range v.m.s.stakes {
		if s.UserID == id {
			stakes = append(stakes, s)
		}
	}
	sort.Slice(stakes, func(i, j int) bool { return stakes[i].ID < stakes[j].ID })
	return stakes, nil
}

func (v *view) TransitionStake(_ context.Context, id ledger.StakeID, from, to ledger.StakeStatus) error {
	s, ok := v.m.s.stakes[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if s.Status != from {
		return &ledger.StateTransitionError{
			Entity: "stake", ID: string(id), Current: string(s.Status), Wanted: string(to),
		}
	}
	s.Status = to
	v.m.s.stakes[id] = s
	return nil
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

func (v *view) CreateWithdrawal(_ context.Context, w ledger.Withdrawal) error {
	v.m.s.withdrawals[w.ID] = w
	return nil
}

func (v *view) GetWithdrawal(_ context.Context, id ledger.WithdrawalID) (*ledger.Withdrawal, error) {
	w, ok := v.m.s.withdrawals[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &w, nil
}

func (v *view) WithdrawalsByUser(_ context.Context, id ledger.UserID) ([]ledger.Withdrawal, error) {
	var ws []ledger.Withdrawal
	for _, w := range v.m.s.withdrawals {
		if w.UserID == id {
			ws = append(ws, w)
		}
	}
	sortWithdrawals(ws)
	return ws, nil
}

func (v *view) PendingWithdrawals(_ context.Context) ([]ledger.Withdrawal, error) {
	var ws []ledger.Withdrawal
	for _, w := range v.m.s.withdrawals {
		if w.Status == ledger.StatusPending {
			ws = append(ws, w)
		}
	}
	sortWithdrawals(ws)
	return ws, nil
}

func (v *view) TransitionWithdrawal(_ context.Context, id ledger.WithdrawalID, to ledger.ApprovalStatus, processedAt time.Time) error {
	w, ok := v.m.s.withdrawals[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if w.Status != ledger.StatusPending {
		return &ledger.StateTransitionError{
			Entity: "withdrawal", ID: string(id), Current: string(w.Status), Wanted: string(to),
		}
	}
	w.Status = to
	w.ProcessedAt = &processedAt
	v.m.s.withdrawals[id] = w
	return nil
}

func sortWithdrawals(ws []ledger.Withdrawal) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].RequestDate.Equal(ws[j].RequestDate) {
			return ws[i].ID < ws[j].ID
		}
		return ws[i].RequestDate.Before(ws[j].RequestDate)
	})
}

// =============================================================================
// BONUSES & MESSAGES
// =============================================================================

func (v *view) CreateBonus(_ context.Context, b ledger.Bonus) error {
	v.m.s.bonuses[b.ID] = b
	return nil
}

func (v *view) BonusTotal(_ context.Context, id ledger.UserID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range v.m.s.bonuses {
		if b.UserID == id {
			total = total.Add(b.Amount)
		}
	}
	return total, nil
}

func (v *view) CreateMessage(_ context.Context, msg ledger.Message) error {
	v.m.s.messages[msg.ID] = msg
	return nil
}

func (v *view) MessagesByUser(_ context.Context, id ledger.UserID) ([]ledger.Message, error) {
	var msgs []ledger.Message
	for _, msg := range v.m.s.messages {
		if msg.UserID == id {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (v *view) MarkMessageRead(_ context.Context, id ledger.MessageID, owner ledger.UserID) error {
	msg, ok := v.m.s.messages[id]
	if !ok || msg.UserID != owner {
		return ledger.ErrNotFound
	}
	msg.IsRead = true
	v.m.s.messages[id] = msg
	return nil
}

// =============================================================================
// SOLVENCY AGGREGATES
// =============================================================================

func (v *view) SolvencyInputs(_ context.Context) (ledger.SolvencyInputs, error) {
	in := ledger.SolvencyInputs{
		TotalDeposits:       decimal.Zero,
		ActiveStakes:        decimal.Zero,
		TotalUserBalances:   decimal.Zero,
		ApprovedWithdrawals: decimal.Zero,
		PendingWithdrawals:  decimal.Zero,
		TotalBonuses:        decimal.Zero,
	}
	for _, tx := range v.m.s.transactions {
		if tx.Status == ledger.StatusApproved && tx.Type.IsQualifyingDeposit() {
			in.TotalDeposits = in.TotalDeposits.Add(tx.Amount)
		}
	}
	for _, s := range v.m.s.stakes {
		if s.Status == ledger.StakeActive {
			in.ActiveStakes = in.ActiveStakes.Add(s.Principal)
		}
	}
	for _, u := range v.m.s.users {
		if u.Status == ledger.StatusApproved {
			in.TotalUserBalances = in.TotalUserBalances.Add(u.EstimatedBalance)
		}
	}
	for _, w := range v.m.s.withdrawals {
		switch w.Status {
		case ledger.StatusApproved:
			in.ApprovedWithdrawals = in.ApprovedWithdrawals.Add(w.Amount)
		case ledger.StatusPending:
			in.PendingWithdrawals = in.PendingWithdrawals.Add(w.Amount)
		}
	}
	for _, b := range v.m.s.bonuses {
		in.TotalBonuses = in.TotalBonuses.Add(b.Amount)
	}
	return in, nil
}

// WithTx on a view is a no-op nesting: the outer transaction already
// owns the lock and the snapshot.
func (v *view) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(v)
}

// =============================================================================
// LOCKED DELEGATION - Memory's public methods
// =============================================================================

func (m *Memory) locked() (*view, func()) {
	m.mu.Lock()
	return &view{m: m}, m.mu.Unlock
}

func (m *Memory) CreateUser(ctx context.Context, u ledger.User) error {
	v, unlock := m.locked()
	defer unlock()
	return v.CreateUser(ctx, u)
}

func (m *Memory) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.GetUser(ctx, id)
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.GetUserByEmail(ctx, email)
}

func (m *Memory) GetUserByReferralCode(ctx context.Context, code string) (*ledger.User, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.GetUserByReferralCode(ctx, code)
}

func (m *Memory) ListUsers(ctx context.Context) ([]ledger.User, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.ListUsers(ctx)
}

func (m *Memory) TransitionUser(ctx context.Context, id ledger.UserID, to ledger.ApprovalStatus) error {
	v, unlock := m.locked()
	defer unlock()
	return v.TransitionUser(ctx, id, to)
}

func (m *Memory) SetReferralCode(ctx context.Context, id ledger.UserID, code string) error {
	v, unlock := m.locked()
	defer unlock()
	return v.SetReferralCode(ctx, id, code)
}

func (m *Memory) SetEstimatedBalance(ctx context.Context, id ledger.UserID, balance decimal.Decimal) error {
	v, unlock := m.locked()
	defer unlock()
	return v.SetEstimatedBalance(ctx, id, balance)
}

func (m *Memory) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	v, unlock := m.locked()
	defer unlock()
	return v.CreateTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.GetTransaction(ctx, id)
}

func (m *Memory) TransactionsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.TransactionsByUser(ctx, id)
}

func (m *Memory) PendingTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.PendingTransactions(ctx)
}

func (m *Memory) TransitionTransaction(ctx context.Context, id ledger.TransactionID, to ledger.ApprovalStatus) error {
	v, unlock := m.locked()
	defer unlock()
	return v.TransitionTransaction(ctx, id, to)
}

func (m *Memory) CreateStake(ctx context.Context, s ledger.Stake) error {
	v, unlock := m.locked()
	defer unlock()
	return v.CreateStake(ctx, s)
}

func (m *Memory) GetStake(ctx context.Context, id ledger.StakeID) (*ledger.Stake, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.GetStake(ctx, id)
}

func (m *Memory) StakesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Stake, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.StakesByUser(ctx, id)
}

func (m *Memory) TransitionStake(ctx context.Context, id ledger.StakeID, from, to ledger.StakeStatus) error {
	v, unlock := m.locked()
	defer unlock()
	return v.TransitionStake(ctx, id, from, to)
}

func (m *Memory) CreateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	v, unlock := m.locked()
	defer unlock()
	return v.CreateWithdrawal(ctx, w)
}

func (m *Memory) GetWithdrawal(ctx context.Context, id ledger.WithdrawalID) (*ledger.Withdrawal, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.GetWithdrawal(ctx, id)
}

func (m *Memory) WithdrawalsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Withdrawal, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.WithdrawalsByUser(ctx, id)
}

func (m *Memory) PendingWithdrawals(ctx context.Context) ([]ledger.Withdrawal, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.PendingWithdrawals(ctx)
}

func (m *Memory) TransitionWithdrawal(ctx context.Context, id ledger.WithdrawalID, to ledger.ApprovalStatus, processedAt time.Time) error {
	v, unlock := m.locked()
	defer unlock()
	return v.TransitionWithdrawal(ctx, id, to, processedAt)
}

func (m *Memory) CreateBonus(ctx context.Context, b ledger.Bonus) error {
	v, unlock := m.locked()
	defer unlock()
	return v.CreateBonus(ctx, b)
}

func (m *Memory) BonusTotal(ctx context.Context, id ledger.UserID) (decimal.Decimal, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.BonusTotal(ctx, id)
}

func (m *Memory) CreateMessage(ctx context.Context, msg ledger.Message) error {
	v, unlock := m.locked()
	defer unlock()
	return v.CreateMessage(ctx, msg)
}

func (m *Memory) MessagesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Message, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.MessagesByUser(ctx, id)
}

func (m *Memory) MarkMessageRead(ctx context.Context, id ledger.MessageID, owner ledger.UserID) error {
	v, unlock := m.locked()
	defer unlock()
	return v.MarkMessageRead(ctx, id, owner)
}

func (m *Memory) SolvencyInputs(ctx context.Context) (ledger.SolvencyInputs, error) {
	v, unlock := m.locked()
	defer unlock()
	return v.SolvencyInputs(ctx)
}
