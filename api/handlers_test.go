/*
handlers_test.go - End-to-end tests for the HTTP API

Exercises the full stack: chi router -> handlers -> ledger service ->
SQLite store, through real HTTP round trips against httptest.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kedimoney/ledger-engine/api"
	"github.com/kedimoney/ledger-engine/ledger"
	"github.com/kedimoney/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	svc   *ledger.Service
	store *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := ledger.NewService(store)
	svc.Now = func() time.Time { return testNow }

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(svc)))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, svc: svc, store: store}
}

// do issues a request with optional identity headers and decodes the
// JSON response into out (when non-nil).
func (ts *testServer) do(t *testing.T, method, path string, body any, userID, role string, out any) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func signup(t *testing.T, ts *testServer, email, username, referralCode string) string {
	t.Helper()
	var user struct {
		ID string `json:"id"`
	}
	resp := ts.do(t, http.MethodPost, "/api/signup", map[string]string{
		"email":         email,
		"username":      username,
		"referral_code": referralCode,
	}, "", "", &user)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return user.ID
}

// =============================================================================
// SIGNUP & ACCOUNT LIFECYCLE
// =============================================================================

func TestAPI_SignupAndAdminApproval(t *testing.T) {
	// GIVEN: A fresh signup
	// WHEN: An admin approves the account
	// THEN: The account is active and holds a welcome message

	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")

	resp := ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/approve", nil, "usr-admin", "admin", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var me struct {
		Status string `json:"status"`
	}
	resp = ts.do(t, http.MethodGet, "/api/me", nil, id, "", &me)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", me.Status)

	var msgs []struct {
		Subject string `json:"subject"`
		IsRead  bool   `json:"is_read"`
	}
	resp = ts.do(t, http.MethodGet, "/api/me/messages", nil, id, "", &msgs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Account approved", msgs[0].Subject)
	assert.False(t, msgs[0].IsRead)
}

func TestAPI_DuplicateSignupConflicts(t *testing.T) {
	ts := newTestServer(t)
	signup(t, ts, "amara@example.com", "amara", "")

	resp := ts.do(t, http.MethodPost, "/api/signup", map[string]string{
		"email": "amara@example.com", "username": "someone-else",
	}, "", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_MissingIdentityHeader(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/me/balance", nil, "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_AdminRoutesNeedAdminRole(t *testing.T) {
	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")

	resp := ts.do(t, http.MethodGet, "/api/admin/solvency", nil, id, "user", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// TRANSACTION LIFECYCLE
// =============================================================================

func TestAPI_TransactionApprovalFlow(t *testing.T) {
	// GIVEN: An approved member submitting a 5000 deposit
	// WHEN: An admin approves it from the pending queue
	// THEN: The member's balance shows the deposit; re-approval conflicts

	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")
	ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/approve", nil, "usr-admin", "admin", nil)

	var tx struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	resp := ts.do(t, http.MethodPost, "/api/me/transactions", map[string]string{
		"type": "deposit", "amount": "5000", "reference": "mpesa-7",
	}, id, "", &tx)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", tx.Status)

	var queue []struct {
		ID string `json:"id"`
	}
	resp = ts.do(t, http.MethodGet, "/api/admin/transactions/pending", nil, "usr-admin", "admin", &queue)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, queue, 1)

	resp = ts.do(t, http.MethodPost, "/api/admin/transactions/"+tx.ID+"/approve", nil, "usr-admin", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var balance struct {
		Deposits  string `json:"deposits"`
		Available string `json:"available"`
	}
	resp = ts.do(t, http.MethodGet, "/api/me/balance", nil, id, "", &balance)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5000", balance.Deposits)
	assert.Equal(t, "5000", balance.Available)

	// Deciding the same transaction twice conflicts.
	resp = ts.do(t, http.MethodPost, "/api/admin/transactions/"+tx.ID+"/reject", nil, "usr-admin", "admin", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_InvalidTransactionRejected(t *testing.T) {
	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")

	resp := ts.do(t, http.MethodPost, "/api/me/transactions", map[string]string{
		"type": "lottery", "amount": "100",
	}, id, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/me/transactions", map[string]string{
		"type": "deposit", "amount": "not-a-number",
	}, id, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// REFERRALS
// =============================================================================

func TestAPI_ReferralBonusFlow(t *testing.T) {
	// GIVEN: A referrer with a code and a referred member
	// WHEN: The referred member's 1000 tree plan is approved
	// THEN: The referrer's balance shows the 100 bonus

	ts := newTestServer(t)
	refID := signup(t, ts, "ref@example.com", "referrer", "")
	ts.do(t, http.MethodPost, "/api/admin/users/"+refID+"/approve", nil, "usr-admin", "admin", nil)

	var code struct {
		ReferralCode string `json:"referral_code"`
	}
	resp := ts.do(t, http.MethodGet, "/api/me/referral-code", nil, refID, "", &code)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, code.ReferralCode)

	newID := signup(t, ts, "new@example.com", "newbie", code.ReferralCode)
	ts.do(t, http.MethodPost, "/api/admin/users/"+newID+"/approve", nil, "usr-admin", "admin", nil)

	var tx struct {
		ID string `json:"id"`
	}
	ts.do(t, http.MethodPost, "/api/me/transactions", map[string]string{
		"type": "tree_plan", "amount": "1000",
	}, newID, "", &tx)
	resp = ts.do(t, http.MethodPost, "/api/admin/transactions/"+tx.ID+"/approve", nil, "usr-admin", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var balance struct {
		Bonuses   string `json:"bonuses"`
		Available string `json:"available"`
	}
	resp = ts.do(t, http.MethodGet, "/api/me/balance", nil, refID, "", &balance)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "100", balance.Bonuses)
	assert.Equal(t, "100", balance.Available)
}

func TestAPI_UnknownReferralCodeRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/signup", map[string]string{
		"email": "x@example.com", "username": "x", "referral_code": "KD-NOSUCH01",
	}, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// STAKES & WITHDRAWALS
// =============================================================================

func TestAPI_StakeLifecycle(t *testing.T) {
	// GIVEN: A member opening a 90-day stake of 100000
	// WHEN: It matures and the withdrawal is requested and approved
	// THEN: The payout is 115000 and the stake shows withdrawn

	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")
	ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/approve", nil, "usr-admin", "admin", nil)

	// Open the stake 90 days in the past so it is matured "today".
	ts.svc.Now = func() time.Time { return testNow.AddDate(0, 0, -90) }
	var stake struct {
		ID      string `json:"id"`
		Rate    string `json:"rate"`
		EndDate string `json:"end_date"`
	}
	resp := ts.do(t, http.MethodPost, "/api/me/stakes", map[string]any{
		"principal": "100000", "term_days": 90,
	}, id, "", &stake)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "0.15", stake.Rate)

	ts.svc.Now = func() time.Time { return testNow }

	var wd struct {
		ID      string `json:"id"`
		Amount  string `json:"amount"`
		StakeID string `json:"stake_id"`
	}
	resp = ts.do(t, http.MethodPost, "/api/me/withdrawals", map[string]string{
		"stake_id": stake.ID,
	}, id, "", &wd)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "115000", wd.Amount)
	assert.Equal(t, stake.ID, wd.StakeID)

	resp = ts.do(t, http.MethodPost, "/api/admin/withdrawals/"+wd.ID+"/approve", nil, "usr-admin", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stakes []struct {
		Status string `json:"status"`
	}
	resp = ts.do(t, http.MethodGet, "/api/me/stakes", nil, id, "", &stakes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, stakes, 1)
	assert.Equal(t, "withdrawn", stakes[0].Status)
}

func TestAPI_ImmatureStakeWithdrawalConflicts(t *testing.T) {
	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")
	ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/approve", nil, "usr-admin", "admin", nil)

	var stake struct {
		ID string `json:"id"`
	}
	resp := ts.do(t, http.MethodPost, "/api/me/stakes", map[string]any{
		"principal": "5000", "term_days": 90,
	}, id, "", &stake)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/me/withdrawals", map[string]string{
		"stake_id": stake.ID,
	}, id, "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_IneligibleFreeWithdrawalIs422(t *testing.T) {
	// GIVEN: A fresh account with no savings streak
	// WHEN: Requesting a free-amount withdrawal
	// THEN: 422 with the eligibility detail in the body

	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")
	ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/approve", nil, "usr-admin", "admin", nil)

	var errResp struct {
		Details string `json:"details"`
	}
	resp := ts.do(t, http.MethodPost, "/api/me/withdrawals", map[string]string{
		"amount": "1000",
	}, id, "", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, errResp.Details)
}

func TestAPI_EligibleFreeWithdrawal(t *testing.T) {
	// GIVEN: An account backdated a year with three qualifying months
	// WHEN: Requesting 5000 of the 6000 available
	// THEN: A pending withdrawal appears in the admin queue

	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.store.CreateUser(ctx, ledger.User{
		ID: "usr-1", Email: "amara@example.com", Username: "amara",
		Role: ledger.RoleUser, Status: ledger.StatusApproved,
		EstimatedBalance: decimal.Zero, CreatedAt: testNow.AddDate(-1, 0, 0),
	}))
	for _, at := range []time.Time{
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.May, 28, 0, 0, 0, 0, time.UTC),
	} {
		require.NoError(t, ts.store.CreateTransaction(ctx, ledger.Transaction{
			ID:     ledger.TransactionID("txn-" + at.Format("2006-01")),
			UserID: "usr-1", Type: ledger.TxSaving, Amount: decimal.NewFromInt(2000),
			Status: ledger.StatusApproved, CreatedAt: at,
		}))
	}

	var wd struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	resp := ts.do(t, http.MethodPost, "/api/me/withdrawals", map[string]string{
		"amount": "5000",
	}, "usr-1", "", &wd)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", wd.Status)

	var queue []struct {
		ID string `json:"id"`
	}
	resp = ts.do(t, http.MethodGet, "/api/admin/withdrawals/pending", nil, "usr-admin", "admin", &queue)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, queue, 1)
	assert.Equal(t, wd.ID, queue[0].ID)
}

// =============================================================================
// SOLVENCY
// =============================================================================

func TestAPI_SolvencyReport(t *testing.T) {
	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")
	ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/approve", nil, "usr-admin", "admin", nil)

	var tx struct {
		ID string `json:"id"`
	}
	ts.do(t, http.MethodPost, "/api/me/transactions", map[string]string{
		"type": "deposit", "amount": "3000",
	}, id, "", &tx)
	ts.do(t, http.MethodPost, "/api/admin/transactions/"+tx.ID+"/approve", nil, "usr-admin", "admin", nil)

	var report struct {
		TotalDeposits string `json:"total_deposits"`
		TotalAssets   string `json:"total_assets"`
		NetAssets     string `json:"net_assets"`
	}
	resp := ts.do(t, http.MethodGet, "/api/admin/solvency", nil, "usr-admin", "admin", &report)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3000", report.TotalDeposits)
	// Assets also count the refreshed balance cache of the approved member.
	assert.Equal(t, "6000", report.TotalAssets)
	assert.Equal(t, "6000", report.NetAssets)
}

// =============================================================================
// INBOX
// =============================================================================

func TestAPI_MarkMessageRead(t *testing.T) {
	ts := newTestServer(t)
	id := signup(t, ts, "amara@example.com", "amara", "")
	ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/approve", nil, "usr-admin", "admin", nil)

	var msgs []struct {
		ID string `json:"id"`
	}
	ts.do(t, http.MethodGet, "/api/me/messages", nil, id, "", &msgs)
	require.Len(t, msgs, 1)

	// Another member cannot mark it.
	otherID := signup(t, ts, "other@example.com", "other", "")
	resp := ts.do(t, http.MethodPost, "/api/me/messages/"+msgs[0].ID+"/read", nil, otherID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/me/messages/"+msgs[0].ID+"/read", nil, id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var after []struct {
		IsRead bool `json:"is_read"`
	}
	ts.do(t, http.MethodGet, "/api/me/messages", nil, id, "", &after)
	require.Len(t, after, 1)
	assert.True(t, after[0].IsRead)
}
