/*
handlers.go - HTTP API handlers for the micro-finance ledger

PURPOSE:
  Exposes the ledger core via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic in ledger/.

ENDPOINTS:
  Auth-free:
    POST   /api/signup                      Create member account

  Member (X-User-ID header):
    GET    /api/me                          Own profile
    GET    /api/me/referral-code            Referral code (generated on first read)
    GET    /api/me/balance                  Derived balance breakdown
    GET    /api/me/transactions             Transaction history
    POST   /api/me/transactions             Submit transaction for review
    GET    /api/me/stakes                   List stakes
    POST   /api/me/stakes                   Open a stake
    GET    /api/me/withdrawals              List withdrawal requests
    POST   /api/me/withdrawals              Request withdrawal (free or stake)
    GET    /api/me/messages                 Inbox
    POST   /api/me/messages/{id}/read       Mark message read

  Admin (X-User-ID + X-User-Role: admin):
    GET    /api/admin/users                 List all accounts
    GET    /api/admin/transactions/pending  Pending transaction queue
    GET    /api/admin/withdrawals/pending   Pending withdrawal queue
    POST   /api/admin/users/{id}/approve    Approve account
    POST   /api/admin/users/{id}/reject     Reject account
    POST   /api/admin/transactions/{id}/approve
    POST   /api/admin/transactions/{id}/reject
    POST   /api/admin/withdrawals/{id}/approve
    POST   /api/admin/withdrawals/{id}/reject
    GET    /api/admin/solvency              Assets/liabilities report

AUTHENTICATION:
  Identity arrives as trusted X-User-ID / X-User-Role headers set by the
  gateway in front of this service. The handlers do no credential
  checking themselves; they enforce role and ownership only.

ERROR HANDLING:
  Domain errors map to HTTP status via statusFor:
  - 400: validation errors, malformed input
  - 404: not found (including other users' resources)
  - 409: state transition conflicts (including stakes not yet
         matured), duplicate identity
  - 422: eligibility denials (account age, savings streak, balance)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/service.go, ledger/approval.go: The operations these wrap
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kedimoney/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
}

// NewHandler creates a new handler around the ledger service.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{Service: svc}
}

// =============================================================================
// IDENTITY
// =============================================================================

const (
	headerUserID = "X-User-ID"
	headerRole   = "X-User-Role"
)

// callerID extracts the authenticated user from the request. Writes a
// 401 and returns false when the header is missing.
func callerID(w http.ResponseWriter, r *http.Request) (ledger.UserID, bool) {
	id := r.Header.Get(headerUserID)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+headerUserID+" header", nil)
		return "", false
	}
	return ledger.UserID(id), true
}

// requireAdmin extracts the caller and enforces the admin role.
func requireAdmin(w http.ResponseWriter, r *http.Request) (ledger.UserID, bool) {
	id, ok := callerID(w, r)
	if !ok {
		return "", false
	}
	if r.Header.Get(headerRole) != string(ledger.RoleAdmin) {
		writeError(w, http.StatusForbidden, "Admin role required", nil)
		return "", false
	}
	return id, true
}

// =============================================================================
// SIGNUP & PROFILE
// =============================================================================

// Signup creates a pending member account.
// POST /api/signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Service.RegisterUser(r.Context(), ledger.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Username:     req.Username,
		Phone:        req.Phone,
		PasswordHash: req.Password,
	}, req.ReferralCode)
	if err != nil {
		writeDomainError(w, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

// Me returns the caller's own profile.
// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	user, err := h.Service.Store.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// ReferralCode returns the caller's referral code, generating one on
// first read.
// GET /api/me/referral-code
func (h *Handler) ReferralCode(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	code, err := h.Service.EnsureReferralCode(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get referral code", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"referral_code": code})
}

// =============================================================================
// BALANCE & TRANSACTIONS
// =============================================================================

// Balance returns the caller's derived balance breakdown.
// GET /api/me/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	breakdown, err := h.Service.RefreshBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(breakdown))
}

// ListTransactions returns the caller's full transaction history.
// GET /api/me/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	txs, err := h.Service.Store.TransactionsByUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list transactions", err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitTransaction records a pending transaction for admin review.
// POST /api/me/transactions
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}

	var req SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Service.SubmitTransaction(r.Context(), id, ledger.TransactionType(req.Type), amount, req.Reference)
	if err != nil {
		writeDomainError(w, "Failed to submit transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// =============================================================================
// STAKES
// =============================================================================

// ListStakes returns the caller's stakes with live accrual figures.
// GET /api/me/stakes
func (h *Handler) ListStakes(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	stakes, err := h.Service.Store.StakesByUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list stakes", err)
		return
	}

	asOf := h.Service.NowOrDefault()
	dtos := make([]StakeDTO, len(stakes))
	for i, s := range stakes {
		dtos[i] = toStakeDTO(s, asOf)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// OpenStake opens a fixed-term stake with the term table's rate locked.
// POST /api/me/stakes
func (h *Handler) OpenStake(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}

	var req OpenStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	principal, err := decimal.NewFromString(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal", err)
		return
	}

	stake, err := h.Service.OpenStake(r.Context(), id, principal, req.TermDays)
	if err != nil {
		writeDomainError(w, "Failed to open stake", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStakeDTO(*stake, h.Service.NowOrDefault()))
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// ListWithdrawals returns the caller's withdrawal requests.
// GET /api/me/withdrawals
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	ws, err := h.Service.Store.WithdrawalsByUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list withdrawals", err)
		return
	}
	dtos := make([]WithdrawalDTO, len(ws))
	for i, wd := range ws {
		dtos[i] = toWithdrawalDTO(wd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RequestWithdrawal requests a withdrawal. A stake_id in the body
// liquidates that stake for its full payout; otherwise the amount is
// a free withdrawal gated by the eligibility policy.
// POST /api/me/withdrawals
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}

	var req RequestWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		wd  *ledger.Withdrawal
		err error
	)
	if req.StakeID != "" {
		wd, err = h.Service.RequestStakeWithdrawal(r.Context(), id, ledger.StakeID(req.StakeID))
	} else {
		var amount decimal.Decimal
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		wd, err = h.Service.RequestWithdrawal(r.Context(), id, amount)
	}
	if err != nil {
		writeDomainError(w, "Failed to request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(*wd))
}

// =============================================================================
// INBOX
// =============================================================================

// ListMessages returns the caller's inbox.
// GET /api/me/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	msgs, err := h.Service.Inbox(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list messages", err)
		return
	}
	dtos := make([]MessageDTO, len(msgs))
	for i, m := range msgs {
		dtos[i] = toMessageDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MarkMessageRead marks one of the caller's messages as read.
// POST /api/me/messages/{id}/read
func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	msgID := ledger.MessageID(chi.URLParam(r, "id"))
	if err := h.Service.MarkRead(r.Context(), msgID, id); err != nil {
		writeDomainError(w, "Failed to mark message read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ADMIN - QUEUES & DECISIONS
// =============================================================================

// ListUsers returns all member accounts.
// GET /api/admin/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	users, err := h.Service.Store.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list users", err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPendingTransactions returns the transaction review queue.
// GET /api/admin/transactions/pending
func (h *Handler) ListPendingTransactions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	txs, err := h.Service.Store.PendingTransactions(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list pending transactions", err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPendingWithdrawals returns the withdrawal review queue.
// GET /api/admin/withdrawals/pending
func (h *Handler) ListPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	ws, err := h.Service.Store.PendingWithdrawals(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list pending withdrawals", err)
		return
	}
	dtos := make([]WithdrawalDTO, len(ws))
	for i, wd := range ws {
		dtos[i] = toWithdrawalDTO(wd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DecideUser approves or rejects a pending account.
// POST /api/admin/users/{id}/approve|reject
func (h *Handler) DecideUser(outcome ledger.Outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireAdmin(w, r)
		if !ok {
			return
		}
		id := ledger.UserID(chi.URLParam(r, "id"))
		if err := h.Service.DecideUser(r.Context(), id, outcome, adminID); err != nil {
			writeDomainError(w, "Failed to update account", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "outcome": string(outcome)})
	}
}

// DecideTransaction approves or rejects a pending transaction. On
// approval the referral bonus and the notification are written in the
// same database transaction.
// POST /api/admin/transactions/{id}/approve|reject
func (h *Handler) DecideTransaction(outcome ledger.Outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireAdmin(w, r)
		if !ok {
			return
		}
		id := ledger.TransactionID(chi.URLParam(r, "id"))
		if err := h.Service.DecideTransaction(r.Context(), id, outcome, adminID); err != nil {
			writeDomainError(w, "Failed to update transaction", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "outcome": string(outcome)})
	}
}

// DecideWithdrawal approves or rejects a pending withdrawal. Approving
// a stake-bound withdrawal also closes the stake.
// POST /api/admin/withdrawals/{id}/approve|reject
func (h *Handler) DecideWithdrawal(outcome ledger.Outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireAdmin(w, r)
		if !ok {
			return
		}
		id := ledger.WithdrawalID(chi.URLParam(r, "id"))
		if err := h.Service.DecideWithdrawal(r.Context(), id, outcome, adminID); err != nil {
			writeDomainError(w, "Failed to update withdrawal", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "outcome": string(outcome)})
	}
}

// Solvency returns the company-wide assets vs liabilities report.
// GET /api/admin/solvency
func (h *Handler) Solvency(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	report, err := h.Service.Solvency(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to build solvency report", err)
		return
	}
	writeJSON(w, http.StatusOK, toSolvencyDTO(report))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	var validation *ledger.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidStateTransition),
		errors.Is(err, ledger.ErrDuplicateIdentity),
		errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrEligibilityDenied):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
