/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Users:
    UserDTO, SignupRequest

  Ledger:
    TransactionDTO, SubmitTransactionRequest
    BalanceDTO

  Stakes:
    StakeDTO, OpenStakeRequest

  Withdrawals:
    WithdrawalDTO, RequestWithdrawalRequest

  Admin:
    SolvencyDTO

  Inbox:
    MessageDTO

MONEY:
  All monetary fields are JSON strings carrying exact decimal values
  ("12500.00"), never floats. Clients parse them with their own decimal
  type.

VALIDATION:
  Validation is done in handlers and the core, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain entities these project
*/
package api

import (
	"time"

	"github.com/kedimoney/ledger-engine/ledger"
)

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a member account in API responses.
type UserDTO struct {
	ID               string `json:"id"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	Phone            string `json:"phone,omitempty"`
	Role             string `json:"role"`
	Status           string `json:"status"`
	ReferralCode     string `json:"referral_code,omitempty"`
	ReferredBy       string `json:"referred_by,omitempty"`
	EstimatedBalance string `json:"estimated_balance"`
	CreatedAt        string `json:"created_at"`
}

// SignupRequest creates a new member account.
type SignupRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	Phone        string `json:"phone"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a ledger transaction in API responses.
type TransactionDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// SubmitTransactionRequest records a pending deposit-side transaction.
type SubmitTransactionRequest struct {
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

// =============================================================================
// BALANCE
// =============================================================================

// BalanceDTO is the full derived balance breakdown.
type BalanceDTO struct {
	AsOf           string `json:"as_of"`
	Deposits       string `json:"deposits"`
	Bonuses        string `json:"bonuses"`
	StakeInterest  string `json:"stake_interest"`
	Withdrawals    string `json:"withdrawals"`
	LoanRepayments string `json:"loan_repayments"`
	Available      string `json:"available"`
}

// =============================================================================
// STAKES
// =============================================================================

// StakeDTO represents a stake in API responses. AccruedInterest and
// Payout are computed at response time from the locked rate.
type StakeDTO struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	Principal       string `json:"principal"`
	TermDays        int    `json:"term_days"`
	Rate            string `json:"rate"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Status          string `json:"status"`
	AccruedInterest string `json:"accrued_interest"`
	Payout          string `json:"payout"`
	Matured         bool   `json:"matured"`
}

// OpenStakeRequest opens a fixed-term stake.
type OpenStakeRequest struct {
	Principal string `json:"principal"`
	TermDays  int    `json:"term_days"`
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// WithdrawalDTO represents a withdrawal request in API responses.
type WithdrawalDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	StakeID     string `json:"stake_id,omitempty"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	RequestDate string `json:"request_date"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

// RequestWithdrawalRequest requests a free-amount withdrawal. StakeID,
// when set, requests liquidation of that stake instead and Amount is
// ignored.
type RequestWithdrawalRequest struct {
	Amount  string `json:"amount"`
	StakeID string `json:"stake_id"`
}

// =============================================================================
// ADMIN
// =============================================================================

// SolvencyDTO is the company-wide assets/liabilities report.
type SolvencyDTO struct {
	GeneratedAt         string `json:"generated_at"`
	TotalDeposits       string `json:"total_deposits"`
	ActiveStakes        string `json:"active_stakes"`
	TotalUserBalances   string `json:"total_user_balances"`
	ApprovedWithdrawals string `json:"approved_withdrawals"`
	PendingWithdrawals  string `json:"pending_withdrawals"`
	TotalBonuses        string `json:"total_bonuses"`
	TotalAssets         string `json:"total_assets"`
	TotalLiabilities    string `json:"total_liabilities"`
	NetAssets           string `json:"net_assets"`
}

// =============================================================================
// INBOX
// =============================================================================

// MessageDTO represents an inbox notification.
type MessageDTO struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	Type         string `json:"type"`
	ActivityType string `json:"activity_type,omitempty"`
	ActivityID   string `json:"activity_id,omitempty"`
	IsRead       bool   `json:"is_read"`
	CreatedAt    string `json:"created_at"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:               string(u.ID),
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Email:            u.Email,
		Username:         u.Username,
		Phone:            u.Phone,
		Role:             string(u.Role),
		Status:           string(u.Status),
		ReferralCode:     u.ReferralCode,
		ReferredBy:       string(u.ReferredBy),
		EstimatedBalance: u.EstimatedBalance.String(),
		CreatedAt:        u.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:        string(tx.ID),
		UserID:    string(tx.UserID),
		Type:      string(tx.Type),
		Amount:    tx.Amount.String(),
		Reference: tx.Reference,
		Status:    string(tx.Status),
		CreatedAt: tx.CreatedAt.Format(time.RFC3339),
	}
}

func toBalanceDTO(b ledger.BalanceBreakdown) BalanceDTO {
	return BalanceDTO{
		AsOf:           b.AsOf.Format(time.RFC3339),
		Deposits:       b.Deposits.String(),
		Bonuses:        b.Bonuses.String(),
		StakeInterest:  b.StakeInterest.String(),
		Withdrawals:    b.Withdrawals.String(),
		LoanRepayments: b.LoanRepayments.String(),
		Available:      b.Available.String(),
	}
}

func toStakeDTO(s ledger.Stake, asOf time.Time) StakeDTO {
	return StakeDTO{
		ID:              string(s.ID),
		UserID:          string(s.UserID),
		Principal:       s.Principal.String(),
		TermDays:        s.TermDays,
		Rate:            s.Rate.String(),
		StartDate:       s.StartDate.Format(time.RFC3339),
		EndDate:         s.EndDate.Format(time.RFC3339),
		Status:          string(s.Status),
		AccruedInterest: ledger.AccruedInterest(s, asOf).String(),
		Payout:          s.Payout().String(),
		Matured:         s.Matured(asOf),
	}
}

func toWithdrawalDTO(w ledger.Withdrawal) WithdrawalDTO {
	dto := WithdrawalDTO{
		ID:          string(w.ID),
		UserID:      string(w.UserID),
		StakeID:     string(w.StakeID),
		Amount:      w.Amount.String(),
		Status:      string(w.Status),
		RequestDate: w.RequestDate.Format(time.RFC3339),
	}
	if w.ProcessedAt != nil {
		dto.ProcessedAt = w.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func toMessageDTO(m ledger.Message) MessageDTO {
	return MessageDTO{
		ID:           string(m.ID),
		Subject:      m.Subject,
		Body:         m.Body,
		Type:         m.Type,
		ActivityType: m.ActivityType,
		ActivityID:   m.ActivityID,
		IsRead:       m.IsRead,
		CreatedAt:    m.CreatedAt.Format(time.RFC3339),
	}
}

func toSolvencyDTO(r ledger.SolvencyReport) SolvencyDTO {
	return SolvencyDTO{
		GeneratedAt:         r.GeneratedAt.Format(time.RFC3339),
		TotalDeposits:       r.TotalDeposits.String(),
		ActiveStakes:        r.ActiveStakes.String(),
		TotalUserBalances:   r.TotalUserBalances.String(),
		ApprovedWithdrawals: r.ApprovedWithdrawals.String(),
		PendingWithdrawals:  r.PendingWithdrawals.String(),
		TotalBonuses:        r.TotalBonuses.String(),
		TotalAssets:         r.TotalAssets.String(),
		TotalLiabilities:    r.TotalLiabilities.String(),
		NetAssets:           r.NetAssets.String(),
	}
}
