package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/indiguild/offramp-service/internal/provider"
)

// ErrInsufficientBalance means the user's available balance does not cover
// the withdrawal.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrKYCNotVerified means the user has not completed identity verification.
var ErrKYCNotVerified = errors.New("kyc not verified")

// Provider is the slice of the provider client the gate needs.
type Provider interface {
	WithdrawalBalance(ctx context.Context, userID string) (provider.WalletBalance, error)
	UserDetails(ctx context.Context, userID string) (provider.UserDetails, error)
}

// Eligibility is the gate's verdict. Reason is one of the sentinel errors
// above when Eligible is false; BankAccount is the payout account to use
// when eligible.
type Eligibility struct {
	Eligible    bool
	Reason      error
	BankAccount provider.BankAccount
}

// Gate decides whether a withdrawal may proceed: sufficient balance first,
// verified KYC second. Provider transport failures propagate as errors,
// distinct from a business-rule verdict.
type Gate struct {
	provider Provider
	log      *zap.SugaredLogger
}

func New(p Provider, logger *zap.SugaredLogger) *Gate {
	return &Gate{provider: p, log: logger}
}

// CheckEligibility runs the balance check, then the KYC check. A zero
// amount only requires a positive available balance (the queue path);
// otherwise the balance must cover the amount.
func (g *Gate) CheckEligibility(ctx context.Context, userID string, amount decimal.Decimal) (Eligibility, error) {
	balance, err := g.provider.WithdrawalBalance(ctx, userID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("fetch balance for %s: %w", userID, err)
	}
	enough := balance.AvailableBalance.GreaterThan(decimal.Zero)
	if !amount.IsZero() {
		enough = balance.AvailableBalance.GreaterThanOrEqual(amount)
	}
	if !enough {
		g.log.Infow("withdrawal blocked on balance",
			"user_id", userID, "available", balance.AvailableBalance, "requested", amount)
		return Eligibility{Reason: ErrInsufficientBalance}, nil
	}

	details, err := g.provider.UserDetails(ctx, userID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("fetch user details for %s: %w", userID, err)
	}
	if details.KYCStatus != provider.KYCVerified {
		g.log.Infow("withdrawal blocked on kyc", "user_id", userID, "kyc_status", details.KYCStatus)
		return Eligibility{Reason: ErrKYCNotVerified}, nil
	}
	if len(details.BankAccounts) == 0 {
		return Eligibility{}, fmt.Errorf("user %s has no linked bank account", userID)
	}
	return Eligibility{Eligible: true, BankAccount: details.BankAccounts[0]}, nil
}
