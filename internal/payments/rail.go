// Package payments wraps the external transfer-based payment rail used to
// onboard artisans and disburse payouts.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Rail is the subset of the payment provider atelier depends on.
type Rail interface {
	CreateConnectedAccount(ctx context.Context, req AccountRequest) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
	RetrieveAccount(ctx context.Context, accountID string) (AccountStatus, error)
}

type AccountRequest struct {
	Country      string
	Email        string
	Capabilities []string
}

type TransferRequest struct {
	AmountCents          int64
	Currency             string
	DestinationAccountID string
	// IdempotencyKey makes resubmission of the same payout safe.
	IdempotencyKey string
	Metadata       map[string]string
}

type AccountStatus struct {
	ChargesEnabled   bool     `json:"charges_enabled"`
	PayoutsEnabled   bool     `json:"payouts_enabled"`
	DetailsSubmitted bool     `json:"details_submitted"`
	CurrentlyDue     []string `json:"currently_due"`
	PastDue          []string `json:"past_due"`
	DisabledReason   string   `json:"disabled_reason,omitempty"`
}

// Category is the only part of a provider failure that leaves this package.
type Category string

const (
	CategoryTimeout        Category = "timeout"
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryInvalidRequest Category = "invalid_request"
	CategoryRateLimited    Category = "rate_limited"
	CategoryProvider       Category = "provider_error"
	CategoryUnknown        Category = "unknown"
)

// Error is a sanitized provider failure. Its message never contains the
// provider's own error text.
type Error struct {
	Op       string
	Category Category
	err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment rail %s failed (%s)", e.Op, e.Category)
}

func (e *Error) Unwrap() error { return e.err }

// NewError wraps err under op with the given category.
func NewError(op string, category Category, err error) *Error {
	return &Error{Op: op, Category: category, err: err}
}

// CategoryOf returns the category of a rail error, or CategoryUnknown.
func CategoryOf(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	return CategoryUnknown
}
