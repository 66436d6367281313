package payments

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeRail implements Rail on Stripe Connect express accounts.
type StripeRail struct {
	api *client.API
}

func NewStripeRail(secretKey string, timeout time.Duration) *StripeRail {
	httpClient := &http.Client{Timeout: timeout}
	return &StripeRail{api: client.New(secretKey, stripe.NewBackends(httpClient))}
}

func (s *StripeRail) CreateConnectedAccount(ctx context.Context, req AccountRequest) (string, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String(req.Country),
		Email:   stripe.String(req.Email),
	}
	params.Context = ctx
	caps := &stripe.AccountCapabilitiesParams{}
	for _, c := range req.Capabilities {
		switch c {
		case "card_payments":
			caps.CardPayments = &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)}
		case "transfers":
			caps.Transfers = &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)}
		}
	}
	params.Capabilities = caps
	acct, err := s.api.Accounts.New(params)
	if err != nil {
		return "", classify("create_account", err)
	}
	return acct.ID, nil
}

func (s *StripeRail) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := s.api.AccountLinks.New(params)
	if err != nil {
		return "", classify("create_onboarding_link", err)
	}
	return link.URL, nil
}

func (s *StripeRail) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationAccountID),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	tr, err := s.api.Transfers.New(params)
	if err != nil {
		return "", classify("create_transfer", err)
	}
	return tr.ID, nil
}

func (s *StripeRail) RetrieveAccount(ctx context.Context, accountID string) (AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := s.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return AccountStatus{}, classify("retrieve_account", err)
	}
	st := AccountStatus{
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
	if acct.Requirements != nil {
		st.CurrentlyDue = acct.Requirements.CurrentlyDue
		st.PastDue = acct.Requirements.PastDue
		st.DisabledReason = string(acct.Requirements.DisabledReason)
	}
	return st, nil
}

func classify(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(op, CategoryTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(op, CategoryTimeout, err)
		}
		return NewError(op, CategoryNetwork, err)
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
			return NewError(op, CategoryAuthentication, err)
		case se.HTTPStatusCode == http.StatusTooManyRequests:
			return NewError(op, CategoryRateLimited, err)
		case se.Type == stripe.ErrorTypeInvalidRequest || se.Type == stripe.ErrorTypeIdempotency:
			return NewError(op, CategoryInvalidRequest, err)
		default:
			return NewError(op, CategoryProvider, err)
		}
	}
	return NewError(op, CategoryUnknown, err)
}
