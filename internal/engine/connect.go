package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/payments"
)

type ConnectAccountOptions struct {
	Country string
	ActorID string
}

type ConnectAccountResult struct {
	AccountID     string `json:"account_id"`
	OnboardingURL string `json:"onboarding_url"`
	IsExisting    bool   `json:"is_existing"`
}

// CreateSellerConnectAccount links a payout account to the user's artisan
// profile and returns an onboarding link. An existing account only gets a
// fresh link.
func (e Engine) CreateSellerConnectAccount(ctx context.Context, userID, email string, opts ConnectAccountOptions) (res ConnectAccountResult, err error) {
	ctx, end := e.span(ctx, "engine.CreateSellerConnectAccount", attribute.String("user_id", userID))
	defer func() { end(err) }()

	rail, err := e.rail()
	if err != nil {
		return res, err
	}
	a, err := e.Repo.GetArtisanByUser(ctx, userID)
	if err != nil {
		return res, notFoundAs(err, "artisan for user", userID)
	}
	if a.PayoutAccountID != "" {
		url, err := rail.CreateOnboardingLink(ctx, a.PayoutAccountID, e.Env.OnboardingRefreshURL(), e.Env.OnboardingReturnURL())
		if err != nil {
			return res, External(err, "onboarding link failed (%s)", payments.CategoryOf(err))
		}
		return ConnectAccountResult{AccountID: a.PayoutAccountID, OnboardingURL: url, IsExisting: true}, nil
	}
	country := opts.Country
	if country == "" {
		country = a.Country
	}
	if country == "" {
		country = "FR"
	}
	if email == "" {
		email = a.Email
	}
	if email == "" {
		return res, Validation("email is required to open a payout account")
	}
	accountID, err := rail.CreateConnectedAccount(ctx, payments.AccountRequest{
		Country:      country,
		Email:        email,
		Capabilities: []string{"card_payments", "transfers"},
	})
	if err != nil {
		return res, External(err, "payout account creation failed (%s)", payments.CategoryOf(err))
	}
	// Persist before requesting the link so a link failure does not orphan the account.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetPayoutAccount(ctx, tx, a.ID, accountID, domain.AccountPending, e.now()); err != nil {
		return res, err
	}
	if err := e.appendEvent(ctx, tx, "artisan.payout_account", a.BrandID, "artisan", a.ID, opts.ActorID, events.EventPayload{
		"account_id": accountID, "status": domain.AccountPending,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	url, err := rail.CreateOnboardingLink(ctx, accountID, e.Env.OnboardingRefreshURL(), e.Env.OnboardingReturnURL())
	if err != nil {
		return ConnectAccountResult{AccountID: accountID}, External(err, "onboarding link failed (%s)", payments.CategoryOf(err))
	}
	return ConnectAccountResult{AccountID: accountID, OnboardingURL: url}, nil
}

type ConnectStatus struct {
	HasAccount       bool     `json:"has_account"`
	AccountID        string   `json:"account_id,omitempty"`
	Status           string   `json:"status,omitempty"`
	ChargesEnabled   bool     `json:"charges_enabled"`
	PayoutsEnabled   bool     `json:"payouts_enabled"`
	DetailsSubmitted bool     `json:"details_submitted"`
	Requirements     []string `json:"requirements,omitempty"`
}

// AccountStatusFrom maps the rail's account flags onto the local status.
func AccountStatusFrom(st payments.AccountStatus) string {
	switch {
	case st.ChargesEnabled && st.PayoutsEnabled:
		return domain.AccountActive
	case len(st.PastDue) > 0 || st.DisabledReason != "":
		return domain.AccountRestricted
	default:
		return domain.AccountPending
	}
}

// GetSellerConnectStatus fetches the account's capabilities from the rail and
// refreshes the locally stored account status.
func (e Engine) GetSellerConnectStatus(ctx context.Context, userID string) (st ConnectStatus, err error) {
	ctx, end := e.span(ctx, "engine.GetSellerConnectStatus", attribute.String("user_id", userID))
	defer func() { end(err) }()

	rail, err := e.rail()
	if err != nil {
		return st, err
	}
	a, err := e.Repo.GetArtisanByUser(ctx, userID)
	if err != nil {
		return st, notFoundAs(err, "artisan for user", userID)
	}
	if a.PayoutAccountID == "" {
		return ConnectStatus{HasAccount: false}, nil
	}
	remote, err := rail.RetrieveAccount(ctx, a.PayoutAccountID)
	if err != nil {
		return st, External(err, "payout account lookup failed (%s)", payments.CategoryOf(err))
	}
	st = ConnectStatus{
		HasAccount:       true,
		AccountID:        a.PayoutAccountID,
		Status:           AccountStatusFrom(remote),
		ChargesEnabled:   remote.ChargesEnabled,
		PayoutsEnabled:   remote.PayoutsEnabled,
		DetailsSubmitted: remote.DetailsSubmitted,
		Requirements:     append(append([]string{}, remote.PastDue...), remote.CurrentlyDue...),
	}
	if st.Status == a.PayoutAccountStatus {
		return st, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetPayoutAccount(ctx, tx, a.ID, a.PayoutAccountID, st.Status, e.now()); err != nil {
		return st, err
	}
	if err := e.appendEvent(ctx, tx, "artisan.payout_account", a.BrandID, "artisan", a.ID, events.SystemActor, events.EventPayload{
		"account_id": a.PayoutAccountID, "status": st.Status,
	}); err != nil {
		return st, err
	}
	return st, tx.Commit()
}
