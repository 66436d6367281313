// Package paymentstest provides an in-memory payments.Rail for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sync"

	"atelier/internal/payments"
)

// Rail records every call and returns scripted results.
type Rail struct {
	mu sync.Mutex

	// TransferErr, when set, fails every CreateTransfer call.
	TransferErr error
	AccountErr  error
	Status      payments.AccountStatus

	Accounts  []payments.AccountRequest
	Links     []string
	Transfers []payments.TransferRequest
	seq       int
}

var _ payments.Rail = (*Rail)(nil)

func (r *Rail) CreateConnectedAccount(_ context.Context, req payments.AccountRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AccountErr != nil {
		return "", r.AccountErr
	}
	r.seq++
	r.Accounts = append(r.Accounts, req)
	return fmt.Sprintf("acct_test_%d", r.seq), nil
}

func (r *Rail) CreateOnboardingLink(_ context.Context, accountID, refreshURL, returnURL string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AccountErr != nil {
		return "", r.AccountErr
	}
	url := "https://connect.test/onboarding/" + accountID
	r.Links = append(r.Links, url)
	return url, nil
}

func (r *Rail) CreateTransfer(_ context.Context, req payments.TransferRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Transfers = append(r.Transfers, req)
	if r.TransferErr != nil {
		return "", r.TransferErr
	}
	return "tr_" + req.IdempotencyKey, nil
}

func (r *Rail) RetrieveAccount(_ context.Context, accountID string) (payments.AccountStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AccountErr != nil {
		return payments.AccountStatus{}, r.AccountErr
	}
	return r.Status, nil
}

// TransferCount returns the number of CreateTransfer calls so far.
func (r *Rail) TransferCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Transfers)
}
