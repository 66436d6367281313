package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func TestErrorMessageIsSanitized(t *testing.T) {
	raw := errors.New("card_declined: secret provider detail acct_123")
	err := NewError("create_transfer", CategoryProvider, raw)
	if strings.Contains(err.Error(), "secret") || strings.Contains(err.Error(), "acct_123") {
		t.Fatalf("provider text leaked: %q", err.Error())
	}
	if err.Error() != "payment rail create_transfer failed (provider_error)" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, raw) {
		t.Fatalf("expected unwrap to raw error")
	}
}

func TestCategoryOf(t *testing.T) {
	wrapped := fmt.Errorf("payout: %w", NewError("create_transfer", CategoryRateLimited, errors.New("x")))
	if got := CategoryOf(wrapped); got != CategoryRateLimited {
		t.Fatalf("expected rate_limited, got %s", got)
	}
	if got := CategoryOf(context.DeadlineExceeded); got != CategoryTimeout {
		t.Fatalf("expected timeout, got %s", got)
	}
	if got := CategoryOf(errors.New("boom")); got != CategoryUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestClassifyStripeErrors(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{&stripe.Error{HTTPStatusCode: 401}, CategoryAuthentication},
		{&stripe.Error{HTTPStatusCode: 429}, CategoryRateLimited},
		{&stripe.Error{HTTPStatusCode: 400, Type: stripe.ErrorTypeInvalidRequest}, CategoryInvalidRequest},
		{&stripe.Error{HTTPStatusCode: 500, Type: stripe.ErrorTypeAPI}, CategoryProvider},
		{context.DeadlineExceeded, CategoryTimeout},
		{errors.New("other"), CategoryUnknown},
	}
	for _, tc := range cases {
		if got := classify("op", tc.err).Category; got != tc.want {
			t.Fatalf("classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestParseTransferEventRejectsBadSignature(t *testing.T) {
	_, err := ParseTransferEvent([]byte(`{"type":"transfer.updated"}`), "t=1,v1=deadbeef", "whsec_test")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestParseTransferEventDecodesReversal(t *testing.T) {
	body := []byte(`{"id":"evt_1","object":"event","type":"transfer.updated","data":{"object":{"id":"tr_123","object":"transfer","reversed":false,"amount_reversed":250}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	evt, err := ParseTransferEvent(signed.Payload, signed.Header, "whsec_test")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !evt.Relevant() || evt.TransferID != "tr_123" || evt.AmountReversed != 250 || evt.Reversed {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestParseTransferEventIgnoresOtherTypes(t *testing.T) {
	body := []byte(`{"id":"evt_2","object":"event","type":"payout.paid","data":{"object":{"id":"po_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	evt, err := ParseTransferEvent(signed.Payload, signed.Header, "whsec_test")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Relevant() {
		t.Fatalf("expected irrelevant event, got %+v", evt)
	}
}
