package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const EventTransferUpdated = "transfer.updated"

// ErrInvalidSignature reports a webhook payload that failed verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// TransferEvent is the decoded transfer status notification.
type TransferEvent struct {
	Type           string `json:"type"`
	TransferID     string `json:"transfer_id"`
	Reversed       bool   `json:"reversed"`
	AmountReversed int64  `json:"amount_reversed"`
}

// Relevant reports whether the event carries a transfer status change.
func (e TransferEvent) Relevant() bool {
	return e.Type == EventTransferUpdated && e.TransferID != ""
}

// ParseTransferEvent verifies the signature header and decodes the payload.
// Events of other types decode to a TransferEvent with only Type set.
func ParseTransferEvent(payload []byte, signature, secret string) (TransferEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return TransferEvent{}, ErrInvalidSignature
	}
	out := TransferEvent{Type: string(event.Type)}
	if out.Type != EventTransferUpdated || event.Data == nil {
		return out, nil
	}
	var tr stripe.Transfer
	if err := json.Unmarshal(event.Data.Raw, &tr); err != nil {
		return out, fmt.Errorf("decode transfer: %w", err)
	}
	out.TransferID = tr.ID
	out.Reversed = tr.Reversed
	out.AmountReversed = tr.AmountReversed
	return out, nil
}
