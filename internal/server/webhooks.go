package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"atelier/internal/engine"
	"atelier/internal/payments"
)

// registerPaymentWebhook receives transfer notifications from the payment
// rail. The raw body is needed for signature verification, so it is read
// from the buffered request rather than decoded by huma.
func registerPaymentWebhook(api huma.API, e engine.Engine, secret string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	huma.Register(api, huma.Operation{
		OperationID: "payments-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/payments",
		Summary:     "Payment rail webhook",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Signature string `header:"Stripe-Signature"`
	}) (*out[WebhookResponse], error) {
		if secret == "" {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "webhook secret not configured", nil)
		}
		evt, err := payments.ParseTransferEvent(bodyBytes(ctx), input.Signature, secret)
		if err != nil {
			if errors.Is(err, payments.ErrInvalidSignature) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			// Signed but undecodable: acknowledge so the rail stops retrying.
			logger.Warn("dropping malformed transfer webhook", "type", evt.Type, "err", err)
			return reply(WebhookResponse{Received: true}), nil
		}
		if err := e.HandleTransferWebhook(ctx, evt); err != nil {
			logger.Error("transfer webhook failed", "type", evt.Type, "transfer", evt.TransferID, "err", err)
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "webhook processing failed", nil)
		}
		return reply(WebhookResponse{Received: true}), nil
	})
}
