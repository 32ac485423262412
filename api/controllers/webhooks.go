package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/responses"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// WebhookIngestor verifies and dispatches one gateway delivery.
type WebhookIngestor interface {
	Ingest(ctx context.Context, raw []byte, signature, eventID string) error
}

// PaymentWebhook receives gateway events. The body must reach the
// ingestor byte-exact; the signature was computed over the raw payload.
// Duplicate deliveries return 200 like any other success.
func PaymentWebhook(svc WebhookIngestor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get("X-Signature")
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "signature header missing"))
			return
		}

		eventID := r.Header.Get("X-Event-Id")

		if err := svc.Ingest(ctx, payload, signature, eventID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
