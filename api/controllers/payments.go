package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/responses"
	"github.com/dhirensoni-certistage/certistage-app-sub001/api/validators"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/reconcile"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/sweeper"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/gateway"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// Reconciler dispatches observed gateway outcomes into the core.
type Reconciler interface {
	Reconcile(ctx context.Context, input reconcile.Input) (*reconcile.Outcome, error)
}

// OrderSyncer polls the gateway for pending orders.
type OrderSyncer interface {
	SyncOrder(ctx context.Context, orderID string) (*reconcile.Outcome, error)
	SweepAll(ctx context.Context) (*sweeper.Report, error)
}

// KeySecretSource exposes the gateway key secret for client-proof
// verification. The secret itself never leaves the server.
type KeySecretSource interface {
	KeySecret() string
}

type verifyPaymentBody struct {
	OrderID   string `json:"orderId" validate:"required,max=64"`
	PaymentID string `json:"paymentId" validate:"required,max=64"`
	Signature string `json:"signature" validate:"required,max=256"`
	Plan      string `json:"plan" validate:"omitempty,oneof=starter pro enterprise"`
}

type syncOrderBody struct {
	OrderID string `json:"orderId" validate:"required,max=64"`
}

// PaymentsVerify is the browser callback after checkout. The signature
// is an HMAC over "orderId|paymentId" minted with the key secret; a
// mismatch is recorded as a failed payment rather than discarded, and
// the caller only ever learns "payment could not be verified".
func PaymentsVerify(rec Reconciler, secrets KeySecretSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body verifyPaymentBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := reconcile.Input{
			OrderID:   body.OrderID,
			PaymentID: body.PaymentID,
			Signature: body.Signature,
			UserID:    userID,
			Source:    enums.SourceClientVerified,
		}
		if tier, parseErr := enums.ParsePlanTier(body.Plan); parseErr == nil {
			input.Plan = tier
		}

		if !gateway.VerifyPaymentSignature(body.OrderID, body.PaymentID, body.Signature, secrets.KeySecret()) {
			input.Observed = reconcile.ObservedFailed
			input.FailureReason = "client signature mismatch"
			if _, recErr := rec.Reconcile(ctx, input); recErr != nil && logg != nil {
				logg.Error(ctx, "record signature mismatch", recErr)
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "payment could not be verified"))
			return
		}

		input.Observed = reconcile.ObservedCaptured
		outcome, err := rec.Reconcile(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"success":       true,
			"result":        outcome.Result,
			"invoiceNumber": outcome.InvoiceNumber,
		})
	}
}

// PaymentsSyncOrder forces one order's status to converge with the
// gateway. Operator-triggered; safe to repeat.
func PaymentsSyncOrder(svc OrderSyncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body syncOrderBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := svc.SyncOrder(ctx, body.OrderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"orderId": body.OrderID,
			"result":  outcome.Result,
			"status":  outcome.Payment.Status,
		})
	}
}

// PaymentsSyncAll sweeps every pending payment against the gateway.
func PaymentsSyncAll(svc OrderSyncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		report, err := svc.SweepAll(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// PaymentHistory is the read surface for a user's own payment records.
type PaymentHistory interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Payment, error)
}

type paymentResponse struct {
	OrderID       string  `json:"orderId"`
	PaymentID     *string `json:"paymentId,omitempty"`
	Plan          string  `json:"plan"`
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	InvoiceNumber *string `json:"invoiceNumber,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

// PaymentsList returns the caller's payment history, newest first.
func PaymentsList(repo PaymentHistory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, err := repo.ListByUser(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]paymentResponse, 0, len(rows))
		for i := range rows {
			row := &rows[i]
			out = append(out, paymentResponse{
				OrderID:       row.OrderID,
				PaymentID:     row.PaymentID,
				Plan:          row.Plan.String(),
				Amount:        row.Amount,
				Currency:      row.Currency,
				Status:        row.Status.String(),
				InvoiceNumber: row.InvoiceNumber,
				CreatedAt:     row.CreatedAt.Format(time.RFC3339),
			})
		}
		responses.WriteSuccess(w, map[string]any{"payments": out})
	}
}
