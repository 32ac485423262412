package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/middleware"
	"github.com/dhirensoni-certistage/certistage-app-sub001/api/responses"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/invoices"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// InvoiceReader resolves the payment row an invoice was issued against.
type InvoiceReader interface {
	FindByInvoiceNumber(ctx context.Context, invoiceNumber string) (*models.Payment, error)
}

// InvoiceGet renders the invoice document from the stored columns only,
// so the document stays byte-stable even if the catalog price or fee
// configuration changed after issuance.
func InvoiceGet(repo InvoiceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		number := chi.URLParam(r, "invoiceNumber")
		if number == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invoice number is required"))
			return
		}

		payment, err := repo.FindByInvoiceNumber(ctx, number)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if payment.UserID != userID && middleware.RoleFromContext(ctx) != enums.MemberRoleAdmin.String() {
			// Invoice numbers are sequential and guessable; deny as not
			// found rather than confirming the document exists.
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found"))
			return
		}

		doc, err := invoices.DocumentFromPayment(payment)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, doc)
	}
}
