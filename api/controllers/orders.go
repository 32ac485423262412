package controllers

import (
	"context"
	"net/http"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/responses"
	"github.com/dhirensoni-certistage/certistage-app-sub001/api/validators"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/orders"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// IntentCreator opens a gateway order for a plan purchase.
type IntentCreator interface {
	CreateIntent(ctx context.Context, user *models.User, target enums.PlanTier) (*orders.Intent, error)
}

type createOrderBody struct {
	Plan string `json:"plan" validate:"required,oneof=starter pro enterprise"`
}

// OrdersCreate starts a plan purchase for the authenticated caller and
// returns the gateway order handle the checkout widget needs.
func OrdersCreate(svc IntentCreator, users UserDirectory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body createOrderBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		tier, err := enums.ParsePlanTier(body.Plan)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan tier"))
			return
		}

		user, err := currentUser(ctx, users)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		intent, err := svc.CreateIntent(ctx, user, tier)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, intent)
	}
}
