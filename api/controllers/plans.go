package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/responses"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/plans"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// PlanCatalog describes the plan operations used by the HTTP controllers.
type PlanCatalog interface {
	List(ctx context.Context) ([]models.Plan, error)
	Quote(ctx context.Context, user *models.User, target enums.PlanTier, now time.Time) (*models.Plan, plans.ProRata, error)
}

type planResponse struct {
	Tier         string   `json:"tier"`
	Name         string   `json:"name"`
	PriceAmount  int64    `json:"priceAmount"`
	PriceDisplay string   `json:"priceDisplay"`
	CurrencyCode string   `json:"currencyCode"`
	TermDays     int      `json:"termDays"`
	CertQuota    int      `json:"certQuota"`
	Features     []string `json:"features"`
}

func planToResponse(plan *models.Plan) planResponse {
	return planResponse{
		Tier:         plan.Tier.String(),
		Name:         plan.Name,
		PriceAmount:  plan.PriceAmount,
		PriceDisplay: plan.PriceDisplay.String(),
		CurrencyCode: plan.CurrencyCode,
		TermDays:     plan.TermDays,
		CertQuota:    plan.CertQuota,
		Features:     plan.Features,
	}
}

// PlansList is public: the pricing page renders from it.
func PlansList(catalog PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		rows, err := catalog.List(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]planResponse, 0, len(rows))
		for i := range rows {
			out = append(out, planToResponse(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{"plans": out})
	}
}

// PlanQuote prices an upgrade to the requested tier for the caller,
// crediting the unused days of the current paid term.
func PlanQuote(catalog PlanCatalog, users UserDirectory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tier, err := enums.ParsePlanTier(chi.URLParam(r, "tier"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan tier"))
			return
		}

		user, err := currentUser(ctx, users)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		plan, quote, err := catalog.Quote(ctx, user, tier, time.Now())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"plan":  planToResponse(plan),
			"quote": quote,
		})
	}
}

