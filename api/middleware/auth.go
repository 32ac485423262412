package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/responses"
	pkgAuth "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/auth"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/auth/session"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// PlanEnforcer downgrades a lapsed paid plan before any authorization
// decision is made on it.
type PlanEnforcer interface {
	EnforceByID(ctx context.Context, userID string, now time.Time) (string, error)
}

// Auth validates a bearer token and seeds the request context with the
// claims. The plan seeded into the context is the post-enforcement tier:
// a user whose paid term lapsed is downgraded here, synchronously, so no
// handler ever sees an expired plan as active.
func Auth(cfg config.JWTConfig, verifier session.AccessSessionChecker, enforcer PlanEnforcer, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			if claims.ID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id"))
				return
			}

			if verifier != nil {
				ok, err := verifier.HasSession(r.Context(), claims.ID)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session"))
					return
				}
				if !ok {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session unavailable"))
					return
				}
			}

			plan := string(claims.Plan)
			if enforcer != nil {
				effective, err := enforcer.EnforceByID(r.Context(), claims.UserID.String(), time.Now())
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enforce plan expiry"))
					return
				}
				plan = effective
			}

			ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID.String())
			ctx = context.WithValue(ctx, ctxRole, string(claims.Role))
			ctx = context.WithValue(ctx, ctxPlan, plan)

			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"user_id":    claims.UserID.String(),
					"actor_role": string(claims.Role),
					"plan":       plan,
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
