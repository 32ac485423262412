package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/orders"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/plans"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/reconcile"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/sweeper"
	pkgAuth "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/auth"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/auth/session"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/redis"
)

type stubSessionChecker struct{}

func (stubSessionChecker) HasSession(context.Context, string) (bool, error) {
	return true, nil
}

type stubEnforcer struct{}

func (stubEnforcer) EnforceByID(_ context.Context, _ string, _ time.Time) (string, error) {
	return string(enums.PlanTierFree), nil
}

type stubUsers struct{}

func (stubUsers) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return &models.User{ID: id, Plan: enums.PlanTierFree}, nil
}

type stubPayments struct{}

func (stubPayments) ListByUser(context.Context, uuid.UUID) ([]models.Payment, error) {
	return nil, nil
}

func (stubPayments) FindByInvoiceNumber(context.Context, string) (*models.Payment, error) {
	return nil, nil
}

type stubCatalog struct{}

func (stubCatalog) List(context.Context) ([]models.Plan, error) {
	return []models.Plan{{Tier: enums.PlanTierStarter, PriceAmount: 99900, CurrencyCode: "INR"}}, nil
}

func (stubCatalog) Quote(context.Context, *models.User, enums.PlanTier, time.Time) (*models.Plan, plans.ProRata, error) {
	return &models.Plan{Tier: enums.PlanTierPro, PriceAmount: 299900, CurrencyCode: "INR"}, plans.ProRata{FinalAmount: 299900}, nil
}

type stubIntents struct{}

func (stubIntents) CreateIntent(context.Context, *models.User, enums.PlanTier) (*orders.Intent, error) {
	return &orders.Intent{OrderID: "order_1", Amount: 99900, Currency: "INR"}, nil
}

type stubReconciler struct{}

func (stubReconciler) Reconcile(context.Context, reconcile.Input) (*reconcile.Outcome, error) {
	return &reconcile.Outcome{Result: reconcile.ResultFinalized}, nil
}

type stubSyncer struct{}

func (stubSyncer) SyncOrder(context.Context, string) (*reconcile.Outcome, error) {
	return &reconcile.Outcome{
		Payment: &models.Payment{Status: enums.PaymentStatusSuccess},
		Result:  reconcile.ResultAlreadyReconciled,
	}, nil
}

func (stubSyncer) SweepAll(context.Context) (*sweeper.Report, error) {
	return &sweeper.Report{}, nil
}

type stubSettings struct{}

func (stubSettings) Set(context.Context, string, string, bool) error {
	return nil
}

func (stubSettings) ListPublic(context.Context) ([]models.Setting, error) {
	return nil, nil
}

type stubSecrets struct{}

func (stubSecrets) KeySecret() string { return "key-secret" }

type stubIngestor struct{}

func (stubIngestor) Ingest(context.Context, []byte, string, string) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Output: io.Discard})
	return NewRouter(
		cfg,
		logg,
		(*redis.Client)(nil),
		stubSessionChecker{},
		stubEnforcer{},
		stubUsers{},
		stubPayments{},
		stubCatalog{},
		stubIntents{},
		stubReconciler{},
		stubSyncer{},
		stubSettings{},
		stubSecrets{},
		stubIngestor{},
	)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.MemberRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "member@example.com",
		Role:   role,
		Plan:   enums.PlanTierFree,
		JTI:    session.NewAccessID(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthRoutesArePublic(t *testing.T) {
	router := newTestRouter(testConfig())
	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestPlanCatalogIsPublic(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestWebhookRouteBypassesAuth(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{}`))
	req.Header.Set("X-Signature", "deadbeef")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestBillingGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestBillingGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	nonAdmin := httptest.NewRequest(http.MethodPut, "/api/admin/v1/payments/sync", nil)
	nonAdmin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, nonAdmin)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodPut, "/api/admin/v1/payments/sync", nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOrderCreateDemandsIdempotencyKey(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"plan":"starter"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if !strings.Contains(envelope.Error.Message, "Idempotency-Key") {
		t.Fatalf("unexpected error message %q", envelope.Error.Message)
	}
}
