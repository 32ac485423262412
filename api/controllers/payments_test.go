package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/middleware"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/reconcile"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/sweeper"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/gateway"
)

type stubReconciler struct {
	inputs  []reconcile.Input
	outcome *reconcile.Outcome
	err     error
}

func (s *stubReconciler) Reconcile(_ context.Context, input reconcile.Input) (*reconcile.Outcome, error) {
	s.inputs = append(s.inputs, input)
	return s.outcome, s.err
}

type stubSecrets struct {
	secret string
}

func (s stubSecrets) KeySecret() string { return s.secret }

func verifyRequest(t *testing.T, userID uuid.UUID, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func TestPaymentsVerifyDispatchesCapture(t *testing.T) {
	userID := uuid.New()
	secret := "key-secret"
	sig := gateway.SignPaymentProof("order_1", "pay_1", secret)
	rec := &stubReconciler{outcome: &reconcile.Outcome{
		Payment:       &models.Payment{OrderID: "order_1"},
		Result:        reconcile.ResultFinalized,
		InvoiceNumber: "CS-2526-00042",
	}}

	body := `{"orderId":"order_1","paymentId":"pay_1","signature":"` + sig + `","plan":"pro"}`
	resp := httptest.NewRecorder()
	PaymentsVerify(rec, stubSecrets{secret: secret}, nil).ServeHTTP(resp, verifyRequest(t, userID, body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(rec.inputs) != 1 {
		t.Fatalf("expected one reconcile dispatch, got %d", len(rec.inputs))
	}
	input := rec.inputs[0]
	if input.Observed != reconcile.ObservedCaptured {
		t.Fatalf("expected captured observation, got %s", input.Observed)
	}
	if input.Source != enums.SourceClientVerified {
		t.Fatalf("unexpected source %s", input.Source)
	}
	if input.UserID != userID {
		t.Fatalf("unexpected user %s", input.UserID)
	}
	if input.Plan != enums.PlanTierPro {
		t.Fatalf("unexpected plan %s", input.Plan)
	}

	var envelope struct {
		Data struct {
			Success       bool   `json:"success"`
			Result        string `json:"result"`
			InvoiceNumber string `json:"invoiceNumber"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Data.Success {
		t.Fatal("expected success flag")
	}
	if envelope.Data.InvoiceNumber != "CS-2526-00042" {
		t.Fatalf("unexpected invoice number %s", envelope.Data.InvoiceNumber)
	}
}

func TestPaymentsVerifyRecordsSignatureMismatch(t *testing.T) {
	userID := uuid.New()
	rec := &stubReconciler{outcome: &reconcile.Outcome{Result: reconcile.ResultFailed}}

	body := `{"orderId":"order_1","paymentId":"pay_1","signature":"forged"}`
	resp := httptest.NewRecorder()
	PaymentsVerify(rec, stubSecrets{secret: "key-secret"}, nil).ServeHTTP(resp, verifyRequest(t, userID, body))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	// the forged attempt is still persisted as evidence
	if len(rec.inputs) != 1 {
		t.Fatalf("expected failed observation to be dispatched, got %d", len(rec.inputs))
	}
	if rec.inputs[0].Observed != reconcile.ObservedFailed {
		t.Fatalf("expected failed observation, got %s", rec.inputs[0].Observed)
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeSignature) {
		t.Fatalf("unexpected error code %s", envelope.Error.Code)
	}
	if strings.Contains(envelope.Error.Message, "mismatch") {
		t.Fatalf("response leaks mismatch detail: %s", envelope.Error.Message)
	}
}

func TestPaymentsVerifyRequiresAuthenticatedUser(t *testing.T) {
	rec := &stubReconciler{}
	body := `{"orderId":"order_1","paymentId":"pay_1","signature":"sig"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	PaymentsVerify(rec, stubSecrets{secret: "key-secret"}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if len(rec.inputs) != 0 {
		t.Fatal("unauthenticated request must not reach the reconciler")
	}
}

type stubSyncer struct {
	outcome *reconcile.Outcome
	report  *sweeper.Report
	err     error
	orderID string
}

func (s *stubSyncer) SyncOrder(_ context.Context, orderID string) (*reconcile.Outcome, error) {
	s.orderID = orderID
	return s.outcome, s.err
}

func (s *stubSyncer) SweepAll(context.Context) (*sweeper.Report, error) {
	return s.report, s.err
}

func TestPaymentsSyncOrder(t *testing.T) {
	svc := &stubSyncer{outcome: &reconcile.Outcome{
		Payment: &models.Payment{OrderID: "order_9", Status: enums.PaymentStatusSuccess},
		Result:  reconcile.ResultAlreadyReconciled,
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/payments/sync", strings.NewReader(`{"orderId":"order_9"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	PaymentsSyncOrder(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.orderID != "order_9" {
		t.Fatalf("sync called with %s", svc.orderID)
	}
}

func TestPaymentsSyncAllReturnsReport(t *testing.T) {
	svc := &stubSyncer{report: &sweeper.Report{Total: 3, Synced: 2, Success: 1, StillPending: 1, Errors: 1}}

	req := httptest.NewRequest(http.MethodPut, "/api/admin/v1/payments/sync", nil)
	resp := httptest.NewRecorder()
	PaymentsSyncAll(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data sweeper.Report `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Total != 3 || envelope.Data.StillPending != 1 {
		t.Fatalf("unexpected report %+v", envelope.Data)
	}
}
