package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

var (
	errKeyIDRequired     = errors.New("gateway key id is required")
	errKeySecretRequired = errors.New("gateway key secret is required")
	errLoggerRequired    = errors.New("gateway logger is required")
)

// API is the gateway surface consumed by the order builder and the sweeper.
type API interface {
	CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	KeyID() string
}

// Credentials carries the key material resolved from the settings store,
// falling back to environment configuration.
type Credentials struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// Client talks to the payment gateway's REST API with centralized auth,
// timeouts, and error mapping.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	logger        *logger.Logger
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.GatewayConfig, creds Credentials, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	keyID := strings.TrimSpace(creds.KeyID)
	if keyID == "" {
		keyID = strings.TrimSpace(cfg.KeyID)
	}
	if keyID == "" {
		return nil, errKeyIDRequired
	}

	keySecret := strings.TrimSpace(creds.KeySecret)
	if keySecret == "" {
		keySecret = strings.TrimSpace(cfg.KeySecret)
	}
	if keySecret == "" {
		return nil, errKeySecretRequired
	}

	webhookSecret := strings.TrimSpace(creds.WebhookSecret)
	if webhookSecret == "" {
		webhookSecret = strings.TrimSpace(cfg.WebhookSecret)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		logger:        logg,
	}

	logg.Info(ctx, "gateway client initialized")
	return c, nil
}

// KeyID returns the public key handed to the checkout widget. The secret key
// never leaves the server.
func (c *Client) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

// KeySecret returns the shared secret used for payment proof HMACs.
func (c *Client) KeySecret() string {
	if c == nil {
		return ""
	}
	return c.keySecret
}

// WebhookSecret returns the shared secret for webhook signatures.
func (c *Client) WebhookSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// CreateOrder registers an intended charge with the gateway.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	if params.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}
	if params.Currency == "" {
		params.Currency = "INR"
	}

	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchOrder returns the gateway's authoritative view of an order.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	var order Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchOrderPayments lists the charges attempted against an order.
func (c *Client) FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	var out struct {
		Count int       `json:"count"`
		Items []Payment `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID+"/payments", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// FetchPayment returns a single charge by gateway payment id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read gateway response")
	}

	if resp.StatusCode >= 500 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("gateway returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if jsonErr := json.Unmarshal(payload, &apiErr); jsonErr == nil && apiErr.Error.Description != "" {
			return pkgerrors.New(pkgerrors.CodeValidation, apiErr.Error.Description).
				WithDetails(map[string]any{"gateway_code": apiErr.Error.Code})
		}
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("gateway returned %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	return nil
}
