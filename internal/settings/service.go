package settings

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/gateway"
)

// Well-known settings keys for the payment gateway credentials.
const (
	KeyGatewayKeyID         = "gateway.key_id"
	KeyGatewayKeySecret     = "gateway.key_secret"
	KeyGatewayWebhookSecret = "gateway.webhook_secret"
)

// ServiceParams wires the settings store dependencies.
type ServiceParams struct {
	Repo    Repository
	Gateway config.GatewayConfig
}

// Service reads operator-managed settings with environment fallback: a row
// in the settings table wins, a missing row falls back to the env value.
type Service struct {
	repo    Repository
	gateway config.GatewayConfig
}

// NewService builds a settings service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo, gateway: params.Gateway}, nil
}

// Get returns the stored value for key, or fallback when no row exists.
func (s *Service) Get(ctx context.Context, key, fallback string) (string, error) {
	row, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fallback, nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load setting")
	}
	if strings.TrimSpace(row.Value) == "" {
		return fallback, nil
	}
	return row.Value, nil
}

// Set stores a setting value.
func (s *Service) Set(ctx context.Context, key, value string, secret bool) error {
	if strings.TrimSpace(key) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "setting key is required")
	}
	return s.repo.Upsert(ctx, &models.Setting{Key: key, Value: value, Secret: secret})
}

// ListPublic returns the non-secret settings. Secret rows are reported with
// the value redacted.
func (s *Service) ListPublic(ctx context.Context) ([]models.Setting, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list settings")
	}
	for i := range rows {
		if rows[i].Secret {
			rows[i].Value = "********"
		}
	}
	return rows, nil
}

// GatewayCredentials resolves the full gateway key material, store first,
// environment second.
func (s *Service) GatewayCredentials(ctx context.Context) (gateway.Credentials, error) {
	keyID, err := s.Get(ctx, KeyGatewayKeyID, s.gateway.KeyID)
	if err != nil {
		return gateway.Credentials{}, err
	}
	keySecret, err := s.Get(ctx, KeyGatewayKeySecret, s.gateway.KeySecret)
	if err != nil {
		return gateway.Credentials{}, err
	}
	webhookSecret, err := s.Get(ctx, KeyGatewayWebhookSecret, s.gateway.WebhookSecret)
	if err != nil {
		return gateway.Credentials{}, err
	}
	return gateway.Credentials{
		KeyID:         keyID,
		KeySecret:     keySecret,
		WebhookSecret: webhookSecret,
	}, nil
}
