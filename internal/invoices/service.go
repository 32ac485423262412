package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/payments"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// Document is the retrievable invoice. It is rendered strictly from the
// persisted payment columns, so a document fetched years later carries the
// totals computed at issuance.
type Document struct {
	InvoiceNumber string         `json:"invoiceNumber"`
	IssuedAt      time.Time      `json:"issuedAt"`
	OrderID       string         `json:"orderId"`
	PaymentID     string         `json:"paymentId,omitempty"`
	Plan          enums.PlanTier `json:"plan"`
	Currency      string         `json:"currency"`
	BaseAmount    int64          `json:"baseAmount"`
	GatewayFee    int64          `json:"gatewayFee"`
	Total         int64          `json:"total"`
}

// ServiceParams wires the invoice service dependencies.
type ServiceParams struct {
	Repo   payments.Repository
	Config config.InvoiceConfig
	Logger *logger.Logger
}

// Service issues invoices exactly once per successful payment.
type Service struct {
	repo   payments.Repository
	cfg    config.InvoiceConfig
	logg   *logger.Logger
	prefix string
}

// NewService builds an invoice service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	prefix := params.Config.Prefix
	if prefix == "" {
		prefix = "CS"
	}
	return &Service{
		repo:   params.Repo,
		cfg:    params.Config,
		logg:   params.Logger,
		prefix: prefix,
	}, nil
}

// Issue computes and persists the invoice fields for a successful payment.
// The conditional write in the repository makes this idempotent: the first
// caller wins, later callers get issued=false and the stored fields are
// left exactly as first written.
func (s *Service) Issue(ctx context.Context, payment *models.Payment, now time.Time) (payments.InvoiceFields, bool, error) {
	if payment == nil {
		return payments.InvoiceFields{}, false, errors.New("payment is required")
	}
	if payment.InvoiceNumber != nil {
		return payments.InvoiceFields{}, false, nil
	}

	seq, err := s.repo.NextInvoiceSeq(ctx, now.Year())
	if err != nil {
		return payments.InvoiceFields{}, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "next invoice sequence")
	}

	fee := gatewayFee(payment.Amount, s.cfg.GatewayFeeBPS)
	fields := payments.InvoiceFields{
		Number:     fmt.Sprintf("%s-%d-%06d", s.prefix, now.Year(), seq),
		IssuedAt:   now,
		BaseAmount: payment.Amount - fee,
		GatewayFee: fee,
	}

	issued, err := s.repo.SetInvoice(ctx, payment.OrderID, fields)
	if err != nil {
		return payments.InvoiceFields{}, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist invoice")
	}
	if issued && s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, payment.OrderID)
		s.logg.Info(logCtx, "invoice issued")
	}
	return fields, issued, nil
}

// Get renders the invoice document by number.
func (s *Service) Get(ctx context.Context, invoiceNumber string) (*Document, error) {
	payment, err := s.repo.FindByInvoiceNumber(ctx, invoiceNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	return DocumentFromPayment(payment)
}

// DocumentFromPayment builds the stable document from persisted columns.
func DocumentFromPayment(payment *models.Payment) (*Document, error) {
	if payment == nil || payment.InvoiceNumber == nil || payment.InvoiceIssuedAt == nil ||
		payment.InvoiceBaseAmount == nil || payment.InvoiceGatewayFee == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not issued")
	}

	doc := &Document{
		InvoiceNumber: *payment.InvoiceNumber,
		IssuedAt:      *payment.InvoiceIssuedAt,
		OrderID:       payment.OrderID,
		Plan:          payment.Plan,
		Currency:      payment.Currency,
		BaseAmount:    *payment.InvoiceBaseAmount,
		GatewayFee:    *payment.InvoiceGatewayFee,
		Total:         *payment.InvoiceBaseAmount + *payment.InvoiceGatewayFee,
	}
	if payment.PaymentID != nil {
		doc.PaymentID = *payment.PaymentID
	}
	return doc, nil
}

func gatewayFee(amount int64, bps int) int64 {
	if bps <= 0 || amount <= 0 {
		return 0
	}
	// Round half up in minor units.
	return (amount*int64(bps) + 5000) / 10000
}
