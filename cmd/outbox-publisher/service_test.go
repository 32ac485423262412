package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	dlq       []models.OutboxDLQ
}

func (r *fakeRepo) FetchUnpublished(limit int) ([]models.OutboxEvent, error) {
	if limit < len(r.events) {
		return r.events[:limit], nil
	}
	return r.events, nil
}

func (r *fakeRepo) MarkPublished(id uuid.UUID) error {
	r.published = append(r.published, id)
	return nil
}

func (r *fakeRepo) MarkFailed(id uuid.UUID, _ error) error {
	r.failed = append(r.failed, id)
	return nil
}

func (r *fakeRepo) MoveToDLQ(row models.OutboxDLQ) error {
	r.dlq = append(r.dlq, row)
	return nil
}

type fakePublisher struct {
	errs   []error
	calls  int
	topics []string
}

func (p *fakePublisher) publish(topic string) publisher {
	return publishFunc(func(context.Context, []byte, map[string]string) error {
		p.topics = append(p.topics, topic)
		call := p.calls
		p.calls++
		if call < len(p.errs) {
			return p.errs[call]
		}
		return nil
	})
}

type publishFunc func(context.Context, []byte, map[string]string) error

func (f publishFunc) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	return f(ctx, data, attrs)
}

func newTestService(t *testing.T, repo *fakeRepo, pub *fakePublisher) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.PubSub.BillingTopic = "billing-topic"
	cfg.PubSub.NotificationTopic = "notification-topic"
	cfg.Outbox.MaxAttempts = 3
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logger.New(logger.Options{ServiceName: "test"}),
		Repository:       repo,
		PublisherFactory: pub.publish,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func billingEvent(eventType enums.OutboxEventType) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1}`),
	}
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		billingEvent(enums.EventPaymentSucceeded),
		billingEvent(enums.EventInvoiceIssued),
	}}
	pub := &fakePublisher{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, pub)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestProcessBatchMovesExhaustedEventToDLQ(t *testing.T) {
	event := billingEvent(enums.EventPaymentFailed)
	event.AttemptCount = 2 // one short of MaxAttempts
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{errs: []error{errors.New("still broken")}}
	service := newTestService(t, repo, pub)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("exhausted event should not be marked failed again")
	}
	if got := len(repo.dlq); got != 1 {
		t.Fatalf("unexpected number of dlq rows: %d", got)
	}
	row := repo.dlq[0]
	if row.EventID != event.ID {
		t.Fatalf("dlq row recorded wrong event ID")
	}
	if row.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected dlq reason: %s", row.ErrorReason)
	}
	if row.ErrorMessage == nil || *row.ErrorMessage != "still broken" {
		t.Fatalf("dlq row missing cause message")
	}
}

func TestTopicRouting(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		billingEvent(enums.EventPlanActivated),
		{
			ID:            uuid.New(),
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{"version":1}`),
		},
	}}
	pub := &fakePublisher{}
	service := newTestService(t, repo, pub)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.topics) != 2 {
		t.Fatalf("unexpected number of publishes: %d", len(pub.topics))
	}
	if pub.topics[0] != "billing-topic" {
		t.Fatalf("billing event routed to %s", pub.topics[0])
	}
	if pub.topics[1] != "notification-topic" {
		t.Fatalf("notification event routed to %s", pub.topics[1])
	}
}

func TestProcessBatchReportsIdle(t *testing.T) {
	repo := &fakeRepo{}
	service := newTestService(t, repo, &fakePublisher{})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("empty batch should report idle")
	}
}
