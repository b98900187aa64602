package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/edulink-io/crm-bridge/internal/delivery"
	"github.com/edulink-io/crm-bridge/internal/events"
	"github.com/edulink-io/crm-bridge/pkg/db/models"
	"github.com/edulink-io/crm-bridge/pkg/enums"
	pkgerrors "github.com/edulink-io/crm-bridge/pkg/errors"
	"github.com/edulink-io/crm-bridge/pkg/logger"
	"github.com/edulink-io/crm-bridge/pkg/metrics"
)

// Envelope is the wire format posted to the CRM backend.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     enums.EventType `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	MoodleEventID *int64          `json:"moodle_event_id"`
	Timestamp     int64           `json:"timestamp"`
}

// Outcome reports one dispatch or redelivery. A failed delivery is a valid
// outcome, not an error: the failure has been persisted and the retry cycle
// owns it from there.
type Outcome struct {
	EventID        uuid.UUID
	Success        bool
	StatusCode     int
	Action         *enums.EventAction
	RemoteRecordID *string
}

// EventStore is the durable record the dispatcher writes through.
type EventStore interface {
	Create(ctx context.Context, event models.CRMEvent) error
	MarkSent(ctx context.Context, id uuid.UUID, httpStatus int, action *enums.EventAction) error
	MarkFailed(ctx context.Context, id uuid.UUID, status enums.EventStatus, httpStatus *int, sendErr error, nextRetryAt time.Time) error
}

// Sender performs the outbound call.
type Sender interface {
	Send(ctx context.Context, body []byte) (*delivery.Result, error)
}

// ServiceParams configure the dispatcher.
type ServiceParams struct {
	Logger  *logger.Logger
	Store   EventStore
	Sender  Sender
	Backoff events.BackoffConfig
	Metrics *metrics.DeliveryMetrics
	Now     func() time.Time
	Rand    *rand.Rand
}

// Service orchestrates event persistence and delivery. It is the only place
// an event ID is minted, which guarantees retries reuse the same identifier.
type Service struct {
	logg    *logger.Logger
	store   EventStore
	sender  Sender
	backoff events.BackoffConfig
	metrics *metrics.DeliveryMetrics
	now     func() time.Time
	rng     *rand.Rand
}

// NewService builds a dispatcher.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Store == nil {
		return nil, errors.New("event store is required")
	}
	if params.Sender == nil {
		return nil, errors.New("sender is required")
	}
	backoff := params.Backoff
	if backoff.BaseDelay <= 0 {
		backoff = events.DefaultBackoff()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:    params.Logger,
		store:   params.Store,
		sender:  params.Sender,
		backoff: backoff,
		metrics: params.Metrics,
		now:     now,
		rng:     params.Rand,
	}, nil
}

// Option attaches optional context to a dispatched event.
type Option func(*models.CRMEvent)

// WithMoodleEventID carries the host platform's own event identifier.
func WithMoodleEventID(id int64) Option {
	return func(e *models.CRMEvent) {
		e.MoodleEventID = &id
	}
}

// WithRelatedEntityName sets the denormalized display hint.
func WithRelatedEntityName(name string) Option {
	return func(e *models.CRMEvent) {
		if name != "" {
			e.RelatedEntityName = &name
		}
	}
}

// Dispatch creates a durable event and attempts delivery once. The row is
// written before any network activity; a delivery failure is persisted and
// reported through the outcome, never raised. An error return means the event
// could not be recorded at all (nothing was sent) or a status write failed.
func (s *Service) Dispatch(ctx context.Context, eventType enums.EventType, payload any, opts ...Option) (*Outcome, error) {
	if !eventType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid event type %q", eventType))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal event payload")
	}

	event := models.CRMEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   data,
		Status:    enums.EventStatusPending,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&event)
		}
	}

	if err := s.store.Create(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist event")
	}

	logCtx := s.logg.WithEventID(ctx, event.ID.String())
	logCtx = s.logg.WithEventType(logCtx, string(eventType))
	s.logg.Info(logCtx, "event queued")

	return s.attempt(logCtx, event, enums.EventStatusFailed)
}

// Redeliver re-sends an existing retryable event, reusing its identifier.
// Driven by the retry worker once the candidate scan declares the event due.
func (s *Service) Redeliver(ctx context.Context, event models.CRMEvent) (*Outcome, error) {
	if event.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	logCtx := s.logg.WithEventID(ctx, event.ID.String())
	logCtx = s.logg.WithEventType(logCtx, string(event.EventType))
	logCtx = s.logg.WithField(logCtx, "retry_count", event.RetryCount)
	s.logg.Info(logCtx, "redelivering event")
	if s.metrics != nil {
		s.metrics.IncRedelivery()
	}

	return s.attempt(logCtx, event, enums.EventStatusRetrying)
}

// attempt performs one delivery and always ends in a status write. failStatus
// distinguishes a first failure from a redelivery failure in the public
// status vocabulary; both remain retryable.
func (s *Service) attempt(ctx context.Context, event models.CRMEvent, failStatus enums.EventStatus) (*Outcome, error) {
	envelope := Envelope{
		EventID:       event.ID.String(),
		EventType:     event.EventType,
		EventData:     event.Payload,
		MoodleEventID: event.MoodleEventID,
		Timestamp:     s.now().Unix(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		// An unmarshalable envelope can never succeed; record it as failed.
		return s.recordFailure(ctx, event, failStatus, nil, err)
	}

	start := s.now()
	result, sendErr := s.sender.Send(ctx, body)
	if s.metrics != nil {
		s.metrics.ObserveDuration(string(event.EventType), s.now().Sub(start))
	}

	if sendErr == nil && result != nil {
		if err := s.store.MarkSent(ctx, event.ID, result.StatusCode, result.Action); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery success")
		}
		if s.metrics != nil {
			s.metrics.IncAttempt(string(event.EventType), "sent")
		}
		s.logg.Info(s.logg.WithField(ctx, "http_status", result.StatusCode), "event delivered")
		return &Outcome{
			EventID:        event.ID,
			Success:        true,
			StatusCode:     result.StatusCode,
			Action:         result.Action,
			RemoteRecordID: result.RemoteRecordID,
		}, nil
	}

	var httpStatus *int
	if result != nil {
		httpStatus = &result.StatusCode
	}
	return s.recordFailure(ctx, event, failStatus, httpStatus, sendErr)
}

func (s *Service) recordFailure(ctx context.Context, event models.CRMEvent, failStatus enums.EventStatus, httpStatus *int, sendErr error) (*Outcome, error) {
	nextRetry := events.NextRetryAt(s.now(), event.RetryCount+1, s.backoff, s.rng)
	if err := s.store.MarkFailed(ctx, event.ID, failStatus, httpStatus, sendErr, nextRetry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery failure")
	}
	if s.metrics != nil {
		s.metrics.IncAttempt(string(event.EventType), "failed")
	}

	fields := map[string]any{"next_retry_at": nextRetry}
	if httpStatus != nil {
		fields["http_status"] = *httpStatus
	}
	if sendErr != nil {
		fields["error"] = sendErr.Error()
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), "event delivery failed")

	outcome := &Outcome{EventID: event.ID, Success: false}
	if httpStatus != nil {
		outcome.StatusCode = *httpStatus
	}
	return outcome, nil
}
