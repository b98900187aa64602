package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edulink-io/crm-bridge/api/responses"
	"github.com/edulink-io/crm-bridge/api/validators"
	"github.com/edulink-io/crm-bridge/internal/events"
	"github.com/edulink-io/crm-bridge/pkg/db/models"
	"github.com/edulink-io/crm-bridge/pkg/enums"
	pkgerrors "github.com/edulink-io/crm-bridge/pkg/errors"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

// EventStore is the slice of the event repository the ops endpoints need.
type EventStore interface {
	ListByStatus(ctx context.Context, status enums.EventStatus, limit, offset int) ([]models.CRMEvent, error)
	ResetForManualRetry(ctx context.Context, id uuid.UUID) error
}

// EventView is the public shape of one stored event.
type EventView struct {
	ID          string     `json:"id"`
	EventType   string     `json:"event_type"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at"`
	HTTPStatus  *int       `json:"http_status"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ListEvents serves the status-filtered event list used to inspect stuck
// deliveries.
func ListEvents(logg *logger.Logger, store EventStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, err := validators.ParseEventListQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseEventStatus(query.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		rows, err := store.ListByStatus(r.Context(), status, query.Limit, query.Offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list events"))
			return
		}

		views := make([]EventView, 0, len(rows))
		for _, row := range rows {
			views = append(views, EventView{
				ID:          row.ID.String(),
				EventType:   string(row.EventType),
				Status:      string(row.Status),
				RetryCount:  row.RetryCount,
				NextRetryAt: row.NextRetryAt,
				HTTPStatus:  row.HTTPStatus,
				LastError:   row.LastError,
				CreatedAt:   row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, views)
	}
}

// RetryEvent is the manual-intervention path: it puts an exhausted event back
// into the automatic retry cycle.
func RetryEvent(logg *logger.Logger, store EventStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "event id must be a UUID"))
			return
		}

		if err := store.ResetForManualRetry(r.Context(), id); err != nil {
			if errors.Is(err, events.ErrNotFound) {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeNotFound, "event not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset event"))
			return
		}

		logCtx := logg.WithEventID(r.Context(), id.String())
		logg.Info(logCtx, "event re-queued for delivery")
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{
			"id":     id.String(),
			"status": string(enums.EventStatusRetrying),
		})
	}
}
