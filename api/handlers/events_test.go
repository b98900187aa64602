package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edulink-io/crm-bridge/internal/events"
	"github.com/edulink-io/crm-bridge/pkg/db/models"
	"github.com/edulink-io/crm-bridge/pkg/enums"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

type fakeEventStore struct {
	rows       []models.CRMEvent
	listErr    error
	resetErr   error
	lastStatus enums.EventStatus
	lastLimit  int
	lastOffset int
	resetIDs   []uuid.UUID
}

func (f *fakeEventStore) ListByStatus(_ context.Context, status enums.EventStatus, limit, offset int) ([]models.CRMEvent, error) {
	f.lastStatus = status
	f.lastLimit = limit
	f.lastOffset = offset
	return f.rows, f.listErr
}

func (f *fakeEventStore) ResetForManualRetry(_ context.Context, id uuid.UUID) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resetIDs = append(f.resetIDs, id)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "handlers-test", Output: io.Discard})
}

func newEventsRouter(store *fakeEventStore) http.Handler {
	r := chi.NewRouter()
	logg := testLogger()
	r.Get("/events", ListEvents(logg, store))
	r.Post("/events/{id}/retry", RetryEvent(logg, store))
	return r
}

func TestListEventsFiltersByStatus(t *testing.T) {
	errMsg := "status 502"
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeEventStore{rows: []models.CRMEvent{{
		ID:         uuid.New(),
		EventType:  enums.EventGradeUpdated,
		Status:     enums.EventStatusFailed,
		RetryCount: 3,
		LastError:  &errMsg,
		CreatedAt:  now,
	}}}
	router := newEventsRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?status=failed&limit=20&offset=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.lastStatus != enums.EventStatusFailed || store.lastLimit != 20 || store.lastOffset != 10 {
		t.Fatalf("query not forwarded to store: status=%s limit=%d offset=%d",
			store.lastStatus, store.lastLimit, store.lastOffset)
	}

	var body struct {
		Data []EventView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) != 1 {
		t.Fatalf("expected 1 event, got %d", len(body.Data))
	}
	if body.Data[0].Status != "failed" || body.Data[0].RetryCount != 3 {
		t.Fatalf("unexpected view %+v", body.Data[0])
	}
	if body.Data[0].LastError == nil || *body.Data[0].LastError != errMsg {
		t.Fatalf("expected last error %q, got %v", errMsg, body.Data[0].LastError)
	}
}

func TestListEventsRejectsUnknownStatus(t *testing.T) {
	store := &fakeEventStore{}
	router := newEventsRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?status=bogus", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListEventsRequiresStatus(t *testing.T) {
	store := &fakeEventStore{}
	router := newEventsRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a status filter, got %d", rec.Code)
	}
}

func TestRetryEventResetsAndAccepts(t *testing.T) {
	store := &fakeEventStore{}
	router := newEventsRouter(store)
	id := uuid.New()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/"+id.String()+"/retry", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.resetIDs) != 1 || store.resetIDs[0] != id {
		t.Fatalf("expected reset for %s, got %v", id, store.resetIDs)
	}
}

func TestRetryEventRejectsMalformedID(t *testing.T) {
	store := &fakeEventStore{}
	router := newEventsRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/not-a-uuid/retry", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(store.resetIDs) != 0 {
		t.Fatal("no reset may happen for a malformed id")
	}
}

func TestRetryEventMissingRowIsNotFound(t *testing.T) {
	store := &fakeEventStore{resetErr: events.ErrNotFound}
	router := newEventsRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/"+uuid.NewString()+"/retry", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
