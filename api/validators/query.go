package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/edulink-io/crm-bridge/pkg/errors"
)

var validate = validator.New()

// EventListQuery is the validated query surface of the event list endpoint.
type EventListQuery struct {
	Status string `validate:"required,oneof=pending sent failed retrying"`
	Limit  int    `validate:"min=1,max=100"`
	Offset int    `validate:"min=0"`
}

// ParseEventListQuery reads and validates the list-events query parameters.
func ParseEventListQuery(r *http.Request) (*EventListQuery, error) {
	limit, err := parseQueryInt(r, "limit", 50)
	if err != nil {
		return nil, err
	}
	offset, err := parseQueryInt(r, "offset", 0)
	if err != nil {
		return nil, err
	}

	query := &EventListQuery{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if err := validate.Struct(query); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameters").
			WithDetails(map[string]any{"reason": err.Error()})
	}
	return query, nil
}

func parseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").
			WithDetails(map[string]any{"field": key})
	}
	return value, nil
}
