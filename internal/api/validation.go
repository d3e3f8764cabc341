package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// parseLimit extracts and validates the limit query parameter.
// Returns DefaultLimit if limit is not specified or zero.
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return DefaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, err
	}
	if limit < 0 {
		return 0, strconv.ErrRange
	}
	if limit > MaxLimit {
		return 0, &limitExceededError{max: MaxLimit}
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return limit, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}

// parseEventPath extracts the ID from "/events/{id}<suffix>".
func parseEventPath(path, suffix string) (uuid.UUID, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(path, "/events/"), suffix)
	if raw == "" || strings.Contains(raw, "/") {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
