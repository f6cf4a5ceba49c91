package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/civicdesk/apiserver/internal/services"
	"github.com/civicdesk/apiserver/types"
)

type contextKey string

const contextActorKey contextKey = "actor"

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

func actorFromContext(ctx context.Context) (types.Actor, error) {
	actor, ok := ctx.Value(contextActorKey).(types.Actor)
	if !ok || actor.UserID < 1 {
		return types.Actor{}, errors.New("missing actor")
	}
	return actor, nil
}

func decodeJSON(r *http.Request, value any) error {
	return json.NewDecoder(r.Body).Decode(value)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps the service error taxonomy onto HTTP status codes.
// Unrecognized errors become opaque 500s.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *services.ValidationError
		forbidden  *services.ForbiddenError
		notFound   *services.NotFoundError
		transition *services.InvalidTransitionError
		locked     *services.LockedIssueError
		conflict   *services.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &forbidden):
		writeError(w, http.StatusForbidden, forbidden.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, transition.Error())
	case errors.As(err, &locked):
		writeError(w, http.StatusConflict, locked.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parsePagination(r *http.Request) (page, limit int, err error) {
	page = 1
	limit = 20

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("invalid limit")
		}
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit, nil
}
