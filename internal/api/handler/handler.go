package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/api/middleware"
	"github.com/Rrens/livedesk/internal/api/response"
	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/domain"
)

var validate = validator.New()

// EventPublisher hands committed events to the broadcast router
type EventPublisher interface {
	Publish(ctx context.Context, evts ...broadcast.Event)
}

// decode reads a JSON body into dst and validates it. On failure the error
// response has been written and false is returned.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	// An empty body decodes as the zero value and is left to validation
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "invalid request body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make(map[string]string)
			for _, e := range validationErrors {
				switch e.Tag() {
				case "required":
					fields[e.Field()] = "field is required"
				case "max":
					fields[e.Field()] = "must be at most " + e.Param() + " characters"
				case "oneof":
					fields[e.Field()] = "must be one of: " + e.Param()
				default:
					fields[e.Field()] = "validation failed on " + e.Tag()
				}
			}
			response.BadRequest(w, fields)
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

// principal returns the authenticated caller or writes a 401
func principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
	}
	return p, ok
}

// urlID parses a UUID route parameter or writes a 400
func urlID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid "+label)
		return uuid.Nil, false
	}
	return id, true
}
