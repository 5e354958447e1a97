package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mercator-hq/arbiter/pkg/approval"
	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/policy/deps"
	"mercator-hq/arbiter/pkg/policy/engine"
	"mercator-hq/arbiter/pkg/rules"
	"mercator-hq/arbiter/pkg/server/middleware"
	"mercator-hq/arbiter/pkg/telemetry/logging"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// statusFor maps domain errors onto HTTP status codes and error types.
func statusFor(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, errBadRequest),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, ratelimit.ErrInvalidConfig),
		errors.Is(err, approval.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrRuleNotFound),
		errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrDuplicateRule),
		errors.Is(err, deps.ErrDependencyCycle),
		errors.Is(err, approval.ErrAlreadyResolved),
		errors.Is(err, approval.ErrExpired):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError logs server-side failures and writes the error envelope.
// Client errors carry the error text; internal errors do not.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("request failed", "path", r.URL.Path, "error", err)
		message = "an internal error occurred"
	}
	middleware.WriteError(w, status, errType, message)
}

// decodeJSON decodes the request body into v, rejecting unknown fields and
// trailing data.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON body", errBadRequest)
	}
	return nil
}
