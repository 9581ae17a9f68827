package http

import (
	"errors"
	"net/http"

	"calco/internal/core"
	"calco/internal/log"
)

// apiError maps a service error to its response. Validation and conflict
// messages are safe to show; everything unexpected is logged and answered
// with a generic 500.
func apiError(r *http.Request, err error) *ResponseBuilder {
	switch {
	case errors.Is(err, core.ErrValidation):
		return UnprocessableEntityError(validationMessage(err))
	case errors.Is(err, core.ErrConflict):
		return ConflictError(err.Error())
	case errors.Is(err, core.ErrUnauthorized):
		return UnauthorizedError("user & password do not match")
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrForbidden):
		return NotFoundError()
	}
	logger := log.FromContext(r.Context())
	log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, r.Method+" "+r.URL.Path,
		log.NewFields().WithComponent(log.ComponentHTTP))
	return InternalServerError()
}

// validationMessage returns the field level message when there is one.
func validationMessage(err error) string {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return err.Error()
}

// writeError answers an API call that failed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiError(r, err).Write(w)
}
