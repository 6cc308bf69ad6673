package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/asha/records/internal/platform/apperr"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrStorage):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders domain errors as ErrorResponse. Storage and unknown
// errors are logged with their cause and answered with a generic message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := StatusFor(err)
		body := ErrorResponse{Error: err.Error()}

		var he *echo.HTTPError
		var ve *apperr.ValidationError
		switch {
		case errors.As(err, &he):
			if msg, ok := he.Message.(string); ok {
				body.Error = msg
			} else {
				body.Error = http.StatusText(he.Code)
			}
		case errors.As(err, &ve):
			body.Error = "validation failed"
			body.Fields = ve.Fields
		case status >= http.StatusInternalServerError:
			rid, _ := c.Get("request_id").(string)
			evt := logger.Error().Err(err).Str("request_id", rid).Int("status", status)
			var se *apperr.StorageError
			if errors.As(err, &se) {
				evt = evt.AnErr("cause", se.Err)
			}
			evt.Msg("request failed")
			if status == http.StatusInternalServerError {
				body.Error = "internal server error"
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("writing error response")
		}
	}
}
