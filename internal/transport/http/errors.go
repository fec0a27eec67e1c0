package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"itm.space/backendresources/internal/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ErrorHandler maps domain and echo errors to HTTP responses.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, body := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Int("status", code).
			Msg("request failed")
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, body)
	}
	if writeErr != nil {
		log.Error().Err(writeErr).Msg("failed to write error response")
	}
}

func statusFor(err error) (int, errorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, errorBody{Error: msg}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorBody{Error: "validation failed", Fields: ve.Fields}
	}

	var de *domain.DirectoryError
	reason := ""
	if errors.As(err, &de) {
		reason = de.Reason
	}

	switch {
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, errorBody{Error: orDefault(reason, domain.ErrConflict.Error())}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: domain.ErrNotFound.Error()}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, errorBody{Error: domain.ErrUpstream.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: http.StatusText(http.StatusInternalServerError)}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
