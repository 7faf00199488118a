package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON envelope written for every failed request.
type Body struct {
	Success bool   `json:"success"`
	Error   Detail `json:"error"`
}

type Detail struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Resolve turns any handler error into a status code and a client-safe body.
func Resolve(err error) (int, Body) {
	var appErr *Error
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.Kind == KindInternal {
			msg = "internal server error"
		}
		return HTTPStatus(appErr.Kind), Body{Error: Detail{Kind: appErr.Kind, Message: msg}}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := kindForStatus(he.Code)
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && he.Code < http.StatusInternalServerError {
			msg = s
		}
		return he.Code, Body{Error: Detail{Kind: kind, Message: msg}}
	}

	return http.StatusInternalServerError, Body{Error: Detail{Kind: KindInternal, Message: "internal server error"}}
}

// ErrorHandler returns an echo.HTTPErrorHandler rendering the Body envelope.
// Internal errors are logged with the request id; their cause never reaches
// the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := Resolve(err)
		if status >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
