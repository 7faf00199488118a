package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
)

// RequestTimeout puts a deadline on each request context. Repositories and
// locks observe it, so a handler that overruns fails with a deadline error;
// when that happens before anything was written the client gets 504. Errors
// a service already classified, such as a timed-out transaction reported as
// a retryable Conflict, keep their kind.
//
// The websocket endpoint is excluded since its connection is long-lived.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isWebsocketPath(c.Request().URL.Path) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if ctx.Err() == context.DeadlineExceeded && !c.Response().Committed {
				if err == nil || (errors.Is(err, context.DeadlineExceeded) && apperr.KindOf(err) == apperr.KindInternal) {
					return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time limit")
				}
			}
			return err
		}
	}
}

func isWebsocketPath(path string) bool {
	return path == "/ws" || strings.HasPrefix(path, "/ws/") || strings.HasSuffix(path, "/ws")
}
