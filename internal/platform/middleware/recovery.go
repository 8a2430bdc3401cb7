package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
)

// Recovery turns a handler panic into a 500 carrying the request id, so
// the caller can quote it and the log line can be found.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				cause, ok := rec.(error)
				if !ok {
					cause = errors.Newf("%v", rec)
				}
				cause = errors.Wrap(cause, "panic")
				rid := RequestIDFrom(c)

				logger.Error().
					Err(cause).
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("path", c.Path()).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				body := apperr.ErrorBody{Error: "internal server error"}
				if rid != "" {
					body.Hint = "request id " + rid
				}
				he := echo.NewHTTPError(http.StatusInternalServerError, body)
				he.Internal = cause
				err = he
			}()
			return next(c)
		}
	}
}
