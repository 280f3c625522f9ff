package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/familylink/internal/platform/httpx"
)

// RequestTimeout puts a deadline on each request's context. Handlers and the
// stores they call observe it through ctx; if the deadline passed and nothing
// was written yet, the client gets a 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return httpx.Error(http.StatusGatewayTimeout, "timeout", "request processing exceeded the allowed time limit")
			}
			return err
		}
	}
}
