package api

import (
	"log/slog"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/checkstream/gateway/internal/proxy"
)

// requestLogger logs one structured line per request at the handler
// boundary and stamps a request id onto the echo context for handlers to
// read back via requestID(c).
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			id := proxy.NewRequestID()
			c.Set("request_id", id)

			err := next(c)

			slog.Info("http request",
				"request_id", id,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

func requestID(c *echo.Context) string {
	if id, ok := c.Get("request_id").(string); ok {
		return id
	}
	return proxy.NewRequestID()
}
