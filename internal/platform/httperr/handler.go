package httperr

import (
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorHandler returns a central echo.HTTPErrorHandler. Domain errors map to
// their status code and client-safe message; echo's own HTTPErrors pass
// through; everything else becomes a 500 with the detail suppressed. In
// development mode the response carries the underlying error text and a
// stack snapshot.
func ErrorHandler(logger zerolog.Logger, dev bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := StatusOf(err)
		message := MessageOf(err)

		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(status)
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		body := map[string]interface{}{"message": message}
		if dev {
			body["error"] = err.Error()
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)
			body["stack"] = string(stack[:n])
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}
