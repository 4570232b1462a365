package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Upgrade",
}

// trustedHeaders are set only by the proxy itself; a client copy is dropped
// before any handler sees the request.
var trustedHeaders = []string{
	"X-User-Email",
	"X-User-Name",
	"X-Internal-Secret",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop and
// spoofed identity headers from requests and adds security headers to
// responses.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			for _, name := range hopByHopHeaders {
				h.Del(name)
			}
			for _, name := range trustedHeaders {
				h.Del(name)
			}

			res := c.Response().Header()
			res.Set("X-Content-Type-Options", "nosniff")
			res.Set("X-Frame-Options", "DENY")
			res.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
