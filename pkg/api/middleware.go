package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/rs/cors"
)

// hostAuthCookieName is the HttpOnly cookie that carries the host
// credential minted on session creation.
const hostAuthCookieName = "queue_host_auth"

// hostAuthHeaderName is the header an API client may present the host
// credential under instead of the cookie.
const hostAuthHeaderName = "x-host-auth"

// securityHeaders sets standard defensive response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// corsMiddleware wraps rs/cors as an echo middleware. rs/cors owns the
// preflight response entirely; a non-preflight request falls through to
// next once rs/cors has set the response headers.
func corsMiddleware(allowedOrigins []string) echo.MiddlewareFunc {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", hostAuthHeaderName},
		AllowCredentials: true,
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx *echo.Context) error {
			reached := false
			c.ServeHTTP(ctx.Response(), ctx.Request(), func(http.ResponseWriter, *http.Request) {
				reached = true
			})
			if !reached {
				// rs/cors answered the preflight itself.
				return nil
			}
			return next(ctx)
		}
	}
}

// hostCredential extracts the presented host credential from the
// queue_host_auth cookie, the x-host-auth header, or (for the websocket
// upgrade path, which cannot set custom headers from a browser) the
// hostAuth query parameter, so a host UI can use whichever transport suits
// its client.
func hostCredential(c *echo.Context) string {
	if cookie, err := c.Request().Cookie(hostAuthCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := c.Request().Header.Get(hostAuthHeaderName); auth != "" {
		return auth
	}
	return c.QueryParam("hostAuth")
}
