// Package api provides the HTTP and WebSocket surface for the queue
// coordinator: session creation, the guest/host
// mutation endpoints, polling snapshots, and the live subscriber sockets.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/waitline/queueline/pkg/config"
	"github.com/waitline/queueline/pkg/hostauth"
	"github.com/waitline/queueline/pkg/push"
	"github.com/waitline/queueline/pkg/router"
	"github.com/waitline/queueline/pkg/store"
	"github.com/waitline/queueline/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg      config.Config
	store    *store.Client
	router   *router.Router
	auth     *hostauth.Issuer
	dispatch *push.Dispatcher
}

// NewServer wires an echo v5 server over the router/coordinator stack.
func NewServer(cfg config.Config, storeClient *store.Client, r *router.Router, auth *hostauth.Issuer, dispatch *push.Dispatcher) *Server {
	e := echo.New()

	s := &Server{
		echo:     e,
		cfg:      cfg,
		store:    storeClient,
		router:   r,
		auth:     auth,
		dispatch: dispatch,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	// Body size limit well above any realistic join/advance payload, to
	// reject oversized requests before they reach JSON decoding.
	s.echo.Use(middleware.BodyLimit(64 * 1024))
	s.echo.Use(securityHeaders())
	s.echo.Use(corsMiddleware(s.cfg.AllowedOrigins))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)

	api := s.echo.Group("/api")
	api.POST("/queue/create", s.createSessionHandler)

	sess := api.Group("/queue/:code")
	sess.POST("/join", s.joinHandler)
	sess.POST("/declare-nearby", s.declareNearbyHandler)
	sess.POST("/leave", s.leaveHandler)
	sess.POST("/advance", s.advanceHandler)
	sess.POST("/kick", s.kickHandler)
	sess.POST("/close", s.closeHandler)
	sess.GET("/snapshot", s.snapshotHandler)
	sess.GET("/connect", s.connectHandler)
}

// Start serves on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener, such as one bound to
// a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := store.Health(reqCtx, s.store.DB())
	status := http.StatusOK
	body := &HealthResponse{Status: "healthy", Version: version.Full(), Database: dbHealth, PushQueueDepth: s.dispatch.QueueDepth()}
	if err != nil {
		status = http.StatusServiceUnavailable
		body.Status = "unhealthy"
		body.Error = err.Error()
	}
	return c.JSON(status, body)
}
