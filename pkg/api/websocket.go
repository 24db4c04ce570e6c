package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/waitline/queueline/pkg/models"
)

// WebSocket timeout constants (mirrors the gorilla/websocket chat example
// shape used elsewhere in the retrieved pack). The keepalive ping runs at
// the fixed heartbeat interval.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = models.HeartbeatInterval
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browsers do not apply CORS to the Upgrade handshake itself, so
		// connectHandler checks the Origin header against the configured
		// allowed origins before calling Upgrade.
		return true
	},
}

// connectHandler upgrades GET /api/queue/:code/connect to a websocket and
// subscribes it as either a host or guest connection.
func (s *Server) connectHandler(c *echo.Context) error {
	co, err := s.resolve(c)
	if err != nil {
		return mapServiceError(err)
	}

	partyID := c.QueryParam("partyId")
	isHost := partyID == ""
	if isHost && hostCredential(c) == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "host credential or partyId is required")
	}

	if origin := c.Request().Header.Get("Origin"); origin != "" {
		allowed := false
		for _, o := range s.cfg.AllowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if !allowed {
			return echo.NewHTTPError(http.StatusForbidden, "origin not allowed")
		}
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	connID := uuid.NewString()
	ctx := c.Request().Context()

	var out <-chan []byte
	var closeReason *string
	if isHost {
		sub, err := co.SubscribeHost(ctx, connID)
		if err != nil {
			_ = conn.Close()
			return nil
		}
		out = sub.Out
		closeReason = &sub.CloseReason
		defer co.UnsubscribeHost(connID)
	} else {
		sub, err := co.SubscribeGuest(ctx, connID, partyID)
		if err != nil {
			_ = conn.Close()
			return nil
		}
		out = sub.Out
		closeReason = &sub.CloseReason
		defer co.UnsubscribeGuest(connID)
	}

	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, out, done, closeReason)
	return nil
}

// readPump drains and discards inbound frames — these sockets are
// server-to-client only — while keeping the read deadline alive via pong
// handling, and signals done on any read error (including a client close).
func readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump relays outbox frames to the connection and sends periodic
// pings, exiting when the outbox closes (subscriber dropped, in which case
// closeReason names the terminal transition that caused it) or the read
// side signals done. closeReason is read only after observing out's close,
// which happens-after the coordinator actor goroutine's write to it.
func writePump(conn *websocket.Conn, out <-chan []byte, done chan struct{}, closeReason *string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				reason := ""
				if closeReason != nil {
					reason = *closeReason
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
