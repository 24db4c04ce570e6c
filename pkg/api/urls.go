package api

import (
	"net/url"
	"strings"
)

// sessionURLs derives the guest-facing join page and the websocket
// subscriber URL for a session's short code from the configured base URL.
func (s *Server) sessionURLs(code string) (joinURL, wsURL string) {
	base := strings.TrimRight(s.cfg.AppBaseURL, "/")
	joinURL = base + "/join/" + code

	u, err := url.Parse(base)
	if err != nil {
		return joinURL, ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/queue/" + code + "/connect"
	return joinURL, u.String()
}
