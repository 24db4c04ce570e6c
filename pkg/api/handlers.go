package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/waitline/queueline/pkg/coordinator"
	"github.com/waitline/queueline/pkg/router"
)

// etagLen is the number of hex characters of the SHA-256 digest used as a
// snapshot's ETag.
const etagLen = 16

func weakETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:])[:etagLen] + `"`
}

func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := s.router.Create(c.Request().Context(), router.CreateRequest{
		EventName:   req.EventName,
		MaxGuests:   req.MaxGuests,
		Location:    req.Location,
		ContactInfo: req.ContactInfo,
		OpenTime:    req.OpenTime,
		CloseTime:   req.CloseTime,
	})
	if err != nil {
		return mapServiceError(err)
	}

	credential := s.auth.Issue(session.ID)
	http.SetCookie(c.Response(), &http.Cookie{
		Name:     hostAuthCookieName,
		Value:    credential,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})

	joinURL, wsURL := s.sessionURLs(session.ShortCode)
	return c.JSON(http.StatusCreated, &CreateSessionResponse{
		Code:          session.ShortCode,
		SessionID:     session.ID,
		JoinURL:       joinURL,
		WSURL:         wsURL,
		HostAuthToken: credential,
		EventName:     session.EventName,
		MaxGuests:     session.MaxGuests,
		Location:      session.Location,
		ContactInfo:   session.ContactInfo,
		OpenTime:      session.OpenTime,
		CloseTime:     session.CloseTime,
	})
}

func (s *Server) resolve(c *echo.Context) (*coordinator.Coordinator, error) {
	return s.router.Resolve(c.Request().Context(), c.Param("code"))
}

func (s *Server) joinHandler(c *echo.Context) error {
	co, err := s.resolve(c)
	if err != nil {
		return mapServiceError(err)
	}

	var req JoinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := co.Join(c.Request().Context(), coordinator.JoinRequest{Name: req.Name, Size: req.Size})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, &JoinResponse{
		PartyID:         res.PartyID,
		Position:        res.Position,
		QueueLength:     res.QueueLength,
		EstimatedWaitMs: res.EstimatedWaitMs,
	})
}

func (s *Server) declareNearbyHandler(c *echo.Context) error {
	co, err := s.resolve(c)
	if err != nil {
		return mapServiceError(err)
	}

	var req PartyScopedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PartyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "partyId is required")
	}

	if err := co.DeclareNearby(c.Request().Context(), req.PartyID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) leaveHandler(c *echo.Context) error {
	co, err := s.resolve(c)
	if err != nil {
		return mapServiceError(err)
	}

	var req PartyScopedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PartyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "partyId is required")
	}

	if err := co.Leave(c.Request().Context(), req.PartyID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) kickHandler(c *echo.Context) error {
	co, err := s.resolve(c)
	if err != nil {
		return mapServiceError(err)
	}

	credential := hostCredential(c)
	if credential == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "host credential required")
	}

	var req PartyScopedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PartyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "partyId is required")
	}

	if err := co.Kick(c.Request().Context(), req.PartyID, credential); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) advanceHandler(c *echo.Context) error {
	co, err := s.resolve(c)
	if err != nil {
		return mapServiceError(err)
	}

	credential := hostCredential(c)
	if credential == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "host credential required")
	}

	var req AdvanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := co.Advance(c.Request().Context(), coordinator.AdvanceRequest{
		ServedPartyID: req.ServedPartyID,
		NextPartyID:   req.NextPartyID,
		Credential:    credential,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AdvanceResponse{NowServing: res.NowServing})
}

func (s *Server) closeHandler(c *echo.Context) error {
	co, err := s.resolve(c)
	if err != nil {
		return mapServiceError(err)
	}

	credential := hostCredential(c)
	if credential == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "host credential required")
	}

	if err := co.Close(c.Request().Context(), credential); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// snapshotHandler serves GET /api/queue/:code/snapshot. With no partyId
// query parameter it returns the host-scoped view (requires a host
// credential); with one, the party-scoped guest view.
func (s *Server) snapshotHandler(c *echo.Context) error {
	co, err := s.resolve(c)
	if err != nil {
		return mapServiceError(err)
	}

	if partyID := c.QueryParam("partyId"); partyID != "" {
		snap, err := co.GuestSnapshotFor(c.Request().Context(), partyID)
		if err != nil {
			return mapServiceError(err)
		}
		return s.respondWithETag(c, snap)
	}

	credential := hostCredential(c)
	if credential == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "host credential or partyId is required")
	}
	session, err := s.router.SessionByShortCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return mapServiceError(err)
	}
	if !s.auth.Verify(session.ID, credential) {
		return echo.NewHTTPError(http.StatusForbidden, "invalid host credential")
	}

	snap, err := co.HostSnapshot(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return s.respondWithETag(c, snap)
}

// respondWithETag serializes v once, sets an ETag derived from the body,
// and replies 304 with no body when it matches the request's
// If-None-Match header.
func (s *Server) respondWithETag(c *echo.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	etag := weakETag(body)
	c.Response().Header().Set("ETag", etag)
	if match := c.Request().Header.Get("If-None-Match"); match != "" && match == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}
