package api

import (
	"github.com/waitline/queueline/pkg/coordinator"
	"github.com/waitline/queueline/pkg/store"
)

// CreateSessionResponse is returned by POST /api/queue/create. HostAuthToken
// is minted once here and never recoverable afterward — the host UI must
// persist it (it is also set as the queue_host_auth cookie on this response).
type CreateSessionResponse struct {
	Code          string `json:"code"`
	SessionID     string `json:"sessionId"`
	JoinURL       string `json:"joinUrl"`
	WSURL         string `json:"wsUrl"`
	HostAuthToken string `json:"hostAuthToken"`
	EventName     string `json:"eventName"`
	MaxGuests     int    `json:"maxGuests"`
	Location      string `json:"location,omitempty"`
	ContactInfo   string `json:"contactInfo,omitempty"`
	OpenTime      string `json:"openTime,omitempty"`
	CloseTime     string `json:"closeTime,omitempty"`
}

// JoinResponse is returned by POST /api/queue/:code/join.
type JoinResponse struct {
	PartyID         string `json:"partyId"`
	Position        int    `json:"position"`
	QueueLength     int    `json:"queueLength"`
	EstimatedWaitMs int64  `json:"estimatedWaitMs"`
}

// AdvanceResponse is returned by POST /api/queue/:code/advance.
type AdvanceResponse struct {
	NowServing *coordinator.PartyView `json:"nowServing"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string              `json:"status"`
	Version        string              `json:"version"`
	Database       *store.HealthStatus `json:"database"`
	PushQueueDepth int                 `json:"pushQueueDepth"`
	Error          string              `json:"error,omitempty"`
}
