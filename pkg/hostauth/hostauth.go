// Package hostauth issues and verifies host credentials: an HMAC-SHA256 of
// the session id under a process-wide secret.
package hostauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/gravitational/trace"
)

// Issuer mints and verifies host credentials for a single process-wide
// secret. It holds no other state and is safe for concurrent use.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an Issuer from the configured HOST_AUTH_SECRET.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, trace.BadParameter("host auth secret must not be empty")
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// Issue returns the credential string "{sessionId}.{base64url(hmac)}" for
// the given session id.
func (i *Issuer) Issue(sessionID string) string {
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(i.sign(sessionID))
}

// Verify checks a presented credential against a session id using a
// constant-time comparison of the recomputed HMAC.
func (i *Issuer) Verify(sessionID, credential string) bool {
	idPart, macPart, ok := strings.Cut(credential, ".")
	if !ok || idPart != sessionID {
		return false
	}
	presented, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return false
	}
	expected := i.sign(sessionID)
	return subtle.ConstantTimeCompare(presented, expected) == 1
}

func (i *Issuer) sign(sessionID string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(sessionID))
	return mac.Sum(nil)
}
