package hostauth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer("process-wide-secret")
	require.NoError(t, err)

	sessionID := uuid.New().String()
	cred := issuer.Issue(sessionID)

	assert.True(t, issuer.Verify(sessionID, cred))
}

func TestVerifyRejects(t *testing.T) {
	issuer, err := NewIssuer("process-wide-secret")
	require.NoError(t, err)

	sessionID := uuid.New().String()
	other := uuid.New().String()
	cred := issuer.Issue(sessionID)

	tests := []struct {
		name       string
		sessionID  string
		credential string
	}{
		{"wrong session id", other, cred},
		{"tampered mac", sessionID, sessionID + ".not-a-real-mac"},
		{"malformed credential", sessionID, "garbage"},
		{"credential from a different secret", sessionID, func() string {
			otherIssuer, _ := NewIssuer("a-different-secret")
			return otherIssuer.Issue(sessionID)
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, issuer.Verify(tt.sessionID, tt.credential))
		})
	}
}

func TestNewIssuerRejectsEmptySecret(t *testing.T) {
	_, err := NewIssuer("")
	assert.Error(t, err)
}
