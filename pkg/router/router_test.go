package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitline/queueline/pkg/models"
)

type fakeDirectory struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	byCode   map[string]string // short code -> session id
	events   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		sessions: make(map[string]models.Session),
		byCode:   make(map[string]string),
	}
}

func (f *fakeDirectory) CreateSession(ctx context.Context, session models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	f.byCode[session.ShortCode] = session.ID
	return nil
}

func (f *fakeDirectory) AppendEvent(ctx context.Context, e models.Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events++
	return int64(f.events), nil
}

func (f *fakeDirectory) ShortCodeTaken(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byCode[code]
	return ok, nil
}

func (f *fakeDirectory) SessionByShortCode(ctx context.Context, shortCode string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byCode[shortCode]
	if !ok {
		return nil, assert.AnError
	}
	s := f.sessions[id]
	return &s, nil
}

func TestCreateRejectsMissingEventName(t *testing.T) {
	r := New(newFakeDirectory(), nil)
	_, err := r.Create(context.Background(), CreateRequest{MaxGuests: 5})
	assert.Error(t, err)
}

func TestCreateRejectsNonPositiveMaxGuests(t *testing.T) {
	r := New(newFakeDirectory(), nil)
	_, err := r.Create(context.Background(), CreateRequest{EventName: "Pop-up", MaxGuests: 0})
	assert.Error(t, err)
}

func TestCreateRejectsOverlongEventName(t *testing.T) {
	r := New(newFakeDirectory(), nil)
	longName := make([]byte, maxEventNameLen+1)
	for i := range longName {
		longName[i] = 'a'
	}
	_, err := r.Create(context.Background(), CreateRequest{EventName: string(longName), MaxGuests: 5})
	assert.Error(t, err)
}

func TestCreateRejectsOverCapacityMaxGuests(t *testing.T) {
	r := New(newFakeDirectory(), nil)
	_, err := r.Create(context.Background(), CreateRequest{EventName: "Pop-up", MaxGuests: maxMaxGuests + 1})
	assert.Error(t, err)
}

func TestCreateRejectsOverlongLocation(t *testing.T) {
	r := New(newFakeDirectory(), nil)
	longLocation := make([]byte, maxLocationLen+1)
	for i := range longLocation {
		longLocation[i] = 'a'
	}
	_, err := r.Create(context.Background(), CreateRequest{EventName: "Pop-up", MaxGuests: 5, Location: string(longLocation)})
	assert.Error(t, err)
}

func TestCreateRejectsOverlongContactInfo(t *testing.T) {
	r := New(newFakeDirectory(), nil)
	longContact := make([]byte, maxContactInfoLen+1)
	for i := range longContact {
		longContact[i] = 'a'
	}
	_, err := r.Create(context.Background(), CreateRequest{EventName: "Pop-up", MaxGuests: 5, ContactInfo: string(longContact)})
	assert.Error(t, err)
}

func TestCreateRejectsMalformedOpenTime(t *testing.T) {
	r := New(newFakeDirectory(), nil)
	_, err := r.Create(context.Background(), CreateRequest{EventName: "Pop-up", MaxGuests: 5, OpenTime: "9:00am"})
	assert.Error(t, err)
}

func TestCreateRejectsCloseTimeBeforeOpenTime(t *testing.T) {
	r := New(newFakeDirectory(), nil)
	_, err := r.Create(context.Background(), CreateRequest{EventName: "Pop-up", MaxGuests: 5, OpenTime: "18:00", CloseTime: "09:00"})
	assert.Error(t, err)
}

func TestValidateCreateRequestAcceptsValidTimeWindow(t *testing.T) {
	err := validateCreateRequest(CreateRequest{EventName: "Pop-up", MaxGuests: 5, OpenTime: "09:00", CloseTime: "18:00"})
	assert.NoError(t, err)
}

func TestGenerateUniqueShortCodeRetriesOnCollision(t *testing.T) {
	dir := newFakeDirectory()
	// Claim the first few possible codes by pre-registering a session
	// under each one a generated code is likely to collide with is
	// impractical (the alphabet is large); instead verify directly that
	// the retry loop honors ShortCodeTaken by forcing every code taken
	// except via a directory that reports not-taken only once call count
	// exceeds a threshold.
	attempts := 0
	taken := &countingDirectory{fakeDirectory: dir, failFirstN: 3, attempts: &attempts}

	r := New(taken, nil)
	code, err := r.generateUniqueShortCode(context.Background())
	require.NoError(t, err)
	assert.Len(t, code, models.ShortCodeLength)
	assert.GreaterOrEqual(t, attempts, 4)
}

// countingDirectory reports the first failFirstN distinct codes as taken,
// forcing generateUniqueShortCode to retry, then reports free.
type countingDirectory struct {
	*fakeDirectory
	failFirstN int
	attempts   *int
	seen       map[string]bool
}

func (c *countingDirectory) ShortCodeTaken(ctx context.Context, code string) (bool, error) {
	*c.attempts++
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if !c.seen[code] {
		c.seen[code] = true
		if len(c.seen) <= c.failFirstN {
			return true, nil
		}
	}
	return false, nil
}

func TestRandomShortCodeUsesRestrictedAlphabet(t *testing.T) {
	code, err := randomShortCode()
	require.NoError(t, err)
	require.Len(t, code, models.ShortCodeLength)
	for _, r := range code {
		assert.Contains(t, models.ShortCodeAlphabet, string(r))
	}
}
