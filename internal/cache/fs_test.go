package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	metrics.Init()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	s, err := New(t.TempDir(), clock, zap.NewNop())
	require.NoError(t, err)
	return s, clock
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	req := events.FetchRequest{URL: "https://aerc.org/calendar"}

	require.NoError(t, s.Put(req, []byte("<html>ok</html>"), time.Hour))
	body, ok := s.Get(req)
	require.True(t, ok)
	require.Equal(t, []byte("<html>ok</html>"), body)
}

func TestGetMissesWhenExpired(t *testing.T) {
	s, clock := newStore(t)
	req := events.FetchRequest{URL: "https://aerc.org/calendar"}
	require.NoError(t, s.Put(req, []byte("stale"), time.Hour))

	clock.now = clock.now.Add(2 * time.Hour)
	_, ok := s.Get(req)
	require.False(t, ok)

	// The entry was evicted, so a later fresh Put works from scratch.
	require.NoError(t, s.Put(req, []byte("fresh"), time.Hour))
	body, ok := s.Get(req)
	require.True(t, ok)
	require.Equal(t, []byte("fresh"), body)
}

func TestValidatorRejectsEntry(t *testing.T) {
	s, _ := newStore(t)
	noErrorPage := func(b []byte) bool { return !bytes.Contains(b, []byte("maintenance")) }

	req := events.FetchRequest{URL: "https://aerc.org/calendar"}
	require.NoError(t, s.Put(req, []byte("<html>site maintenance</html>"), time.Hour))

	// Stored without a validator, rejected on read with one.
	req.Validate = noErrorPage
	_, ok := s.Get(req)
	require.False(t, ok)

	// Rejected payloads are never stored.
	require.NoError(t, s.Put(req, []byte("<html>site maintenance</html>"), time.Hour))
	_, ok = s.Get(req)
	require.False(t, ok)
}

func TestKeyCanonicalization(t *testing.T) {
	s, _ := newStore(t)

	a := s.Key(events.FetchRequest{URL: "HTTPS://AERC.org/calendar/?b=2&a=1"})
	b := s.Key(events.FetchRequest{URL: "https://aerc.org/calendar?a=1&b=2"})
	require.Equal(t, a, b)

	c := s.Key(events.FetchRequest{URL: "https://aerc.org/calendar?a=1&b=3"})
	require.NotEqual(t, a, c)
}

func TestKeySeparatesPostBodies(t *testing.T) {
	s, _ := newStore(t)

	reqA := events.FetchRequest{URL: "https://aerc.org/wp-admin/admin-ajax.php", Method: "POST"}
	reqA.Form = map[string][]string{"season[]": {"2026"}}
	reqB := events.FetchRequest{URL: "https://aerc.org/wp-admin/admin-ajax.php", Method: "POST"}
	reqB.Form = map[string][]string{"season[]": {"2027"}}

	require.NotEqual(t, s.Key(reqA), s.Key(reqB))
}

func TestInvalidate(t *testing.T) {
	s, _ := newStore(t)
	req := events.FetchRequest{URL: "https://aerc.org/calendar"}
	require.NoError(t, s.Put(req, []byte("x"), time.Hour))

	s.Invalidate(req)
	_, ok := s.Get(req)
	require.False(t, ok)
}
