package objectplugin

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(rate Rate) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewRateLimiter(rate)
	l.now = clock.now
	return l, clock
}

func TestRateLimiter_Burst(t *testing.T) {
	l, clock := newTestLimiter(Rate{RequestsPerSecond: 10, Burst: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("sess"), "request %d is within the burst", i+1)
	}
	assert.False(t, l.Allow("sess"))

	clock.advance(100 * time.Millisecond)
	assert.True(t, l.Allow("sess"))
	assert.False(t, l.Allow("sess"))
}

func TestRateLimiter_RefillCapsAtBurst(t *testing.T) {
	l, clock := newTestLimiter(Rate{RequestsPerSecond: 100, Burst: 2})

	assert.True(t, l.Allow("sess"))
	clock.advance(time.Hour)

	assert.True(t, l.Allow("sess"))
	assert.True(t, l.Allow("sess"))
	assert.False(t, l.Allow("sess"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Rate{RequestsPerSecond: 1, Burst: 1})

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())

	l.Forget("a")
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Allow("a"))
}

func TestRate_Validate(t *testing.T) {
	assert.NoError(t, Rate{RequestsPerSecond: 1, Burst: 1}.validate())
	assert.ErrorIs(t, Rate{Burst: 1}.validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Rate{RequestsPerSecond: 1}.validate(), ErrInvalidConfig)

	_, err := NewServer(ServeConfig{
		Registrations: testRegistrations(),
		RateLimit:     &Rate{RequestsPerSecond: -1, Burst: 1},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestServer_RateLimitsPerSession(t *testing.T) {
	metrics := NewMetrics()
	env := newTestEnv(t, ServeConfig{
		Metrics:   metrics,
		RateLimit: &Rate{RequestsPerSecond: 0.001, Burst: 2},
	})
	env.publish(t, "greeting", &leaf{value: "hi"})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.client.Fetch(ctx, "greeting")
		require.NoError(t, err)
	}

	_, err := env.client.Fetch(ctx, "greeting")
	require.Error(t, err)
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))
	assert.Contains(t, err.Error(), ErrRateLimited.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.rejected.WithLabelValues(FetchProcedure)))

	// Another session has its own bucket.
	other, err := NewClient(ClientConfig{Endpoint: env.url, HTTPClient: env.http.Client()})
	require.NoError(t, err)
	defer other.Close(ctx)
	_, err = other.Fetch(ctx, "greeting")
	assert.NoError(t, err)
}

func TestServer_RateLimitIgnoresUnknownSessions(t *testing.T) {
	env := newTestEnv(t, ServeConfig{
		RateLimit: &Rate{RequestsPerSecond: 0.001, Burst: 3},
	})
	env.publish(t, "greeting", &leaf{value: "hi"})
	fetch := connect.NewClient[FetchRequest, FetchResponse](
		env.http.Client(), env.url+FetchProcedure, connect.WithCodec(wireCodec{}))
	ctx := context.Background()

	var codes []connect.Code
	for i := 0; i < 10; i++ {
		req := connect.NewRequest(&FetchRequest{Target: NameTarget("greeting")})
		req.Header().Set(SessionHeader, fmt.Sprintf("sess-%032x", i))
		_, err := fetch.CallUnary(ctx, req)
		require.Error(t, err)
		codes = append(codes, connect.CodeOf(err))
	}

	assert.Equal(t, []connect.Code{connect.CodeNotFound, connect.CodeNotFound, connect.CodeNotFound}, codes[:3])
	for _, code := range codes[3:] {
		assert.Equal(t, connect.CodeResourceExhausted, code)
	}
	assert.Equal(t, 1, env.server.limiter.Len(), "forged sessions share the peer bucket")
}

func TestRateLimitInterceptor_KeysByPeerHost(t *testing.T) {
	sessions := newSessionManager(testResolver(), 0, NewMetrics())
	sess, err := sessions.create()
	require.NoError(t, err)
	i := &rateLimitInterceptor{sessions: sessions}

	header := http.Header{}
	assert.Equal(t, "peer:10.0.0.7", i.key(header, connect.Peer{Addr: "10.0.0.7:51234"}))
	assert.Equal(t, "peer:10.0.0.7", i.key(header, connect.Peer{Addr: "10.0.0.7:51235"}))
	assert.Equal(t, "peer:pipe", i.key(header, connect.Peer{Addr: "pipe"}))

	header.Set(SessionHeader, "sess-not-a-real-session")
	assert.Equal(t, "peer:10.0.0.7", i.key(header, connect.Peer{Addr: "10.0.0.7:51234"}))

	header.Set(SessionHeader, sess.ID())
	assert.Equal(t, sess.ID(), i.key(header, connect.Peer{Addr: "10.0.0.7:51234"}))
}
