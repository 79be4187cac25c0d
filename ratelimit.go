package objectplugin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// Rate is a token bucket limit: buckets hold up to Burst tokens and
// refill at RequestsPerSecond.
type Rate struct {
	RequestsPerSecond float64
	Burst             int
}

func (r Rate) validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: RateLimit.RequestsPerSecond must be > 0", ErrInvalidConfig)
	}
	if r.Burst < 1 {
		return fmt.Errorf("%w: RateLimit.Burst must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// RateLimiter keeps one token bucket per key. Keys are session IDs for
// calls made within a live session and peer hosts otherwise.
type RateLimiter struct {
	rate    Rate
	buckets cmap.ConcurrentMap[string, *bucket]
	now     func() time.Time
}

// NewRateLimiter returns a limiter that admits calls at rate per key.
func NewRateLimiter(rate Rate) *RateLimiter {
	return &RateLimiter{
		rate:    rate,
		buckets: cmap.New[*bucket](),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket and reports whether one was left.
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()
	b := l.buckets.Upsert(key, nil, func(exist bool, current, _ *bucket) *bucket {
		if exist {
			return current
		}
		return &bucket{tokens: float64(l.rate.Burst), last: now}
	})
	return b.take(l.rate, now)
}

// Forget drops key's bucket. Sessions are forgotten when they close.
func (l *RateLimiter) Forget(key string) {
	l.buckets.Remove(key)
}

// Len returns the number of tracked keys.
func (l *RateLimiter) Len() int {
	return l.buckets.Count()
}

type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func (b *bucket) take(rate Rate, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * rate.RequestsPerSecond
		if limit := float64(rate.Burst); b.tokens > limit {
			b.tokens = limit
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// rateLimitInterceptor applies a RateLimiter to unary calls and to
// stream opens. Messages on an open stream are not limited.
type rateLimitInterceptor struct {
	limiter  *RateLimiter
	sessions *sessionManager
	metrics *Metrics
	logger  *zap.Logger
}

var _ connect.Interceptor = (*rateLimitInterceptor)(nil)

func (i *rateLimitInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if err := i.admit(req.Spec().Procedure, req.Header(), req.Peer()); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i *rateLimitInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *rateLimitInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := i.admit(conn.Spec().Procedure, conn.RequestHeader(), conn.Peer()); err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (i *rateLimitInterceptor) admit(procedure string, header http.Header, peer connect.Peer) error {
	key := i.key(header, peer)
	if i.limiter.Allow(key) {
		return nil
	}
	i.metrics.rateLimited(procedure)
	i.logger.Debug("rate limited", zap.String("procedure", procedure), zap.String("key", key))
	return connect.NewError(connect.CodeResourceExhausted, fmt.Errorf("%w: %s", ErrRateLimited, key))
}

// key returns the bucket key for a call. Session IDs only count when they
// name a live session, so forged IDs share their peer's bucket.
func (i *rateLimitInterceptor) key(header http.Header, peer connect.Peer) string {
	if id := header.Get(SessionHeader); id != "" && i.sessions != nil {
		if _, err := i.sessions.get(id); err == nil {
			return id
		}
	}
	host, _, err := net.SplitHostPort(peer.Addr)
	if err != nil {
		host = peer.Addr
	}
	return "peer:" + host
}
