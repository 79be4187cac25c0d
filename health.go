package objectplugin

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"
)

// DefaultMaxGoroutines is the goroutine count above which the server
// reports itself as not live.
const DefaultMaxGoroutines = 10000

// newHealthHandler serves /live and /ready. Check results are also
// exported as gauges on the metrics registry.
func newHealthHandler(metrics *Metrics, sessions *sessionManager, maxGoroutines, maxSessions int) healthcheck.Handler {
	h := healthcheck.NewMetricsHandler(metrics.Registry(), "objectplugin")

	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	h.AddReadinessCheck("session-capacity", func() error {
		if maxSessions <= 0 {
			return nil
		}
		if n := sessions.count(); n >= maxSessions {
			return fmt.Errorf("%w: %d of %d sessions in use", ErrTooManySessions, n, maxSessions)
		}
		return nil
	})

	return h
}
