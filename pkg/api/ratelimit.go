package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethpandaops/crateroor/pkg/config"
)

const (
	clientSweepInterval = 5 * time.Minute
	clientIdleTTL       = 10 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters hands out one token bucket per client address and
// forgets clients idle for longer than clientIdleTTL.
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	every   rate.Limit
	burst   int
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

func newClientLimiters(cfg *config.RateLimitConfig) *clientLimiters {
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = config.DefaultRequestsPerMinute
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = perMinute
	}

	return &clientLimiters{
		clients: make(map[string]*clientBucket, 64),
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// allow reports whether client may issue another request now.
func (c *clientLimiters) allow(client string) bool {
	c.mu.Lock()

	now := c.now()

	bucket, ok := c.clients[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(c.every, c.burst)}
		c.clients[client] = bucket
	}

	bucket.lastSeen = now
	c.mu.Unlock()

	return bucket.limiter.AllowN(now, 1)
}

// sweep drops clients idle since before the TTL and returns how many
// remain.
func (c *clientLimiters) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-clientIdleTTL)

	for client, bucket := range c.clients {
		if bucket.lastSeen.Before(cutoff) {
			delete(c.clients, client)
		}
	}

	return len(c.clients)
}

func (c *clientLimiters) run() {
	ticker := time.NewTicker(clientSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *clientLimiters) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// rateLimitMiddleware rejects clients exceeding cfg with 429. The sweeper
// goroutine runs until the server stops.
func (s *server) rateLimitMiddleware(
	cfg *config.RateLimitConfig,
) func(http.Handler) http.Handler {
	limiters := newClientLimiters(cfg)
	s.limiters = append(s.limiters, limiters)

	go limiters.run()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(extractIP(r)) {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client address, preferring the first
// X-Forwarded-For entry set by a reverse proxy.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
