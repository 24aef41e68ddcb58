package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/recon-api/pkg/response"
	"github.com/rs/zerolog/log"
)

// Circuit states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// CircuitOptions configure a breaker-wrapped route group.
type CircuitOptions struct {
	// Threshold is the failure ratio above which the circuit opens,
	// e.g. 0.5. Evaluated only when a new failure arrives.
	Threshold float64
	// ResetTimeout is how long an open circuit rejects before letting
	// a trial request through.
	ResetTimeout time.Duration
}

type circuitState struct {
	failures        int
	successes       int
	lastFailureTime time.Time
	state           string
}

// CircuitBreaker tracks per-route failure ratios and short-circuits
// requests to routes that are failing. State is keyed by route path,
// not downstream host; each route recovers independently.
//
// Constructed once at startup and injected, so tests get isolated
// instances instead of process-global state.
type CircuitBreaker struct {
	mu     sync.Mutex
	routes map[string]*circuitState
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{routes: make(map[string]*circuitState)}
}

// Middleware wraps route handlers with the breaker. An open circuit
// rejects with 503 before any downstream work begins.
func (cb *CircuitBreaker) Middleware(opts CircuitOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()

		if !cb.allow(route, opts) {
			response.ServiceUnavailable(c, "Service temporarily unavailable. Please try again later.")
			c.Abort()
			return
		}

		c.Next()

		cb.record(route, opts, c.Writer.Status())
	}
}

// State returns the current circuit state for a route, creating a
// closed entry for unknown routes.
func (cb *CircuitBreaker) State(route string) string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.get(route).state
}

func (cb *CircuitBreaker) get(route string) *circuitState {
	state, ok := cb.routes[route]
	if !ok {
		state = &circuitState{state: CircuitClosed}
		cb.routes[route] = state
	}
	return state
}

func (cb *CircuitBreaker) allow(route string, opts CircuitOptions) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.get(route)
	if state.state != CircuitOpen {
		return true
	}

	if time.Since(state.lastFailureTime) > opts.ResetTimeout {
		state.state = CircuitHalfOpen
		log.Info().Str("route", route).Msg("circuit breaker half-open, admitting trial request")
		return true
	}

	return false
}

// record updates the tallies from the response status. Status >= 500
// counts as a failure; the open transition is only reassessed when a
// new failure arrives, never on success. Counters accumulate for the
// breaker's lifetime apart from the reset on half-open recovery.
func (cb *CircuitBreaker) record(route string, opts CircuitOptions, status int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.get(route)

	if status >= http.StatusInternalServerError {
		state.failures++
		state.lastFailureTime = time.Now()

		total := state.failures + state.successes
		if float64(state.failures)/float64(total) > opts.Threshold {
			if state.state != CircuitOpen {
				log.Warn().
					Str("route", route).
					Int("failures", state.failures).
					Int("successes", state.successes).
					Msg("circuit breaker opened")
			}
			state.state = CircuitOpen
		}
		return
	}

	state.successes++
	if state.state == CircuitHalfOpen {
		state.state = CircuitClosed
		state.failures = 0
		log.Info().Str("route", route).Msg("circuit breaker closed after successful trial")
	}
}
