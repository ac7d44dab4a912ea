package vector

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"lumen/internal/domain"
)

// Default circuit breaker settings, applied when BreakerConfig is zero-valued.
const (
	defaultFailureThreshold uint32        = 5
	defaultCooldown         time.Duration = 30 * time.Second
)

// BreakerConfig configures the embedding-call circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	CooldownMS       int
}

// Breaker guards embedding-provider calls with a closed/open/half_open
// state machine, grounded on the teacher's llm.CircuitBreakerProvider but
// built on gobreaker's decoupled TwoStepCircuitBreaker so Allow and the
// eventual success/failure record can happen on different goroutines
// without losing gobreaker's one-probe-in-half-open guarantee.
type Breaker struct {
	tscb *gobreaker.TwoStepCircuitBreaker[struct{}]
}

// NewBreaker builds a Breaker named for logging/monitoring purposes.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	cooldown := time.Duration(cfg.CooldownMS) * time.Millisecond
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	tscb := gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "embedding:" + name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
		IsSuccessful: func(err error) bool { return err == nil },
	})

	return &Breaker{tscb: tscb}
}

// Allow implements domain.CircuitBreaker.
func (b *Breaker) Allow() (func(success bool), bool) {
	done, err := b.tscb.Allow()
	if err != nil {
		return nil, false
	}
	return func(success bool) {
		done(success)
	}, true
}

// State implements domain.CircuitBreaker.
func (b *Breaker) State() domain.BreakerState {
	switch b.tscb.State() {
	case gobreaker.StateOpen:
		return domain.BreakerOpen
	case gobreaker.StateHalfOpen:
		return domain.BreakerHalfOpen
	default:
		return domain.BreakerClosed
	}
}

var _ domain.CircuitBreaker = (*Breaker)(nil)
