package stage

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned for a stage rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailThreshold uint32        // consecutive failures before opening (default 5)
	Cooldown      time.Duration // how long to stay open before half-open (default 30s)
	Interval      time.Duration // closed-state counter reset period (default 60s)
}

// DefaultBreakerConfig returns the default config.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailThreshold: 5,
		Cooldown:      30 * time.Second,
		Interval:      60 * time.Second,
	}
}

// Breakers keeps one circuit breaker per backend name, so a solver that keeps
// crashing stops consuming worker slots for the rest of the batch.
type Breakers struct {
	mu       sync.Mutex
	config   BreakerConfig
	logger   *slog.Logger
	circuits map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates a breaker set with the given config.
func NewBreakers(config BreakerConfig, logger *slog.Logger) *Breakers {
	def := DefaultBreakerConfig()
	if config.FailThreshold == 0 {
		config.FailThreshold = def.FailThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breakers{
		config:   config,
		logger:   logger,
		circuits: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breakers) get(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.circuits[name]; ok {
		return cb
	}
	threshold := b.config.FailThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    b.config.Interval,
		Timeout:     b.config.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change", "backend", name, "from", from.String(), "to", to.String())
		},
	})
	b.circuits[name] = cb
	return cb
}

// Execute runs fn through the breaker for name. An open breaker rejects the
// call with ErrCircuitOpen without running fn.
func (b *Breakers) Execute(name string, fn func() error) error {
	_, err := b.get(name).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the breaker state for name.
func (b *Breakers) State(name string) gobreaker.State {
	return b.get(name).State()
}
