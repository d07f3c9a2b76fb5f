package extraction

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/memoria/pkg/types"
)

// BreakerConfig tunes the circuit breaker around the primary extractor.
// Zero values take the defaults below.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = 3
	}
	if c.Interval == 0 {
		c.Interval = 60 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	return c
}

// BreakerExtractor guards a primary extractor with a circuit breaker. When
// the primary fails or the breaker is open, extraction falls back to the
// fallback extractor and the result is marked Degraded; with no fallback the
// primary's error is returned as-is.
type BreakerExtractor struct {
	primary  Extractor
	fallback Extractor
	cb       *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

var _ Extractor = (*BreakerExtractor)(nil)

// NewBreakerExtractor wires primary behind a circuit breaker with fallback
// as the degraded path. fallback may be nil. A nil logger falls back to
// slog.Default.
func NewBreakerExtractor(primary, fallback Extractor, cfg BreakerConfig, logger *slog.Logger) *BreakerExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	settings := gobreaker.Settings{
		Name:        "extraction",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &BreakerExtractor{
		primary:  primary,
		fallback: fallback,
		cb:       gobreaker.NewCircuitBreaker(settings),
		logger:   logger,
	}
}

// State reports the breaker's current state name.
func (b *BreakerExtractor) State() string {
	return b.cb.State().String()
}

// Extract runs the primary extractor through the breaker, switching to the
// fallback on any failure.
func (b *BreakerExtractor) Extract(ctx context.Context, memoryID, text string, domain types.Domain) (*Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.primary.Extract(ctx, memoryID, text, domain)
	})
	if err == nil {
		return out.(*Result), nil
	}

	if b.fallback == nil {
		return nil, err
	}
	b.logger.Warn("primary extraction failed, using fallback",
		"memory_id", memoryID,
		"error", err)
	result, fallbackErr := b.fallback.Extract(ctx, memoryID, text, domain)
	if fallbackErr != nil {
		return nil, fallbackErr
	}
	result.Degraded = true
	return result, nil
}
