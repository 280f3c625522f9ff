package directory

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ehr/familylink/internal/domain/relationship"
)

// BreakerSettings configures the circuit breaker around a directory.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening
	OpenTimeout      time.Duration // how long to stay open before probing
	Logger           zerolog.Logger
}

// BreakerDirectory fails fast with ErrUpstream while the wrapped directory is
// unhealthy. Cancelled searches do not count as failures.
type BreakerDirectory struct {
	inner Directory
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerDirectory(inner Directory, s BreakerSettings) *BreakerDirectory {
	if s.Name == "" {
		s.Name = "patient-directory"
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	logger := s.Logger
	return &BreakerDirectory{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: 1,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= s.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("directory circuit breaker state changed")
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

func (b *BreakerDirectory) Search(ctx context.Context, query string) ([]relationship.PatientRef, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Search(ctx, query)
	})
	if err != nil {
		return nil, relationship.Upstream("directory search", err)
	}
	return res.([]relationship.PatientRef), nil
}

// State exposes the breaker state for health reporting.
func (b *BreakerDirectory) State() string {
	return b.cb.State().String()
}
