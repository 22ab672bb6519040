package rabbitmq

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const breakerTripFailures = 5

type breakerPublisher struct {
	inner Publisher
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker stops calling inner after consecutive failures and probes it again
// after a cool-down. While open, Publish fails fast with gobreaker.ErrOpenState.
func WithBreaker(inner Publisher, name string, logger *zap.Logger) Publisher {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &breakerPublisher{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (p *breakerPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.inner.Publish(ctx, routingKey, event)
	})
	return err
}

func (p *breakerPublisher) Close() error {
	return p.inner.Close()
}
