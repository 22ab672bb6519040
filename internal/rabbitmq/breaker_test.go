package rabbitmq

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"convo-service/internal/mocks"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := new(mocks.PublisherMock)
	inner.On("Publish", mock.Anything, "rewards.message_sent", mock.Anything).Return(errors.New("broker down")).Times(breakerTripFailures)

	p := WithBreaker(inner, "test", zap.NewNop())
	for i := 0; i < breakerTripFailures; i++ {
		assert.EqualError(t, p.Publish(context.Background(), "rewards.message_sent", nil), "broker down")
	}

	err := p.Publish(context.Background(), "rewards.message_sent", nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	inner.AssertExpectations(t)
}

func TestBreakerPassesThroughSuccessAndClose(t *testing.T) {
	inner := new(mocks.PublisherMock)
	inner.On("Publish", mock.Anything, "k", "v").Return(nil).Once()
	inner.On("Close").Return(nil).Once()

	p := WithBreaker(inner, "test", zap.NewNop())
	assert.NoError(t, p.Publish(context.Background(), "k", "v"))
	assert.NoError(t, p.Close())
	inner.AssertExpectations(t)
}

func TestModeLooksThroughBreaker(t *testing.T) {
	p := WithBreaker(NewPublisher("", "rewards", zap.NewNop()), "test", zap.NewNop())
	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))
}
