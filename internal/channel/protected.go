package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/circuitbreaker"
	"github.com/lalithlochan/herald/internal/db"
)

// ProtectedSender wraps a Sender with a circuit breaker. While the breaker is
// open, Send fails fast with circuitbreaker.ErrCircuitOpen.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedSender) Send(ctx context.Context, msg Message) error {
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.sender.Send(ctx, msg)
	})
	if err != nil {
		p.logger.Debug("protected send failed",
			zap.String("breaker", p.breaker.Name()),
			zap.String("notification_id", msg.NotificationID.String()),
			zap.String("state", p.breaker.GetState().String()),
			zap.Error(err),
		)
	}
	return err
}

func (p *ProtectedSender) SupportsChannel(ch db.Channel) bool {
	return p.sender.SupportsChannel(ch)
}

// Breaker returns the underlying circuit breaker for health reporting.
func (p *ProtectedSender) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
