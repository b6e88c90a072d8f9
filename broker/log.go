package broker

import (
	"context"

	"github.com/zllovesuki/storecheckout/spec/broker"

	"go.uber.org/zap"
)

var _ broker.Producer = &LogBroker{}

// LogBroker writes checkout events to the log. Used when no message broker is configured.
type LogBroker struct {
	logger *zap.Logger
}

// NewLogBroker returns a Producer that only logs
func NewLogBroker(logger *zap.Logger) *LogBroker {
	return &LogBroker{
		logger: logger,
	}
}

func (l *LogBroker) Close() {}

func (l *LogBroker) PublishCheckoutEvent(ctx context.Context, e broker.CheckoutEvent) error {
	fields := []zap.Field{
		zap.String("Kind", e.Kind),
		zap.String("AttemptID", e.AttemptID),
		zap.String("ShopID", e.ShopID),
		zap.String("Path", e.Path),
		zap.String("State", e.State),
		zap.Any("Attributes", e.Attributes),
	}
	if e.Error != "" {
		fields = append(fields, zap.String("Error", e.Error))
	}
	l.logger.Info("Checkout event", fields...)
	return nil
}
