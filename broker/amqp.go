package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zllovesuki/storecheckout/spec/broker"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var _ broker.Producer = &AMQPBroker{}

const checkoutExchange = "checkout_events"

// AMQPBroker publishes checkout events to RabbitMQ
type AMQPBroker struct {
	logger     *zap.Logger
	connection *amqp.Connection

	// amqp.Channel is not safe for concurrent publishing
	mu      sync.Mutex
	channel *amqp.Channel
}

// NewAMQPBroker returns a Producer over RabbitMQ
func NewAMQPBroker(logger *zap.Logger, amqpURI string) (*AMQPBroker, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	b := &AMQPBroker{
		logger:     logger,
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := b.setupCheckoutExchange(); err != nil {
		b.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for checkout events")
	}
	return b, nil
}

func (a *AMQPBroker) setupCheckoutExchange() error {
	return a.channel.ExchangeDeclare(
		checkoutExchange, // name
		"topic",          // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// PublishCheckoutEvent sends e with its kind as routing key, e.g. checkout.failed
func (a *AMQPBroker) PublishCheckoutEvent(ctx context.Context, e broker.CheckoutEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := Encode(e)
	if err != nil {
		return err
	}
	protoBytes, err := proto.Marshal(payload)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode message into bytes")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.channel.Publish(
		checkoutExchange,
		e.Kind,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/x-protobuf",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.AttemptID,
			Timestamp:    time.Now(),
			Type:         e.Kind,
			Body:         protoBytes,
		},
	); err != nil {
		a.logger.Error("Cannot publish checkout event",
			zap.String("Kind", e.Kind),
			zap.String("AttemptID", e.AttemptID),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot publish checkout event")
	}
	return nil
}
