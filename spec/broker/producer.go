package broker

import (
	"context"

	"github.com/zllovesuki/storecheckout/spec"
)

// CheckoutEvent is emitted once per submission when it reaches a terminal state
type CheckoutEvent struct {
	Kind       string
	AttemptID  string
	ShopID     string
	SellerID   string
	Email      string
	Path       string
	State      string
	Error      string
	Attributes spec.Metadata
}

// Producer defines a producer publishing checkout events via message broker
type Producer interface {
	Close()
	PublishCheckoutEvent(ctx context.Context, e CheckoutEvent) error
}
