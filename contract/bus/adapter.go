package bus

import "context"

// Transport is the pub/sub primitive the channel bus is layered on.
// Any adapter that can publish a payload on a named channel and open a subscription over a set of
// channel names can be passed to the Bus (Redis, NATS, RabbitMQ, Kafka, Watermill, in-memory, etc.).
//
// Delivery is best-effort broadcast: every live subscription on a channel receives each payload at
// most once, with no persistence or cross-channel ordering.
type Transport interface {
	Publisher
	Subscriber

	// Close releases every connection held by the transport.
	Close() error
}

// Subscriber opens subscriptions.
type Subscriber interface {
	// Subscribe opens one subscription covering all the given channel names.
	// Implementations should use a connection dedicated to the subscription where the broker
	// requires it (Redis, AMQP consumers).
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Subscription is a live, ordered stream of deliveries.
//
// Deliveries is closed once the subscription ends, either through Close or because the
// underlying transport failed. After the channel is closed Err reports the failure cause, or nil
// when the subscription was closed deliberately.
type Subscription interface {
	Deliveries() <-chan Delivery
	// Add extends the subscription with more channel names.
	Add(ctx context.Context, channels ...string) error
	Err() error
	Close() error
}
