package bus

import "context"

// Publisher abstracts publishing a raw payload to a named channel.
// The payload is the fully encoded envelope; publishers must not alter it.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}
