package bus

import "context"

// HandlerFunc handles messages for one channel.
// It is invoked on the subscriber goroutine; a slow handler delays every later delivery.
type HandlerFunc func(ctx context.Context, msg Message) error

// Receiver is a per-message handler instance produced by a ReceiverFactory.
type Receiver interface {
	OnMessage(ctx context.Context, msg Message) error
}

// ReceiverFactory builds a fresh Receiver for every delivery, so receivers never see state
// left behind by a previous message.
type ReceiverFactory func() Receiver

// HandlerRef is the handler bound to a channel: either a stateless callback or a factory.
// When both are set the callback wins.
type HandlerRef struct {
	Func    HandlerFunc
	Factory ReceiverFactory
}

// Func wraps a callback into a HandlerRef.
func Func(fn HandlerFunc) HandlerRef { return HandlerRef{Func: fn} }

// Factory wraps a receiver factory into a HandlerRef.
func Factory(f ReceiverFactory) HandlerRef { return HandlerRef{Factory: f} }

// Valid reports whether the ref carries something invokable.
func (r HandlerRef) Valid() bool { return r.Func != nil || r.Factory != nil }
