package memory

import (
	"github.com/next-trace/scg-channel-bus/adapters/inmemory"
	"github.com/next-trace/scg-channel-bus/servicebus"
)

// New constructs a channel bus backed by the loopback adapter along with a cleanup function
// that closes the bus. Messages the bus publishes come straight back to its own listeners.
func New(opts ...servicebus.Option) (*servicebus.Bus, func(), error) {
	sb, err := servicebus.New(inmemory.New(), opts...)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() { _ = sb.Close() }

	return sb, cleanup, nil
}

// NewNetwork constructs one bus per filter id, all sharing a single in-process broker, so they
// behave like separate processes on one transport.
func NewNetwork(filterIDs []string, opts ...servicebus.Option) (map[string]*servicebus.Bus, func(), error) {
	broker := inmemory.NewBroker()
	buses := make(map[string]*servicebus.Bus, len(filterIDs))

	cleanup := func() {
		for _, b := range buses {
			_ = b.Close()
		}
	}

	for _, id := range filterIDs {
		b, err := servicebus.New(inmemory.NewOn(broker), append([]servicebus.Option{servicebus.WithFilterID(id)}, opts...)...)
		if err != nil {
			cleanup()
			return nil, nil, err
		}

		buses[id] = b
	}

	return buses, cleanup, nil
}
