package bus

// Delivery is a raw payload received by a subscription, before envelope decoding.
type Delivery struct {
	Channel string
	Payload string
}

// Message is what channel handlers receive: the channel name and the payload with the
// filter prefix already stripped.
type Message struct {
	Channel string
	Payload string
}
