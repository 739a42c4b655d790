package servicebus

import (
	"context"
	"errors"
	"testing"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

func TestCorrelator_FirstResponseWins(t *testing.T) {
	c := NewCorrelator(nil, "proxy", 0, nil)
	pr := c.track("id-1")
	other := c.track("id-2")

	rcv := c.Receiver()

	for _, payload := range []string{
		`{"id":"id-1","key":"k","data":{"n":1},"sender":"internal","stream":"RESPONSE"}`,
		`{"id":"id-1","key":"k","data":{"n":2},"sender":"internal","stream":"RESPONSE"}`,
		`{"id":"unknown","key":"k","data":{},"sender":"internal","stream":"RESPONSE"}`,
	} {
		if err := rcv.OnMessage(t.Context(), cbus.Message{Channel: RequestChannel, Payload: payload}); err != nil {
			t.Fatalf("on message: %v", err)
		}
	}

	got := <-pr.slot
	if got["n"] != float64(1) {
		t.Fatalf("want first response, got %v", got)
	}

	if len(pr.slot) != 0 {
		t.Fatalf("second response must be discarded")
	}

	if len(other.slot) != 0 {
		t.Fatalf("response for id-1 leaked into id-2")
	}

	c.untrack("id-1")
	c.untrack("id-2")

	if c.Pending() != 0 {
		t.Fatalf("want empty table, got %d", c.Pending())
	}
}

func TestCorrelator_RejectsBadEnvelopes(t *testing.T) {
	c := NewCorrelator(nil, "proxy", 0, nil)
	rcv := c.Receiver()

	for _, payload := range []string{
		`not json`,
		`{"key":"k","stream":"REQUEST"}`,
		`{"id":"x","key":"k","stream":"SIDEWAYS"}`,
	} {
		err := rcv.OnMessage(t.Context(), cbus.Message{Channel: RequestChannel, Payload: payload})
		if !errors.Is(err, berr.ErrSerializationFailed) {
			t.Fatalf("payload %q: want ErrSerializationFailed, got %v", payload, err)
		}
	}
}

func TestCorrelator_MissingResponderDropsRequest(t *testing.T) {
	c := NewCorrelator(nil, "proxy", 0, nil)

	err := c.Receiver().OnMessage(t.Context(), cbus.Message{
		Channel: RequestChannel,
		Payload: `{"id":"x","key":"nobody","data":{},"sender":"proxy","stream":"REQUEST"}`,
	})
	if err != nil {
		t.Fatalf("missing responder should drop silently: %v", err)
	}
}

func TestCorrelator_LastResponderWins(t *testing.T) {
	c := NewCorrelator(nil, "proxy", 0, nil)

	c.Respond("k", func(_ context.Context, _ Object) (Object, error) { return Object{"v": 1}, nil })
	c.Respond("k", func(_ context.Context, _ Object) (Object, error) { return Object{"v": 2}, nil })

	c.respMu.RLock()
	fn := c.responders["k"]
	c.respMu.RUnlock()

	out, _ := fn(t.Context(), nil)
	if out["v"] != 2 {
		t.Fatalf("want last registration, got %v", out)
	}
}
