package servicebus_test

import (
	"context"
	"errors"
	"testing"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/servicebus"
)

type recorder struct{ payloads []string }

func (r *recorder) handle(_ context.Context, m cbus.Message) error {
	r.payloads = append(r.payloads, m.Payload)
	return nil
}

func newDispatcher(t *testing.T, name string, ref cbus.HandlerRef) (*servicebus.Dispatcher, *servicebus.Registry) {
	t.Helper()

	reg := servicebus.NewRegistry()
	if _, err := reg.Register(name, ref); err != nil {
		t.Fatalf("register: %v", err)
	}

	return servicebus.NewDispatcher(reg, "node-1", nil), reg
}

func TestDispatcher_Filtering(t *testing.T) {
	rec := &recorder{}
	d, reg := newDispatcher(t, "orders", cbus.Func(rec.handle))

	cases := []struct {
		raw  string
		want bool
	}{
		{"all;broadcast", true},
		{"node-1;direct", true},
		{"node-2;elsewhere", false},
		{"ALL;case-sensitive", false},
		{"no-separator", false},
		{";empty-filter", false},
	}

	for _, c := range cases {
		if err := d.Route(t.Context(), "orders", c.raw); err != nil {
			t.Fatalf("route %q: %v", c.raw, err)
		}
	}

	want := []string{"broadcast", "direct"}
	if len(rec.payloads) != len(want) {
		t.Fatalf("want %v, got %v", want, rec.payloads)
	}

	for i := range want {
		if rec.payloads[i] != want[i] {
			t.Fatalf("want %v, got %v", want, rec.payloads)
		}
	}

	ch, _ := reg.Lookup("orders")
	if _, ok := ch.LastMessageAt(); !ok {
		t.Fatalf("expected last message time to be recorded")
	}
}

func TestDispatcher_PayloadKeepsSeparators(t *testing.T) {
	rec := &recorder{}
	d, _ := newDispatcher(t, "orders", cbus.Func(rec.handle))

	if err := d.Route(t.Context(), "orders", "all;a;b;c"); err != nil {
		t.Fatalf("route: %v", err)
	}

	if len(rec.payloads) != 1 || rec.payloads[0] != "a;b;c" {
		t.Fatalf("unexpected payloads: %v", rec.payloads)
	}
}

func TestDispatcher_UnregisteredChannelDropped(t *testing.T) {
	rec := &recorder{}
	d, _ := newDispatcher(t, "orders", cbus.Func(rec.handle))

	if err := d.Route(t.Context(), "invoices", "all;x"); err != nil {
		t.Fatalf("route: %v", err)
	}

	if len(rec.payloads) != 0 {
		t.Fatalf("handler should not run, got %v", rec.payloads)
	}
}

func TestDispatcher_HandlerFailures(t *testing.T) {
	boom := errors.New("boom")

	d, _ := newDispatcher(t, "fails", cbus.Func(func(context.Context, cbus.Message) error { return boom }))
	if err := d.Route(t.Context(), "fails", "all;x"); !errors.Is(err, boom) {
		t.Fatalf("want handler error, got %v", err)
	}

	d, _ = newDispatcher(t, "panics", cbus.Func(func(context.Context, cbus.Message) error { panic("kaboom") }))
	if err := d.Route(t.Context(), "panics", "all;x"); err == nil {
		t.Fatalf("want error from recovered panic")
	}

	d, _ = newDispatcher(t, "undefined", cbus.HandlerRef{})
	if err := d.Route(t.Context(), "undefined", "all;x"); !errors.Is(err, berr.ErrChannelDefinition) {
		t.Fatalf("want ErrChannelDefinition, got %v", err)
	}

	d, _ = newDispatcher(t, "nil-receiver", cbus.Factory(func() cbus.Receiver { return nil }))
	if err := d.Route(t.Context(), "nil-receiver", "all;x"); !errors.Is(err, berr.ErrChannelDefinition) {
		t.Fatalf("want ErrChannelDefinition, got %v", err)
	}
}

type countingReceiver struct{ rec *recorder }

func (c countingReceiver) OnMessage(ctx context.Context, m cbus.Message) error {
	return c.rec.handle(ctx, m)
}

func TestDispatcher_FactoryPerDelivery(t *testing.T) {
	rec := &recorder{}
	built := 0

	d, _ := newDispatcher(t, "orders", cbus.Factory(func() cbus.Receiver {
		built++
		return countingReceiver{rec: rec}
	}))

	_ = d.Route(t.Context(), "orders", "all;1")
	_ = d.Route(t.Context(), "orders", "node-1;2")

	if built != 2 || len(rec.payloads) != 2 {
		t.Fatalf("want 2 receivers and 2 payloads, got %d and %v", built, rec.payloads)
	}
}

func TestDispatcher_FailedDispatchNotRecorded(t *testing.T) {
	refs := map[string]cbus.HandlerRef{
		"fails":     cbus.Func(func(context.Context, cbus.Message) error { return errors.New("boom") }),
		"panics":    cbus.Func(func(context.Context, cbus.Message) error { panic("kaboom") }),
		"undefined": {},
	}

	for name, ref := range refs {
		d, reg := newDispatcher(t, name, ref)
		if err := d.Route(t.Context(), name, "all;x"); err == nil {
			t.Fatalf("%s: want dispatch error", name)
		}

		ch, _ := reg.Lookup(name)
		if _, ok := ch.LastMessageAt(); ok {
			t.Fatalf("%s: last message time recorded for a failed dispatch", name)
		}
	}
}
