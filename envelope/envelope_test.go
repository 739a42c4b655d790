package envelope_test

import (
	"errors"
	"testing"

	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/envelope"
)

func TestEncodeDecode(t *testing.T) {
	raw := envelope.Encode("srv-1", `{"a":"x;y"}`)
	if raw != `srv-1;{"a":"x;y"}` {
		t.Fatalf("unexpected wire form: %s", raw)
	}

	env, err := envelope.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if env.FilterID != "srv-1" || env.Payload != `{"a":"x;y"}` {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if env.String() != raw {
		t.Fatalf("String()=%s want %s", env.String(), raw)
	}
}

func TestDecode_EmptyPayload(t *testing.T) {
	env, err := envelope.Decode("all;")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !env.IsBroadcast() || env.Payload != "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{"", "no-separator", ";payload"} {
		if _, err := envelope.Decode(raw); !errors.Is(err, berr.ErrMalformedEnvelope) {
			t.Fatalf("%q: want ErrMalformedEnvelope, got %v", raw, err)
		}
	}
}

func TestAddressedTo(t *testing.T) {
	tests := []struct {
		filter string
		local  string
		want   bool
	}{
		{envelope.Broadcast, "srv-1", true},
		{envelope.Broadcast, "", true},
		{"srv-1", "srv-1", true},
		{"srv-2", "srv-1", false},
		{"none", "srv-1", false},
		{"srv-1", "", false},
	}

	for _, tc := range tests {
		env := envelope.Envelope{FilterID: tc.filter}
		if got := env.AddressedTo(tc.local); got != tc.want {
			t.Fatalf("filter=%q local=%q: got %v want %v", tc.filter, tc.local, got, tc.want)
		}
	}
}

func TestValidFilterID(t *testing.T) {
	if !envelope.ValidFilterID("proxy") {
		t.Fatalf("proxy should be valid")
	}

	if envelope.ValidFilterID("") || envelope.ValidFilterID("a;b") {
		t.Fatalf("empty and separator ids must be invalid")
	}

	if err := envelope.CheckFilterID("a;b"); !errors.Is(err, berr.ErrInvalidFilterID) {
		t.Fatalf("want ErrInvalidFilterID, got %v", err)
	}
}
