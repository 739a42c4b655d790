// Package envelope encodes and decodes the wire format shared by every channel:
//
//	<filterId>;<payload>
//
// filterId is either Broadcast ("all"), addressing every subscriber, or the filter id of a single
// target process. It never contains the separator. The payload is opaque and may contain it.
package envelope

import (
	"fmt"
	"strings"

	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

const (
	// Broadcast addresses every subscriber of a channel.
	Broadcast = "all"

	// Separator splits the filter id from the payload.
	Separator = ";"
)

// Envelope is a decoded wire message.
type Envelope struct {
	FilterID string
	Payload  string
}

// Encode builds the wire form of a message. The filter id is not validated here; see ValidFilterID.
func Encode(filterID, payload string) string {
	return filterID + Separator + payload
}

// Decode splits raw on the first separator.
func Decode(raw string) (Envelope, error) {
	filterID, payload, ok := strings.Cut(raw, Separator)
	if !ok {
		return Envelope{}, fmt.Errorf("decode envelope (%d bytes, no separator): %w", len(raw), berr.ErrMalformedEnvelope)
	}

	if filterID == "" {
		return Envelope{}, fmt.Errorf("decode envelope: empty filter id: %w", berr.ErrMalformedEnvelope)
	}

	return Envelope{FilterID: filterID, Payload: payload}, nil
}

// String returns the wire form.
func (e Envelope) String() string { return Encode(e.FilterID, e.Payload) }

// IsBroadcast reports whether the envelope addresses every subscriber.
func (e Envelope) IsBroadcast() bool { return e.FilterID == Broadcast }

// AddressedTo reports whether a process with the given filter id should handle the envelope.
func (e Envelope) AddressedTo(localID string) bool {
	return e.IsBroadcast() || (localID != "" && e.FilterID == localID)
}

// ValidFilterID reports whether id can be used as a filter id on the wire.
func ValidFilterID(id string) bool {
	return id != "" && !strings.Contains(id, Separator)
}

// CheckFilterID returns ErrInvalidFilterID for ids that cannot be encoded.
func CheckFilterID(id string) error {
	if !ValidFilterID(id) {
		return fmt.Errorf("filter id %q: %w", id, berr.ErrInvalidFilterID)
	}

	return nil
}
