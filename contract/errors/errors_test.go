package errors_test

import (
	"errors"
	"fmt"
	"testing"

	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodeMessageFailure)
	if e.Error() != berr.ErrCodeMessageFailure {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrChannelAlreadyRegistered, berr.ErrCodeChannelAlreadyRegistered},
		{berr.ErrChannelNotRegistered, berr.ErrCodeChannelNotRegistered},
		{berr.ErrChannelDefinition, berr.ErrCodeChannelDefinition},
		{berr.ErrChannelNameRequired, berr.ErrCodeChannelNameRequired},
		{berr.ErrMessageFailure, berr.ErrCodeMessageFailure},
		{berr.ErrMalformedEnvelope, berr.ErrCodeMalformedEnvelope},
		{berr.ErrInvalidFilterID, berr.ErrCodeInvalidFilterID},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrCouldNotConnect, berr.ErrCodeCouldNotConnect},
		{berr.ErrTransportNotConfigured, berr.ErrCodeTransportNotConfigured},
		{berr.ErrBusClosed, berr.ErrCodeBusClosed},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestJoinedCauseStaysVisible(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("publish orders: %w", errors.Join(berr.ErrMessageFailure, cause))

	if !errors.Is(err, berr.ErrMessageFailure) {
		t.Fatalf("want ErrMessageFailure, got %v", err)
	}

	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
}
