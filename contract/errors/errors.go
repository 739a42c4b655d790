package errors

// Error codes for the channel bus contracts. Keep stable; used across adapters and the bus.
const (
	ErrCodeChannelAlreadyRegistered = "channelbus.channel_already_registered"
	ErrCodeChannelNotRegistered     = "channelbus.channel_not_registered"
	ErrCodeChannelDefinition        = "channelbus.channel_definition"
	ErrCodeChannelNameRequired      = "channelbus.channel_name_required"
	ErrCodeMessageFailure           = "channelbus.message_failure"
	ErrCodeMalformedEnvelope        = "channelbus.malformed_envelope"
	ErrCodeInvalidFilterID          = "channelbus.invalid_filter_id"
	ErrCodeSerializationFailed      = "channelbus.serialization_failed"
	ErrCodeCouldNotConnect          = "channelbus.could_not_connect"
	ErrCodeTransportNotConfigured   = "channelbus.transport_not_configured"
	ErrCodeBusClosed                = "channelbus.bus_closed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

// Sentinels compared with errors.Is. ErrMessageFailure is joined with the transport cause
// so both remain visible to callers.
var (
	ErrChannelAlreadyRegistered = Code(ErrCodeChannelAlreadyRegistered)
	ErrChannelNotRegistered     = Code(ErrCodeChannelNotRegistered)
	ErrChannelDefinition        = Code(ErrCodeChannelDefinition)
	ErrChannelNameRequired      = Code(ErrCodeChannelNameRequired)
	ErrMessageFailure           = Code(ErrCodeMessageFailure)
	ErrMalformedEnvelope        = Code(ErrCodeMalformedEnvelope)
	ErrInvalidFilterID          = Code(ErrCodeInvalidFilterID)
	ErrSerializationFailed      = Code(ErrCodeSerializationFailed)
	ErrCouldNotConnect          = Code(ErrCodeCouldNotConnect)
	ErrTransportNotConfigured   = Code(ErrCodeTransportNotConfigured)
	ErrBusClosed                = Code(ErrCodeBusClosed)
)
