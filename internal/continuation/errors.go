package continuation

import "errors"

// Domain errors for the continuation package.
var (
	// ErrMalformedEnvelope is returned when a message is not a valid envelope.
	ErrMalformedEnvelope = errors.New("continuation: malformed envelope")

	// ErrUnknownMessageType is returned for envelopes with an unrecognised msgType.
	ErrUnknownMessageType = errors.New("continuation: unknown message type")

	// ErrDeliveryFailed is returned when a hand-off could not be published
	// within the configured attempts.
	ErrDeliveryFailed = errors.New("continuation: delivery failed")
)
