package transport

import "errors"

// Sentinel errors for the transport layer (SPEC_FULL.md §A.2); wrapped
// with %w at each boundary so errors.Is/As works end to end.
var (
	// ErrChannelDead is returned when the connection is declared dead
	// after an acknowledgement timeout or I/O failure.
	ErrChannelDead = errors.New("transport: channel dead")
	// ErrVersionMismatch is returned when the peer's ConnOptions carries
	// a different protocol version.
	ErrVersionMismatch = errors.New("transport: protocol version mismatch")
	// ErrUnknownTransaction names the case of an incoming reply_to that
	// matches no pending notifier. resolveReply drops such a reply
	// silently; this error is neither logged nor returned.
	ErrUnknownTransaction = errors.New("transport: unknown transaction id")
	// ErrHandlerStopped is returned by QueueFrame after Stop has been called.
	ErrHandlerStopped = errors.New("transport: handler stopped")
	// ErrMalformedSegment is logged when a segment has an unknown service
	// type or its Ack payload or frame header cannot be decoded. Length
	// prefixes are not range-checked.
	ErrMalformedSegment = errors.New("transport: malformed segment")
)
