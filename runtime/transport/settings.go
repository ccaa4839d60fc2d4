// Package transport implements the framed RPC handler (spec §4.1): a
// length-delimited, multiplexed, acknowledged segment protocol running
// one worker loop per TCP connection, with reply correlation, flow
// control, and heartbeats.
package transport

import "time"

// Settings tunes one FrameHandler. Defaults are grounded in the
// original SocketFrameHandlerSettings (original_source/Platform/SocketFrameHandler.h).
type Settings struct {
	// AcknowledgeMinimalReadSize is the cumulative unacked receive byte
	// count that triggers an outgoing Ack.
	AcknowledgeMinimalReadSize uint32
	// ChannelActivityTimeout closes the socket after this much time with
	// no reads at all.
	ChannelActivityTimeout time.Duration
	// AcknowledgeTimeout is fatal if crossed while waiting for an Ack.
	AcknowledgeTimeout time.Duration
	// LineTestInterval sends a LineTest heartbeat after this much idle time.
	LineTestInterval time.Duration
	// AfterDisconnectWait carries the original reconnect delay. No
	// component reads it: a Failed handler is never reconnected.
	AfterDisconnectWait time.Duration
	// DeadClientRemove carries the original registry-entry lifetime. No
	// component reads it: the coordinator evicts entries only when their
	// owning connection drops.
	DeadClientRemove time.Duration
	// SegmentSize is the maximum payload carried by one user-type segment;
	// larger frame bodies are split across consecutive segments of the
	// same type id.
	SegmentSize uint32
	// RecommendedReceiveBufferSize is advertised in ConnOptions and used
	// by the peer to compute this side's max_unacked_bytes.
	RecommendedReceiveBufferSize uint32
	// ReplyTimeoutCheckInterval carries the original sweep period. The
	// worker loop does not read it; it sweeps pending replies on every
	// quantum.
	ReplyTimeoutCheckInterval time.Duration
	// QuantumInterval is the sleep between worker-loop iterations when
	// there is no backlog to drain immediately.
	QuantumInterval time.Duration
	// ProtocolVersion is sent in ConnOptions; a mismatch disconnects.
	ProtocolVersion uint32
}

// DefaultSettings mirrors the original implementation's defaults.
func DefaultSettings() Settings {
	return Settings{
		AcknowledgeMinimalReadSize:   100,
		ChannelActivityTimeout:       10 * time.Second,
		AcknowledgeTimeout:           10 * time.Second,
		LineTestInterval:             3 * time.Second,
		AfterDisconnectWait:          10 * time.Second,
		DeadClientRemove:             120 * time.Second,
		SegmentSize:                  240,
		RecommendedReceiveBufferSize: 4096,
		ReplyTimeoutCheckInterval:    time.Second,
		QuantumInterval:              5 * time.Millisecond,
		ProtocolVersion:              1,
	}
}

// Option mutates a Settings value, following the functional-options
// idiom used throughout the codebase for component configuration.
type Option func(*Settings)

// WithSegmentSize overrides the maximum per-segment payload size.
func WithSegmentSize(n uint32) Option {
	return func(s *Settings) { s.SegmentSize = n }
}

// WithAcknowledgeMinimalReadSize overrides the Ack trigger threshold.
func WithAcknowledgeMinimalReadSize(n uint32) Option {
	return func(s *Settings) { s.AcknowledgeMinimalReadSize = n }
}

// WithChannelActivityTimeout overrides the idle-read disconnect timeout.
func WithChannelActivityTimeout(d time.Duration) Option {
	return func(s *Settings) { s.ChannelActivityTimeout = d }
}

// WithAcknowledgeTimeout overrides the fatal Ack-wait timeout.
func WithAcknowledgeTimeout(d time.Duration) Option {
	return func(s *Settings) { s.AcknowledgeTimeout = d }
}

// WithLineTestInterval overrides the heartbeat interval.
func WithLineTestInterval(d time.Duration) Option {
	return func(s *Settings) { s.LineTestInterval = d }
}

// WithQuantumInterval overrides the worker-loop idle sleep.
func WithQuantumInterval(d time.Duration) Option {
	return func(s *Settings) { s.QuantumInterval = d }
}

// WithProtocolVersion overrides the negotiated protocol version.
func WithProtocolVersion(v uint32) Option {
	return func(s *Settings) { s.ProtocolVersion = v }
}

// WithRecvBufferSize overrides the advertised receive buffer size.
func WithRecvBufferSize(n uint32) Option {
	return func(s *Settings) { s.RecommendedReceiveBufferSize = n }
}

// Apply builds a Settings from DefaultSettings with opts applied.
func Apply(opts ...Option) Settings {
	s := DefaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
