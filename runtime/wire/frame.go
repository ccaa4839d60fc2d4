package wire

import "math"

// SegmentType identifies the 1-byte tag that opens every segment on the
// wire. Service types are fixed below 0x10; user frame types (spec
// §4.1: "type_id must be >= 0x10") are registered per handler.
type SegmentType uint8

const (
	// SegmentAck carries a cumulative received-byte counter.
	SegmentAck SegmentType = 0x01
	// SegmentLineTest is an empty heartbeat payload.
	SegmentLineTest SegmentType = 0x02
	// SegmentConnOptions is the first message each side sends.
	SegmentConnOptions SegmentType = 0x03

	// MinUserSegmentType is the first type id available to application
	// frames (spec §4.1).
	MinUserSegmentType SegmentType = 0x10
)

// Frame type ids for the remote-tool and coordinator dialects (spec §6).
const (
	FrameToolRequest  SegmentType = 0x11
	FrameToolResponse SegmentType = 0x12

	FrameListRequest       SegmentType = 0x11
	FrameListResponse      SegmentType = 0x12
	FrameToolServerStatus  SegmentType = 0x13
	FrameToolServerSession SegmentType = 0x14

	// FrameVersionProbe/FrameVersionProbeResponse are the tool-client <->
	// tool-server sentinel exchange used for the version-match gate
	// (spec §4.4): on a fresh connection the client asks, the server
	// answers with its VersionMap, and the client compares it against
	// its own locally-detected versions before marking the server
	// compatible in the balancer.
	FrameVersionProbe         SegmentType = 0x15
	FrameVersionProbeResponse SegmentType = 0x16

	// FrameToolProxyRequest/FrameToolProxyResponse carry the tool-proxy
	// dialect (spec §4.5 external contract, original_source's
	// ToolProxyFrames): a raw, unsplit local invocation in, a combined
	// stdout/result out.
	FrameToolProxyRequest  SegmentType = 0x17
	FrameToolProxyResponse SegmentType = 0x18
)

// NoReplyTransactionId marks "not a reply" in a frame header (spec §3:
// reply_to_transaction_id = u64::MAX).
const NoReplyTransactionId uint64 = math.MaxUint64

// Header is the common prefix of every user-frame body (spec §4.1):
// length, creation timestamp, transaction id, and reply correlation.
type Header struct {
	Length              uint32
	CreatedUs           int64
	TransactionId       uint64
	ReplyToTransactionId uint64
}

// IsReply reports whether this frame is a correlated reply.
func (h Header) IsReply() bool { return h.ReplyToTransactionId != NoReplyTransactionId }

// WriteHeader appends the frame header fields to w. Length is written
// as given; the transport layer's encodeFrame sets it to the full
// encoded size before calling WriteHeader.
func WriteHeader(w *Writer, h Header) {
	w.U32(h.Length)
	w.I64(h.CreatedUs)
	w.U64(h.TransactionId)
	w.U64(h.ReplyToTransactionId)
}

// ReadHeader decodes a frame header from r.
func ReadHeader(r *Reader) (Header, error) {
	var h Header
	var err error
	if h.Length, err = r.U32(); err != nil {
		return h, err
	}
	if h.CreatedUs, err = r.I64(); err != nil {
		return h, err
	}
	if h.TransactionId, err = r.U64(); err != nil {
		return h, err
	}
	if h.ReplyToTransactionId, err = r.U64(); err != nil {
		return h, err
	}
	return h, nil
}

// ConnOptions is the handshake payload both peers send first (spec §4.1).
type ConnOptions struct {
	RecvBufferSize  uint32
	ProtocolVersion uint32
	TimestampUs     int64
}

// Encode renders o as segment-type + payload (fixed size, no length prefix).
func (o ConnOptions) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	w.U32(o.RecvBufferSize)
	w.U32(o.ProtocolVersion)
	w.I64(o.TimestampUs)
	return w.Bytes()
}

// DecodeConnOptions parses a ConnOptions payload.
func DecodeConnOptions(buf []byte, order ByteOrder) (ConnOptions, error) {
	r := NewReader(buf, order)
	var o ConnOptions
	var err error
	if o.RecvBufferSize, err = r.U32(); err != nil {
		return o, err
	}
	if o.ProtocolVersion, err = r.U32(); err != nil {
		return o, err
	}
	if o.TimestampUs, err = r.I64(); err != nil {
		return o, err
	}
	return o, nil
}

// Ack carries a cumulative received-byte counter (spec §4.1).
type Ack struct {
	CumulativeBytesReceived uint32
}

// Encode renders a as its 4-byte payload.
func (a Ack) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	w.U32(a.CumulativeBytesReceived)
	return w.Bytes()
}

// DecodeAck parses an Ack payload.
func DecodeAck(buf []byte, order ByteOrder) (Ack, error) {
	r := NewReader(buf, order)
	v, err := r.U32()
	return Ack{CumulativeBytesReceived: v}, err
}
