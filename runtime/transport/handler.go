package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/wire"
)

// State is a FrameHandler's connection lifecycle stage (spec §4.1).
type State int

const (
	// Pending means the socket is not yet connected or the ConnOptions
	// handshake has not completed.
	Pending State = iota
	// Connected means the handshake succeeded and the worker loop is
	// exchanging frames.
	Connected
	// Failed is a permanent terminal state: read/write error, version
	// mismatch, or a channel timeout.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReplyState describes how a queued frame's reply callback was resolved.
type ReplyState int

const (
	// ReplySuccess means a correlated reply frame arrived.
	ReplySuccess ReplyState = iota
	// ReplyTimeout means the deadline passed with no reply.
	ReplyTimeout
	// ReplyError means the connection failed before a reply arrived.
	ReplyError
)

// ReplyCallback is invoked exactly once per QueueFrame call that
// supplied one, per spec §4.1 ("the callback is invoked exactly once").
type ReplyCallback func(state ReplyState, header wire.Header, body []byte, err error)

// FrameReader decodes and dispatches frames of one registered type.
type FrameReader interface {
	// FrameTypeId is the segment type this reader handles (must be
	// >= wire.MinUserSegmentType).
	FrameTypeId() wire.SegmentType
	// ProcessFrame is invoked once per fully-assembled incoming frame.
	ProcessFrame(header wire.Header, body []byte) error
}

// FrameReaderFunc adapts a plain function to a FrameReader.
type FrameReaderFunc struct {
	TypeId  wire.SegmentType
	Process func(header wire.Header, body []byte) error
}

// FrameTypeId implements FrameReader.
func (f FrameReaderFunc) FrameTypeId() wire.SegmentType { return f.TypeId }

// ProcessFrame implements FrameReader.
func (f FrameReaderFunc) ProcessFrame(header wire.Header, body []byte) error {
	return f.Process(header, body)
}

// ChannelNotifier receives connected/disconnected transitions.
type ChannelNotifier func(connected bool)

type outboundSegment struct {
	typeId wire.SegmentType
	body   []byte
}

type notifierEntry struct {
	callback ReplyCallback
	deadline time.Time
	noExpiry bool
}

// FrameHandler is the core of the framed RPC transport: one worker loop
// per TCP connection doing reads, writes, flow control, heartbeats, and
// reply correlation (spec §4.1, §5).
type FrameHandler struct {
	conn     net.Conn
	settings Settings
	order    wire.ByteOrder
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	isServer bool

	mu       sync.Mutex
	state    State
	outQueue []outboundSegment
	nextTxn  uint64

	notifierMu sync.Mutex
	notifiers  map[uint64]*notifierEntry

	readers map[wire.SegmentType]FrameReader

	channelNotifier ChannelNotifier

	bytesWaitingAck       uint32
	maxUnackedBytes       uint32
	bytesReceivedSinceAck uint32
	lastAckSentAt         time.Time
	waitingAckSince        time.Time

	lastActivity   time.Time
	lastWriteOrLineTest time.Time

	assembly map[wire.SegmentType][]byte

	stopped  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	limiter *rate.Limiter
}

// HandlerOption configures a FrameHandler at construction time.
type HandlerOption func(*FrameHandler)

// WithLogger injects a structured logger; defaults to a Noop logger.
func WithLogger(l telemetry.Logger) HandlerOption {
	return func(h *FrameHandler) { h.logger = l }
}

// WithMetrics injects a metrics recorder; defaults to a Noop recorder.
func WithMetrics(m telemetry.Metrics) HandlerOption {
	return func(h *FrameHandler) { h.metrics = m }
}

// WithByteOrder overrides the scalar byte order (default big-endian).
func WithByteOrder(order wire.ByteOrder) HandlerOption {
	return func(h *FrameHandler) { h.order = order }
}

// AsServer marks this handler as the accepting side of the connection.
// The flag does not change the handler's behaviour; the ConnOptions
// handshake is symmetric (both sides send first, per spec §4.1).
func AsServer() HandlerOption {
	return func(h *FrameHandler) { h.isServer = true }
}

// NewHandler wraps conn in a FrameHandler using settings. The handler
// is Pending until Start is called.
func NewHandler(conn net.Conn, settings Settings, opts ...HandlerOption) *FrameHandler {
	h := &FrameHandler{
		conn:      conn,
		settings:  settings,
		order:     wire.DefaultByteOrder,
		logger:    telemetry.NewNoopLogger(),
		metrics:   telemetry.NewNoopMetrics(),
		state:     Pending,
		notifiers: make(map[uint64]*notifierEntry),
		readers:   make(map[wire.SegmentType]FrameReader),
		assembly:  make(map[wire.SegmentType][]byte),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		// maxUnackedBytes is refined once the peer's ConnOptions arrives;
		// this is a conservative default until then.
		maxUnackedBytes: settings.RecommendedReceiveBufferSize,
		limiter:         rate.NewLimiter(rate.Every(settings.QuantumInterval), 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterReader registers a decoder/dispatcher for incoming frames of
// the given type. typeId must be >= wire.MinUserSegmentType.
func (h *FrameHandler) RegisterReader(r FrameReader) error {
	if r.FrameTypeId() < wire.MinUserSegmentType {
		return fmt.Errorf("transport: frame type 0x%02x is below user range", r.FrameTypeId())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readers[r.FrameTypeId()] = r
	return nil
}

// SetChannelNotifier installs the connected/disconnected callback.
func (h *FrameHandler) SetChannelNotifier(cb ChannelNotifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channelNotifier = cb
}

// State returns the handler's current lifecycle state.
func (h *FrameHandler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// QueueFrame enqueues typeId/body for transmission. If replyCallback is
// non-nil, a fresh transaction id is assigned and the callback is
// invoked exactly once with Success, Timeout, or Error. timeout <= 0
// means the reply never expires via the sweep (still resolved on
// disconnect).
func (h *FrameHandler) QueueFrame(typeId wire.SegmentType, payload []byte, replyCallback ReplyCallback, timeout time.Duration) (uint64, error) {
	if h.stopped.Load() {
		if replyCallback != nil {
			replyCallback(ReplyError, wire.Header{}, nil, ErrHandlerStopped)
		}
		return 0, ErrHandlerStopped
	}

	h.mu.Lock()
	var txnId uint64
	if replyCallback != nil {
		h.nextTxn++
		txnId = h.nextTxn
	}
	h.mu.Unlock()

	hdr := wire.Header{
		CreatedUs:            time.Now().UnixMicro(),
		TransactionId:        txnId,
		ReplyToTransactionId: wire.NoReplyTransactionId,
	}
	full := encodeFrame(h.order, hdr, payload)

	if replyCallback != nil {
		entry := &notifierEntry{callback: replyCallback, noExpiry: timeout <= 0}
		if timeout > 0 {
			entry.deadline = time.Now().Add(timeout)
		}
		h.notifierMu.Lock()
		h.notifiers[txnId] = entry
		h.notifierMu.Unlock()
	}

	h.mu.Lock()
	h.outQueue = append(h.outQueue, outboundSegment{typeId: typeId, body: full})
	h.mu.Unlock()

	return txnId, nil
}

// QueueReply enqueues a correlated reply to an incoming frame's
// transaction id; no reply callback is registered for replies
// themselves (spec: reply_to_transaction_id correlation is one level).
func (h *FrameHandler) QueueReply(typeId wire.SegmentType, payload []byte, replyToTxn uint64) error {
	if h.stopped.Load() {
		return ErrHandlerStopped
	}
	hdr := wire.Header{
		CreatedUs:            time.Now().UnixMicro(),
		TransactionId:        0,
		ReplyToTransactionId: replyToTxn,
	}
	full := encodeFrame(h.order, hdr, payload)
	h.mu.Lock()
	h.outQueue = append(h.outQueue, outboundSegment{typeId: typeId, body: full})
	h.mu.Unlock()
	return nil
}

// encodeFrame renders the frame header + payload with Length patched to
// the total encoded size, mirroring the body layout of spec §4.1:
// length, created_us, transaction_id, reply_to_transaction_id, body.
func encodeFrame(order wire.ByteOrder, hdr wire.Header, payload []byte) []byte {
	hdr.Length = uint32(4 + 8 + 8 + 8 + len(payload))
	w := wire.NewWriter(order)
	wire.WriteHeader(w, hdr)
	w.Raw(payload)
	return w.Bytes()
}

// Start launches the worker loop goroutine (spec §5: "one handler runs
// on a single worker loop"). The supplied context bounds the handshake;
// the loop itself runs until Stop is called or the channel fails.
func (h *FrameHandler) Start(ctx context.Context) {
	go h.run(ctx)
}

// Stop signals the worker loop to exit. If wait is true, it blocks
// until the loop has fully exited, mirroring the original stop(wait=true).
func (h *FrameHandler) Stop(wait bool) {
	if h.stopped.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	if wait {
		<-h.doneCh
	}
}
