package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/wuild-project/wuild/runtime/wire"
)

const readPollTimeout = 20 * time.Millisecond

// run is the quantum loop (spec §5): per iteration, check connection,
// read available bytes, write as much as the flow window allows, sweep
// reply timeouts, then sleep. Suspension only happens here; QueueFrame
// never blocks the caller.
func (h *FrameHandler) run(ctx context.Context) {
	defer close(h.doneCh)

	if err := h.handshake(ctx); err != nil {
		h.fail(err)
		return
	}

	br := bufio.NewReader(h.conn)
	now := time.Now()
	h.lastActivity = now
	h.lastWriteOrLineTest = now

	for {
		select {
		case <-h.stopCh:
			h.shutdownConn()
			return
		default:
		}

		if err := h.readAvailable(br); err != nil {
			h.fail(err)
			return
		}

		if err := h.writeBacklog(); err != nil {
			h.fail(err)
			return
		}

		h.sweepReplyTimeouts()

		if time.Since(h.lastActivity) > h.settings.ChannelActivityTimeout {
			h.fail(fmt.Errorf("transport: %w: no activity for %s", ErrChannelDead, h.settings.ChannelActivityTimeout))
			return
		}

		if !h.waitingAckSince.IsZero() && time.Since(h.waitingAckSince) > h.settings.AcknowledgeTimeout {
			h.fail(fmt.Errorf("transport: %w: ack timeout", ErrChannelDead))
			return
		}

		if time.Since(h.lastWriteOrLineTest) > h.settings.LineTestInterval {
			if err := h.sendLineTest(); err != nil {
				h.fail(err)
				return
			}
		}

		_ = h.limiter.Wait(ctx)
	}
}

// handshake performs the symmetric ConnOptions exchange that opens
// every connection (spec §4.1: "first message both sides send").
func (h *FrameHandler) handshake(ctx context.Context) error {
	opts := wire.ConnOptions{
		RecvBufferSize:  h.settings.RecommendedReceiveBufferSize,
		ProtocolVersion: h.settings.ProtocolVersion,
		TimestampUs:     time.Now().UnixMicro(),
	}
	if err := writeSegment(h.conn, wire.SegmentConnOptions, opts.Encode(h.order), h.order, false); err != nil {
		return fmt.Errorf("transport: send ConnOptions: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = h.conn.SetReadDeadline(deadline)
	defer func() { _ = h.conn.SetReadDeadline(time.Time{}) }()

	typeId, payload, err := readSegment(h.conn, h.order)
	if err != nil {
		return fmt.Errorf("transport: read ConnOptions: %w", err)
	}
	if typeId != wire.SegmentConnOptions {
		return fmt.Errorf("transport: expected ConnOptions, got segment type 0x%02x", typeId)
	}
	peer, err := wire.DecodeConnOptions(payload, h.order)
	if err != nil {
		return fmt.Errorf("transport: decode ConnOptions: %w", err)
	}
	if peer.ProtocolVersion != h.settings.ProtocolVersion {
		return fmt.Errorf("%w: local=%d peer=%d", ErrVersionMismatch, h.settings.ProtocolVersion, peer.ProtocolVersion)
	}

	local := h.settings.RecommendedReceiveBufferSize
	want := peer.RecvBufferSize
	if local < want {
		want = local
	}
	h.maxUnackedBytes = uint32(float64(want) * 0.8)

	h.mu.Lock()
	h.state = Connected
	notifier := h.channelNotifier
	h.mu.Unlock()
	if notifier != nil {
		notifier(true)
	}
	return nil
}

// readAvailable drains whatever is currently buffered/available on the
// socket without blocking the quantum for long, assembling complete
// frames per registered type and dispatching them.
func (h *FrameHandler) readAvailable(br *bufio.Reader) error {
	_ = h.conn.SetReadDeadline(time.Now().Add(readPollTimeout))
	for {
		if br.Buffered() == 0 {
			// Peek one byte to see if data is pending without a long block.
			if _, err := br.Peek(1); err != nil {
				if isTimeout(err) {
					return nil
				}
				if errors.Is(err, io.EOF) {
					return fmt.Errorf("%w: peer closed connection", ErrChannelDead)
				}
				return err
			}
		}
		typeId, payload, err := readSegmentBuffered(br, h.order)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return err
		}
		h.lastActivity = time.Now()
		if err := h.handleIncomingSegment(typeId, payload); err != nil {
			h.logger.Warn(context.Background(), "malformed segment dropped", "component", "transport", "error", err.Error())
		}
		if br.Buffered() == 0 {
			return nil
		}
	}
}

func (h *FrameHandler) handleIncomingSegment(typeId wire.SegmentType, payload []byte) error {
	switch typeId {
	case wire.SegmentAck:
		ack, err := wire.DecodeAck(payload, h.order)
		if err != nil {
			return fmt.Errorf("%w: ack: %v", ErrMalformedSegment, err)
		}
		h.onAckReceived(ack)
		return nil
	case wire.SegmentLineTest:
		return nil
	case wire.SegmentConnOptions:
		// A second ConnOptions after handshake is unexpected; ignore.
		return nil
	default:
		if typeId < wire.MinUserSegmentType {
			return fmt.Errorf("%w: type 0x%02x", ErrMalformedSegment, typeId)
		}
	}

	h.bytesReceivedSinceAck += uint32(len(payload)) + 5
	if h.bytesReceivedSinceAck >= h.settings.AcknowledgeMinimalReadSize {
		if err := h.sendAck(); err != nil {
			return err
		}
	}

	buf := append(h.assembly[typeId], payload...)
	for {
		if len(buf) < 4 {
			break
		}
		frameLen := h.order.Uint32(buf)
		if uint32(len(buf)) < frameLen {
			break
		}
		frameBody := buf[:frameLen]
		buf = buf[frameLen:]

		r := wire.NewReader(frameBody, h.order)
		hdr, err := wire.ReadHeader(r)
		if err != nil {
			return fmt.Errorf("%w: frame header: %v", ErrMalformedSegment, err)
		}
		rest, _ := r.Raw(r.Remaining())

		if hdr.IsReply() {
			h.resolveReply(hdr.ReplyToTransactionId, hdr, rest)
		}
		if reader, ok := h.readers[typeId]; ok {
			if err := reader.ProcessFrame(hdr, rest); err != nil {
				h.logger.Warn(context.Background(), "frame reader error", "component", "transport", "type", fmt.Sprintf("0x%02x", typeId), "error", err.Error())
			}
		} else if !hdr.IsReply() {
			h.logger.Warn(context.Background(), "no reader registered", "component", "transport", "type", fmt.Sprintf("0x%02x", typeId))
		}
	}
	h.assembly[typeId] = buf
	return nil
}

// writeBacklog drains the outbound queue subject to the flow-control
// window (spec §4.1: "writes are suspended when bytes_waiting_ack >=
// max_unacked_bytes").
func (h *FrameHandler) writeBacklog() error {
	h.mu.Lock()
	queue := h.outQueue
	h.outQueue = nil
	h.mu.Unlock()

	for i, seg := range queue {
		if h.bytesWaitingAck >= h.maxUnackedBytes {
			h.mu.Lock()
			h.outQueue = append(queue[i:], h.outQueue...)
			h.mu.Unlock()
			return nil
		}
		if err := h.writeSegmented(seg.typeId, seg.body); err != nil {
			return err
		}
	}
	return nil
}

// writeSegmented splits a full encoded frame into SegmentSize chunks,
// each wrapped as its own segment of the given type (spec §4.1:
// "accumulated across consecutive user-type segments of the same type_id").
func (h *FrameHandler) writeSegmented(typeId wire.SegmentType, body []byte) error {
	max := int(h.settings.SegmentSize)
	if max <= 0 {
		max = len(body)
	}
	for off := 0; off < len(body); off += max {
		end := off + max
		if end > len(body) {
			end = len(body)
		}
		chunk := body[off:end]
		if err := writeSegment(h.conn, typeId, chunk, h.order, true); err != nil {
			return err
		}
		h.bytesWaitingAck += uint32(len(chunk)) + 5
	}
	if h.bytesWaitingAck > 0 && h.waitingAckSince.IsZero() {
		h.waitingAckSince = time.Now()
	}
	h.lastWriteOrLineTest = time.Now()
	return nil
}

func (h *FrameHandler) sendAck() error {
	ack := wire.Ack{CumulativeBytesReceived: h.bytesReceivedSinceAck}
	if err := writeSegment(h.conn, wire.SegmentAck, ack.Encode(h.order), h.order, false); err != nil {
		return err
	}
	h.bytesReceivedSinceAck = 0
	return nil
}

func (h *FrameHandler) sendLineTest() error {
	if err := writeSegment(h.conn, wire.SegmentLineTest, nil, h.order, false); err != nil {
		return err
	}
	h.lastWriteOrLineTest = time.Now()
	return nil
}

func (h *FrameHandler) onAckReceived(ack wire.Ack) {
	if ack.CumulativeBytesReceived >= h.bytesWaitingAck {
		h.bytesWaitingAck = 0
	} else {
		h.bytesWaitingAck -= ack.CumulativeBytesReceived
	}
	if h.bytesWaitingAck == 0 {
		h.waitingAckSince = time.Time{}
	}
}

// shutdownConn closes the socket and resolves every outstanding reply
// notifier with Error (spec §4.1: "on disconnect all pending callbacks
// fire with Error").
func (h *FrameHandler) shutdownConn() {
	_ = h.conn.Close()
	h.mu.Lock()
	h.state = Failed
	notifier := h.channelNotifier
	h.mu.Unlock()
	h.failAllNotifiers()
	if notifier != nil {
		notifier(false)
	}
}

func (h *FrameHandler) fail(err error) {
	h.logger.Error(context.Background(), "handler failed", "component", "transport", "error", err.Error())
	_ = h.conn.Close()
	h.mu.Lock()
	h.state = Failed
	notifier := h.channelNotifier
	h.mu.Unlock()
	h.failAllNotifiers()
	if notifier != nil {
		notifier(false)
	}
}

func writeSegment(w io.Writer, typeId wire.SegmentType, payload []byte, order wire.ByteOrder, lengthPrefixed bool) error {
	out := wire.NewWriter(order)
	out.U8(uint8(typeId))
	if lengthPrefixed || typeId >= wire.MinUserSegmentType {
		out.U32(uint32(len(payload)))
	}
	out.Raw(payload)
	_, err := w.Write(out.Bytes())
	return err
}

func readSegment(r io.Reader, order wire.ByteOrder) (wire.SegmentType, []byte, error) {
	return readSegmentBuffered(bufio.NewReader(r), order)
}

func readSegmentBuffered(br *bufio.Reader, order wire.ByteOrder) (wire.SegmentType, []byte, error) {
	typeByte, err := br.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	typeId := wire.SegmentType(typeByte)

	switch typeId {
	case wire.SegmentLineTest:
		return typeId, nil, nil
	case wire.SegmentAck:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(br, buf); err != nil {
			return 0, nil, err
		}
		return typeId, buf, nil
	case wire.SegmentConnOptions:
		buf := make([]byte, 4+4+8)
		if _, err := io.ReadFull(br, buf); err != nil {
			return 0, nil, err
		}
		return typeId, buf, nil
	default:
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			return 0, nil, err
		}
		n := order.Uint32(lenBuf)
		payload := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(br, payload); err != nil {
				return 0, nil, err
			}
		}
		return typeId, payload, nil
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
