package transport

import (
	"time"

	"github.com/wuild-project/wuild/runtime/wire"
)

// resolveReply fires the notifier for txnId with Success, if one is
// pending (spec §4.1: "each incoming frame with reply_to != MAX is
// matched; on match the callback is fired with Success"). An unknown
// transaction id is silently dropped, per spec's documented late-reply
// behavior.
func (h *FrameHandler) resolveReply(txnId uint64, hdr wire.Header, body []byte) {
	h.notifierMu.Lock()
	entry, ok := h.notifiers[txnId]
	if ok {
		delete(h.notifiers, txnId)
	}
	h.notifierMu.Unlock()
	if !ok {
		return
	}
	entry.callback(ReplySuccess, hdr, body, nil)
}

// sweepReplyTimeouts fires Timeout for every pending notifier whose
// deadline has passed (spec §4.1: "a periodic sweep invokes pending
// callbacks with Timeout once now > deadline"). Lock order is always
// outer mu -> notifierMu, never the reverse (spec §5).
func (h *FrameHandler) sweepReplyTimeouts() {
	now := time.Now()
	var expired []*notifierEntry

	h.notifierMu.Lock()
	for txnId, entry := range h.notifiers {
		if entry.noExpiry || entry.deadline.After(now) {
			continue
		}
		expired = append(expired, entry)
		delete(h.notifiers, txnId)
	}
	h.notifierMu.Unlock()

	for _, entry := range expired {
		entry.callback(ReplyTimeout, wire.Header{}, nil, nil)
	}
}

// failAllNotifiers resolves every outstanding reply callback with Error
// (spec §4.1: "on disconnect all pending callbacks fire with Error").
func (h *FrameHandler) failAllNotifiers() {
	h.notifierMu.Lock()
	pending := h.notifiers
	h.notifiers = make(map[uint64]*notifierEntry)
	h.notifierMu.Unlock()

	for _, entry := range pending {
		entry.callback(ReplyError, wire.Header{}, nil, ErrChannelDead)
	}
}
