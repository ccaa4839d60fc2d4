package wire

import "github.com/wuild-project/wuild/runtime/model"

// ListRequest (frame type 0x11 on the coordinator dialect) is empty.
type ListRequest struct{}

// Encode renders the (empty) ListRequest body.
func (ListRequest) Encode(ByteOrder) []byte { return nil }

// DecodeListRequest parses a ListRequest body (always succeeds; the
// body is empty by definition).
func DecodeListRequest([]byte, ByteOrder) (ListRequest, error) { return ListRequest{}, nil }

// ListResponse (frame type 0x12) carries the coordinator's fleet view.
type ListResponse struct {
	ToolServers []model.ToolServerInfo
}

// Encode renders the ListResponse body.
func (l ListResponse) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	w.U32(uint32(len(l.ToolServers)))
	for _, s := range l.ToolServers {
		encodeToolServerInfo(w, s)
	}
	return w.Bytes()
}

// DecodeListResponse parses a ListResponse body.
func DecodeListResponse(buf []byte, order ByteOrder) (ListResponse, error) {
	r := NewReader(buf, order)
	n, err := r.U32()
	if err != nil {
		return ListResponse{}, err
	}
	out := make([]model.ToolServerInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := decodeToolServerInfo(r)
		if err != nil {
			return ListResponse{}, err
		}
		out = append(out, s)
	}
	return ListResponse{ToolServers: out}, nil
}

// ToolServerStatus (frame type 0x13) is one ToolServerInfo published by
// a tool server to its coordinators.
type ToolServerStatus struct {
	Info model.ToolServerInfo
}

// Encode renders the ToolServerStatus body.
func (t ToolServerStatus) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	encodeToolServerInfo(w, t.Info)
	return w.Bytes()
}

// DecodeToolServerStatus parses a ToolServerStatus body.
func DecodeToolServerStatus(buf []byte, order ByteOrder) (ToolServerStatus, error) {
	r := NewReader(buf, order)
	info, err := decodeToolServerInfo(r)
	return ToolServerStatus{Info: info}, err
}

// ToolServerSession (frame type 0x14) reports per-session usage from a
// tool client to its coordinators, with a finished flag (spec §4.4:
// finish_session sends a final ToolServerSession with is_finished=true).
type ToolServerSession struct {
	IsFinished bool
	Info       model.ToolServerSessionInfo
}

// Encode renders the ToolServerSession body.
func (t ToolServerSession) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	w.Bool(t.IsFinished)
	w.PStr(t.Info.ClientId)
	w.I64(t.Info.SessionId)
	w.U32(t.Info.TasksCount)
	w.U32(t.Info.FailuresCount)
	w.I64(t.Info.TotalNetworkTimeNs)
	w.I64(t.Info.TotalExecutionTimeNs)
	w.I64(t.Info.ElapsedTimeNs)
	w.U32(t.Info.CurrentUsedThreads)
	w.U32(t.Info.MaxUsedThreads)
	return w.Bytes()
}

// DecodeToolServerSession parses a ToolServerSession body.
func DecodeToolServerSession(buf []byte, order ByteOrder) (ToolServerSession, error) {
	r := NewReader(buf, order)
	var t ToolServerSession
	var err error
	if t.IsFinished, err = r.Bool(); err != nil {
		return t, err
	}
	if t.Info.ClientId, err = r.PStr(); err != nil {
		return t, err
	}
	if t.Info.SessionId, err = r.I64(); err != nil {
		return t, err
	}
	if t.Info.TasksCount, err = r.U32(); err != nil {
		return t, err
	}
	if t.Info.FailuresCount, err = r.U32(); err != nil {
		return t, err
	}
	if t.Info.TotalNetworkTimeNs, err = r.I64(); err != nil {
		return t, err
	}
	if t.Info.TotalExecutionTimeNs, err = r.I64(); err != nil {
		return t, err
	}
	if t.Info.ElapsedTimeNs, err = r.I64(); err != nil {
		return t, err
	}
	if t.Info.CurrentUsedThreads, err = r.U32(); err != nil {
		return t, err
	}
	if t.Info.MaxUsedThreads, err = r.U32(); err != nil {
		return t, err
	}
	return t, nil
}

func encodeToolServerInfo(w *Writer, s model.ToolServerInfo) {
	w.PStr(s.ServerId)
	w.PStr(s.Host)
	w.U32(uint32(s.Port))
	w.PStrVec(s.ToolIds)
	w.U32(uint32(s.TotalThreads))
	w.U32(uint32(s.RunningTasks))
	w.U32(uint32(s.QueuedTasks))
	w.U32(uint32(len(s.ConnectedClients)))
	for _, c := range s.ConnectedClients {
		w.PStr(c.ClientId)
		w.I64(c.SessionId)
		w.U32(uint32(c.UsedThreads))
	}
}

func decodeToolServerInfo(r *Reader) (model.ToolServerInfo, error) {
	var s model.ToolServerInfo
	var err error
	if s.ServerId, err = r.PStr(); err != nil {
		return s, err
	}
	if s.Host, err = r.PStr(); err != nil {
		return s, err
	}
	port, err := r.U32()
	if err != nil {
		return s, err
	}
	s.Port = uint16(port)
	if s.ToolIds, err = r.PStrVec(); err != nil {
		return s, err
	}
	threads, err := r.U32()
	if err != nil {
		return s, err
	}
	s.TotalThreads = uint16(threads)
	running, err := r.U32()
	if err != nil {
		return s, err
	}
	s.RunningTasks = uint16(running)
	queued, err := r.U32()
	if err != nil {
		return s, err
	}
	s.QueuedTasks = uint16(queued)
	n, err := r.U32()
	if err != nil {
		return s, err
	}
	s.ConnectedClients = make([]model.ConnectedClientInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		var c model.ConnectedClientInfo
		if c.ClientId, err = r.PStr(); err != nil {
			return s, err
		}
		if c.SessionId, err = r.I64(); err != nil {
			return s, err
		}
		used, err := r.U32()
		if err != nil {
			return s, err
		}
		c.UsedThreads = uint16(used)
		s.ConnectedClients = append(s.ConnectedClients, c)
	}
	return s, nil
}
