package wire

import "github.com/wuild-project/wuild/runtime/model"

// ToolRequest is the client→server frame body (type 0x11), field order
// grounded in the original RemoteToolRequest::writeToStream: client_id,
// session_id, file_data, args, tool_id, compression.
//
// Unlike the original wire format, InputArgIndex/OutputArgIndex travel
// explicitly: the original's ToolInvocation re-derives them
// server-side by re-running its command-line parser over the received
// args (InvocationTool::CompleteInvocation), since its m_inputNameIndex/
// m_outputNameIndex fields aren't serialized. Go's ToolCommandline
// already carries those indices as first-class fields on the client,
// which already computed them in runtime/invocation.SplitInvocation,
// so sending them directly avoids a redundant general-purpose
// reparse on the server for the sole purpose of recovering them.
type ToolRequest struct {
	ClientId       string
	SessionId      uint64
	FileData       []byte
	Args           []string
	InputArgIndex  int64
	OutputArgIndex int64
	ToolId         string
	Compression    model.CompressionInfo
}

// Encode renders the ToolRequest body (without the frame Header; the
// transport layer prepends that separately so it can patch Length).
func (t ToolRequest) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	w.PStr(t.ClientId)
	w.U64(t.SessionId)
	w.Blob(t.FileData)
	w.PStrVec(t.Args)
	w.I64(t.InputArgIndex)
	w.I64(t.OutputArgIndex)
	w.PStr(t.ToolId)
	w.U32(uint32(t.Compression.Type))
	w.U32(uint32(t.Compression.Level))
	return w.Bytes()
}

// DecodeToolRequest parses a ToolRequest body.
func DecodeToolRequest(buf []byte, order ByteOrder) (ToolRequest, error) {
	r := NewReader(buf, order)
	var t ToolRequest
	var err error
	if t.ClientId, err = r.PStr(); err != nil {
		return t, err
	}
	if t.SessionId, err = r.U64(); err != nil {
		return t, err
	}
	if t.FileData, err = r.Blob(); err != nil {
		return t, err
	}
	if t.Args, err = r.PStrVec(); err != nil {
		return t, err
	}
	if t.InputArgIndex, err = r.I64(); err != nil {
		return t, err
	}
	if t.OutputArgIndex, err = r.I64(); err != nil {
		return t, err
	}
	if t.ToolId, err = r.PStr(); err != nil {
		return t, err
	}
	compType, err := r.U32()
	if err != nil {
		return t, err
	}
	compLevel, err := r.U32()
	if err != nil {
		return t, err
	}
	t.Compression = model.CompressionInfo{Type: model.CompressionType(compType), Level: int(compLevel)}
	return t, nil
}

// ToolResponse is the server→client frame body (type 0x12), field
// order grounded in RemoteToolResponse::writeToStream: result,
// file_data, stdout, execution_time, compression.
type ToolResponse struct {
	Result         bool
	FileData       []byte
	Stdout         string
	ExecutionTimeUs int64
	Compression    model.CompressionInfo
}

// Encode renders the ToolResponse body.
func (t ToolResponse) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	w.Bool(t.Result)
	w.Blob(t.FileData)
	w.PStr(t.Stdout)
	w.I64(t.ExecutionTimeUs)
	w.U32(uint32(t.Compression.Type))
	w.U32(uint32(t.Compression.Level))
	return w.Bytes()
}

// DecodeToolResponse parses a ToolResponse body.
func DecodeToolResponse(buf []byte, order ByteOrder) (ToolResponse, error) {
	r := NewReader(buf, order)
	var t ToolResponse
	var err error
	if t.Result, err = r.Bool(); err != nil {
		return t, err
	}
	if t.FileData, err = r.Blob(); err != nil {
		return t, err
	}
	if t.Stdout, err = r.PStr(); err != nil {
		return t, err
	}
	if t.ExecutionTimeUs, err = r.I64(); err != nil {
		return t, err
	}
	compType, err := r.U32()
	if err != nil {
		return t, err
	}
	compLevel, err := r.U32()
	if err != nil {
		return t, err
	}
	t.Compression = model.CompressionInfo{Type: model.CompressionType(compType), Level: int(compLevel)}
	return t, nil
}

// VersionProbeRequest (frame type 0x15) is empty; the client sends it
// once per fresh tool-server connection (spec §4.4 sentinel frame).
type VersionProbeRequest struct{}

// Encode renders the (empty) VersionProbeRequest body.
func (VersionProbeRequest) Encode(ByteOrder) []byte { return nil }

// DecodeVersionProbeRequest parses a VersionProbeRequest body.
func DecodeVersionProbeRequest([]byte, ByteOrder) (VersionProbeRequest, error) {
	return VersionProbeRequest{}, nil
}

// VersionProbeResponse (frame type 0x16) carries the server's
// tool_id -> version map for the client's compatibility check.
type VersionProbeResponse struct {
	Versions map[string]string
}

// Encode renders the VersionProbeResponse body as parallel id/version
// PStrVecs, keeping the wire format simple (no nested-message support
// in this codec).
func (v VersionProbeResponse) Encode(order ByteOrder) []byte {
	ids := make([]string, 0, len(v.Versions))
	versions := make([]string, 0, len(v.Versions))
	for id, ver := range v.Versions {
		ids = append(ids, id)
		versions = append(versions, ver)
	}
	w := NewWriter(order)
	w.PStrVec(ids)
	w.PStrVec(versions)
	return w.Bytes()
}

// DecodeVersionProbeResponse parses a VersionProbeResponse body.
func DecodeVersionProbeResponse(buf []byte, order ByteOrder) (VersionProbeResponse, error) {
	r := NewReader(buf, order)
	ids, err := r.PStrVec()
	if err != nil {
		return VersionProbeResponse{}, err
	}
	versions, err := r.PStrVec()
	if err != nil {
		return VersionProbeResponse{}, err
	}
	out := make(map[string]string, len(ids))
	for i := range ids {
		if i < len(versions) {
			out[ids[i]] = versions[i]
		}
	}
	return VersionProbeResponse{Versions: out}, nil
}
