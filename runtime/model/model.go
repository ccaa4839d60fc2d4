// Package model defines the shared data types passed between the
// coordinator, tool servers, and tool clients: fleet descriptions,
// compile invocations, and session accounting.
package model

import "fmt"

// ToolId names a configured compiler tool both by its logical id
// (e.g. "gcc9") and by the on-disk executable that backs it. Either
// field may be used to resolve the other.
type ToolId struct {
	ToolId         string
	ExecutablePath string
}

func (t ToolId) String() string {
	if t.ToolId != "" {
		return t.ToolId
	}
	return t.ExecutablePath
}

// CommandType distinguishes a split command-line's stage.
type CommandType int

const (
	// Unknown means the invocation could not be classified.
	Unknown CommandType = iota
	// Preprocess runs locally and produces the preprocessed source.
	Preprocess
	// Compile runs remotely against the preprocessed source.
	Compile
)

func (t CommandType) String() string {
	switch t {
	case Preprocess:
		return "preprocess"
	case Compile:
		return "compile"
	default:
		return "unknown"
	}
}

// UnsetArgIndex marks an arg_index field as unresolved.
const UnsetArgIndex = -1

// ToolCommandline is one half (or the whole, if Type is Unknown) of a
// compiler invocation: an ordered argument vector plus the positions
// of the source and object arguments, enabling in-place substitution
// when the invocation is rewritten for a remote run.
type ToolCommandline struct {
	Id              ToolId
	Type            CommandType
	Args            []string
	InputArgIndex   int
	OutputArgIndex  int
	IgnoredArgs     map[string]struct{}
}

// NewToolCommandline returns a ToolCommandline with unset arg indices.
func NewToolCommandline(id ToolId) ToolCommandline {
	return ToolCommandline{
		Id:             id,
		Type:           Unknown,
		InputArgIndex:  UnsetArgIndex,
		OutputArgIndex: UnsetArgIndex,
		IgnoredArgs:    make(map[string]struct{}),
	}
}

// Input returns the source path referenced by InputArgIndex, or "" if unset.
func (c ToolCommandline) Input() string {
	if c.InputArgIndex < 0 || c.InputArgIndex >= len(c.Args) {
		return ""
	}
	return c.Args[c.InputArgIndex]
}

// Output returns the object path referenced by OutputArgIndex, or "" if unset.
func (c ToolCommandline) Output() string {
	if c.OutputArgIndex < 0 || c.OutputArgIndex >= len(c.Args) {
		return ""
	}
	return c.Args[c.OutputArgIndex]
}

// SetInput rewrites the argument at InputArgIndex in place.
func (c *ToolCommandline) SetInput(path string) {
	if c.InputArgIndex >= 0 && c.InputArgIndex < len(c.Args) {
		c.Args[c.InputArgIndex] = path
	}
}

// SetOutput rewrites the argument at OutputArgIndex in place.
func (c *ToolCommandline) SetOutput(path string) {
	if c.OutputArgIndex >= 0 && c.OutputArgIndex < len(c.Args) {
		c.Args[c.OutputArgIndex] = path
	}
}

// ArgsString renders the argument vector for logging, honoring
// IgnoredArgs when includeIgnored is false.
func (c ToolCommandline) ArgsString(includeIgnored bool) string {
	out := ""
	for _, a := range c.Args {
		if !includeIgnored {
			if _, skip := c.IgnoredArgs[a]; skip {
				continue
			}
		}
		out += a + " "
	}
	return out
}

// CompressionType identifies the codec used for a frame's blob payload.
type CompressionType uint32

const (
	// CompressionNone transmits the blob verbatim.
	CompressionNone CompressionType = iota
	// CompressionGzip transmits the blob gzip-compressed.
	CompressionGzip
)

// CompressionInfo travels with every blob-carrying frame so the peer
// knows how to decode it, regardless of what the sender negotiated
// locally (spec §9: "Compression as a configurable capability").
type CompressionInfo struct {
	Type  CompressionType
	Level int
}

// ConnectedClientInfo describes one client's usage of a tool server,
// as published by the server in its ToolServerInfo.
type ConnectedClientInfo struct {
	ClientId    string
	SessionId   int64
	UsedThreads uint16
}

func (c ConnectedClientInfo) Equal(o ConnectedClientInfo) bool {
	return c.ClientId == o.ClientId && c.SessionId == o.SessionId && c.UsedThreads == o.UsedThreads
}

// ToolServerInfo is the fleet-visible state of one tool server, as
// published periodically to every configured coordinator.
type ToolServerInfo struct {
	ServerId         string
	Host             string
	Port             uint16
	ToolIds          []string
	TotalThreads     uint16
	RunningTasks     uint16
	QueuedTasks      uint16
	ConnectedClients []ConnectedClientInfo
}

// EqualId reports whether two infos refer to the same physical server:
// identity is (server_id, host, port), not full content equality.
func (s ToolServerInfo) EqualId(o ToolServerInfo) bool {
	return s.ServerId == o.ServerId && s.Host == o.Host && s.Port == o.Port
}

// Equal reports full content equality, used to decide whether a
// republished ToolServerInfo actually changed.
func (s ToolServerInfo) Equal(o ToolServerInfo) bool {
	if !s.EqualId(o) || s.TotalThreads != o.TotalThreads ||
		s.RunningTasks != o.RunningTasks || s.QueuedTasks != o.QueuedTasks ||
		len(s.ToolIds) != len(o.ToolIds) || len(s.ConnectedClients) != len(o.ConnectedClients) {
		return false
	}
	for i := range s.ToolIds {
		if s.ToolIds[i] != o.ToolIds[i] {
			return false
		}
	}
	for i := range s.ConnectedClients {
		if !s.ConnectedClients[i].Equal(o.ConnectedClients[i]) {
			return false
		}
	}
	return true
}

// HasTool reports whether the server advertises toolId.
func (s ToolServerInfo) HasTool(toolId string) bool {
	for _, t := range s.ToolIds {
		if t == toolId {
			return true
		}
	}
	return false
}

func (s ToolServerInfo) String() string {
	return fmt.Sprintf("%s:%d (%s), threads: %d", s.Host, s.Port, s.ServerId, s.TotalThreads)
}

// ToolServerSessionInfo accumulates per-session usage counters for one
// build's use of one tool server (or, client-side, the client's whole
// build session across every server it used).
type ToolServerSessionInfo struct {
	ClientId           string
	SessionId          int64
	TasksCount         uint32
	FailuresCount      uint32
	TotalNetworkTimeNs int64
	TotalExecutionTimeNs int64
	ElapsedTimeNs      int64
	CurrentUsedThreads uint32
	MaxUsedThreads     uint32
}

// String renders a short human-readable summary for driver diagnostics,
// mirroring the original implementation's GetSessionInformation output.
func (s ToolServerSessionInfo) String() string {
	avgNetwork, avgExec := int64(0), int64(0)
	if s.TasksCount > 0 {
		avgNetwork = s.TotalNetworkTimeNs / int64(s.TasksCount)
		avgExec = s.TotalExecutionTimeNs / int64(s.TasksCount)
	}
	return fmt.Sprintf(
		"sid=%d, client=%s, tasks=%d (err:%d), avg network=%dus, avg execution=%dus",
		s.SessionId, s.ClientId, s.TasksCount, s.FailuresCount, avgNetwork/1000, avgExec/1000,
	)
}

// CoordinatorInfo is the coordinator's whole fleet view, as broadcast
// to every connected client and tool server.
type CoordinatorInfo struct {
	ToolServers []ToolServerInfo
}

// Update merges newServers into the view by (server_id, host, port)
// identity and returns the subset of entries whose content actually
// changed (new entries count as changed). The merge is idempotent:
// calling Update repeatedly with the same input never reports further
// changes. Entries with an empty Host are ignored, mirroring the
// original implementation's defensive skip of partially-built infos.
func (c *CoordinatorInfo) Update(newServers []ToolServerInfo) []ToolServerInfo {
	var changed []ToolServerInfo
	for _, n := range newServers {
		if n.Host == "" {
			continue
		}
		found := false
		for i, existing := range c.ToolServers {
			if existing.EqualId(n) {
				if !existing.Equal(n) {
					c.ToolServers[i] = n
					changed = append(changed, n)
				}
				found = true
				break
			}
		}
		if !found {
			c.ToolServers = append(c.ToolServers, n)
			changed = append(changed, n)
		}
	}
	return changed
}

// Remove drops the tool server identified by id/host/port, if present.
func (c *CoordinatorInfo) Remove(id ToolServerInfo) bool {
	for i, existing := range c.ToolServers {
		if existing.EqualId(id) {
			c.ToolServers = append(c.ToolServers[:i], c.ToolServers[i+1:]...)
			return true
		}
	}
	return false
}
