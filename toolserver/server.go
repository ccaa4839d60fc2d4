// Package toolserver implements the remote tool server (spec §4.4):
// accept ToolRequest frames, run them through a bounded-concurrency
// local executor, and publish this server's fleet-visible status to
// its configured coordinators. Grounded in
// original_source/Modules/RemoteTool/RemoteToolServer.{h,cpp}.
package toolserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/wuild-project/wuild/executor"
	"github.com/wuild-project/wuild/runtime/invocation"
	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// ToolBinding names one locally configured compiler the server can
// dispatch to: a logical tool id plus the executable path the
// executor invokes.
type ToolBinding struct {
	ToolId         string
	ExecutablePath string
}

// Server is the remote tool server described in spec §4.4.
type Server struct {
	cfg      Config
	exec     *executor.Executor
	bindings map[string]string
	versions invocation.VersionMap
	pub      *publisher

	mu        sync.Mutex
	info      model.ToolServerInfo
	sessionOf map[uint64]int64
	nextConn  uint64

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Server. exec must not be started by the caller;
// Server.Start starts it.
func New(cfg Config, bindings []ToolBinding, exec *executor.Executor, versions invocation.VersionMap) *Server {
	toolIds := make([]string, 0, len(bindings))
	bindingMap := make(map[string]string, len(bindings))
	for _, b := range bindings {
		toolIds = append(toolIds, b.ToolId)
		bindingMap[b.ToolId] = b.ExecutablePath
	}
	return &Server{
		cfg:      cfg,
		exec:     exec,
		bindings: bindingMap,
		versions: versions,
		pub:      newPublisher(cfg),
		info: model.ToolServerInfo{
			ServerId:     cfg.ServerId,
			TotalThreads: uint16(cfg.ThreadCount),
			ToolIds:      toolIds,
		},
		sessionOf: make(map[uint64]int64),
		stopCh:    make(chan struct{}),
	}
}

// Start binds the listen address, dials configured coordinators, and
// begins accepting tool-client connections.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("toolserver: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err == nil {
		if port, perr := strconv.Atoi(portStr); perr == nil {
			s.mu.Lock()
			s.info.Host = host
			s.info.Port = uint16(port)
			s.mu.Unlock()
		}
	}

	if err := s.pub.connect(ctx); err != nil {
		s.cfg.Logger.Warn(ctx, "coordinator connect failed", "component", "toolserver", "error", err.Error())
	}

	s.exec.Start(ctx)
	go s.pub.loop(ctx, s.Info)

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Stop halts the accept loop, every tool-server publisher connection,
// and the underlying executor.
func (s *Server) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	s.pub.stop()
	s.exec.Stop()
}

// Info returns the current fleet-visible ToolServerInfo.
func (s *Server) Info() model.ToolServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.RunningTasks = uint16(s.exec.RunningCount())
	s.info.QueuedTasks = uint16(s.exec.QueueSize())
	return s.info
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.cfg.Logger.Warn(ctx, "accept failed", "component", "toolserver", "error", err.Error())
			return
		}
		if !s.hostAllowed(conn.RemoteAddr()) {
			s.cfg.Logger.Warn(ctx, "rejected non-whitelisted host", "component", "toolserver", "remote_addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// hostAllowed enforces spec §6's hostsWhiteList at accept time; an
// empty list means unrestricted.
func (s *Server) hostAllowed(addr net.Addr) bool {
	if len(s.cfg.HostsWhiteList) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	for _, allowed := range s.cfg.HostsWhiteList {
		if allowed == host {
			return true
		}
	}
	return false
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	s.nextConn++
	connId := s.nextConn
	s.mu.Unlock()

	h := transport.NewHandler(conn, s.cfg.Settings, transport.AsServer(), transport.WithLogger(s.cfg.Logger))
	h.SetChannelNotifier(func(connected bool) {
		if !connected {
			s.finishConn(connId)
		}
	})

	_ = h.RegisterReader(transport.FrameReaderFunc{
		TypeId: wire.FrameVersionProbe,
		Process: func(hdr wire.Header, body []byte) error {
			resp := wire.VersionProbeResponse{Versions: s.versions}
			return h.QueueReply(wire.FrameVersionProbeResponse, resp.Encode(wire.DefaultByteOrder), hdr.TransactionId)
		},
	})
	_ = h.RegisterReader(transport.FrameReaderFunc{
		TypeId: wire.FrameToolRequest,
		Process: func(hdr wire.Header, body []byte) error {
			return s.handleToolRequest(ctx, h, connId, hdr, body)
		},
	})

	h.Start(ctx)
}

func (s *Server) handleToolRequest(ctx context.Context, h *transport.FrameHandler, connId uint64, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeToolRequest(body, wire.DefaultByteOrder)
	if err != nil {
		return fmt.Errorf("toolserver: decode ToolRequest: %w", err)
	}

	executablePath, ok := s.bindings[req.ToolId]
	if !ok {
		resp := wire.ToolResponse{Result: false, Stdout: fmt.Sprintf("unknown tool id %q", req.ToolId)}
		return h.QueueReply(wire.FrameToolResponse, resp.Encode(wire.DefaultByteOrder), hdr.TransactionId)
	}

	s.startTask(connId, req.ClientId, int64(req.SessionId))

	cmd := model.NewToolCommandline(model.ToolId{ToolId: req.ToolId, ExecutablePath: executablePath})
	cmd.Type = model.Compile
	cmd.Args = req.Args
	cmd.InputArgIndex = int(req.InputArgIndex)
	cmd.OutputArgIndex = int(req.OutputArgIndex)

	start := time.Now()
	task := &executor.Task{
		Invocation:        cmd,
		InputData:         req.FileData,
		CompressionInput:  req.Compression,
		CompressionOutput: req.Compression,
		WriteInput:        true,
		ReadOutput:        true,
		Callback: func(res executor.Result) {
			s.finishTask(connId, int64(req.SessionId))
			resp := wire.ToolResponse{
				Result:          res.Success,
				FileData:        res.OutputData,
				Stdout:          res.Stdout,
				ExecutionTimeUs: time.Since(start).Microseconds(),
				Compression:     req.Compression,
			}
			if err := h.QueueReply(wire.FrameToolResponse, resp.Encode(wire.DefaultByteOrder), hdr.TransactionId); err != nil {
				s.cfg.Logger.Warn(ctx, "reply failed", "component", "toolserver", "error", err.Error())
			}
		},
	}
	s.exec.AddTask(ctx, task)
	return nil
}

// startTask marks one used thread against sessionId's ConnectedClientInfo
// (creating it on first use) and republishes the server's status.
func (s *Server) startTask(connId uint64, clientId string, sessionId int64) {
	s.mu.Lock()
	s.sessionOf[connId] = sessionId
	client := s.clientInfo(sessionId)
	client.ClientId = clientId
	client.UsedThreads++
	s.setClientInfo(sessionId, client)
	info := s.snapshotLocked()
	s.mu.Unlock()
	s.pub.publish(info)
}

// finishTask decrements sessionId's used-thread count and republishes.
func (s *Server) finishTask(connId uint64, sessionId int64) {
	s.mu.Lock()
	client := s.clientInfo(sessionId)
	if client.UsedThreads > 0 {
		client.UsedThreads--
	}
	s.setClientInfo(sessionId, client)
	info := s.snapshotLocked()
	s.mu.Unlock()
	s.pub.publish(info)
}

// finishConn drops the ConnectedClientInfo entry for connId's session
// on disconnect and republishes (spec §9: the next update carries the
// loss, mirroring the coordinator's owner-id eviction).
func (s *Server) finishConn(connId uint64) {
	s.mu.Lock()
	sessionId, ok := s.sessionOf[connId]
	delete(s.sessionOf, connId)
	if ok {
		s.removeClientInfo(sessionId)
	}
	info := s.snapshotLocked()
	s.mu.Unlock()
	if ok {
		s.pub.publish(info)
	}
}

// clientInfo returns (by value) the ConnectedClientInfo entry for
// sessionId, or a zero-value one if absent. Callers must hold s.mu.
func (s *Server) clientInfo(sessionId int64) model.ConnectedClientInfo {
	for _, c := range s.info.ConnectedClients {
		if c.SessionId == sessionId {
			return c
		}
	}
	return model.ConnectedClientInfo{SessionId: sessionId}
}

// setClientInfo upserts client by SessionId. Callers must hold s.mu.
func (s *Server) setClientInfo(sessionId int64, client model.ConnectedClientInfo) {
	for i, c := range s.info.ConnectedClients {
		if c.SessionId == sessionId {
			s.info.ConnectedClients[i] = client
			return
		}
	}
	s.info.ConnectedClients = append(s.info.ConnectedClients, client)
}

// removeClientInfo drops sessionId's entry. Callers must hold s.mu.
func (s *Server) removeClientInfo(sessionId int64) {
	for i, c := range s.info.ConnectedClients {
		if c.SessionId == sessionId {
			s.info.ConnectedClients = append(s.info.ConnectedClients[:i], s.info.ConnectedClients[i+1:]...)
			return
		}
	}
}

// snapshotLocked returns the current info with live executor gauges
// filled in. Callers must hold s.mu.
func (s *Server) snapshotLocked() model.ToolServerInfo {
	info := s.info
	info.RunningTasks = uint16(s.exec.RunningCount())
	info.QueuedTasks = uint16(s.exec.QueueSize())
	info.ConnectedClients = append([]model.ConnectedClientInfo(nil), s.info.ConnectedClients...)
	return info
}
