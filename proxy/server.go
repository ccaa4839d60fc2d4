package proxy

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/wuild-project/wuild/executor"
	"github.com/wuild-project/wuild/runtime/invocation"
	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/toolclient"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// ToolBinding names one locally configured compiler the proxy can
// preprocess and, failing remote capacity, compile for.
type ToolBinding struct {
	ToolId         string
	ExecutablePath string
}

// Server is the tool proxy daemon described in spec §4.5/§2: it
// accepts raw local invocations from proxy clients, classifies and
// splits them, and submits the compile step either to rcClient (a
// remote tool client) or to its own local executor when no remote
// thread is free. Grounded in ToolProxyServer.{h,cpp}.
type Server struct {
	cfg      ServerConfig
	exec     *executor.Executor
	rcClient *toolclient.Client
	bindings map[string]string

	mu           sync.Mutex
	cwd          string
	runningJobs  int
	lastActivity time.Time

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Server. exec must not be started by the caller;
// Server.Start starts it. rcClient may be nil, in which case every
// compile runs locally (spec: "when request is done" never reaches a
// remote submission branch).
func New(cfg ServerConfig, bindings []ToolBinding, exec *executor.Executor, rcClient *toolclient.Client) *Server {
	bindingMap := make(map[string]string, len(bindings))
	for _, b := range bindings {
		bindingMap[b.ToolId] = b.ExecutablePath
	}
	return &Server{
		cfg:      cfg,
		exec:     exec,
		rcClient: rcClient,
		bindings: bindingMap,
		stopCh:   make(chan struct{}),
	}
}

// Start binds the listen address and begins accepting proxy-client
// connections. onInactive, if non-nil and cfg.InactiveTimeout > 0, is
// invoked once from the inactivity checker when no job has run or
// finished for cfg.InactiveTimeout (spec §6 inactiveTimeoutMS) — the
// caller is expected to treat this as a request to shut down.
func (s *Server) Start(ctx context.Context, onInactive func()) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if s.cfg.ThreadCount > 0 {
		s.exec.SetMaxProcesses(s.cfg.ThreadCount)
	}
	s.exec.Start(ctx)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	if s.cfg.InactiveTimeout > 0 {
		s.wg.Add(1)
		go s.inactivityLoop(onInactive)
	}
	return nil
}

// Stop halts the accept loop and the underlying executor.
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
	s.exec.Stop()
}

// Addr returns the bound listen address, valid after Start succeeds.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

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
			s.cfg.Logger.Warn(ctx, "accept failed", "component", "proxy", "error", err.Error())
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	h := transport.NewHandler(conn, s.cfg.Settings, transport.AsServer(), transport.WithLogger(s.cfg.Logger))
	_ = h.RegisterReader(transport.FrameReaderFunc{
		TypeId: wire.FrameToolProxyRequest,
		Process: func(hdr wire.Header, body []byte) error {
			return s.handleProxyRequest(ctx, h, hdr, body)
		},
	})
	h.Start(ctx)
}

// inactivityLoop mirrors ToolProxyServer::Start's m_inactiveChecker:
// every 100ms, if no job is running and none has finished within
// cfg.InactiveTimeout, fire onInactive once and stop checking.
func (s *Server) inactivityLoop(onInactive func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			idle := s.runningJobs == 0 && time.Since(s.lastActivity) > s.cfg.InactiveTimeout
			s.mu.Unlock()
			if idle {
				if onInactive != nil {
					onInactive()
				}
				return
			}
		}
	}
}

// bumpJobs adjusts the running-job counter and resets the inactivity
// clock, matching UpdateRunningJobs's "reset the timestamp on every
// transition, not just completions" behavior.
func (s *Server) bumpJobs(delta int) {
	s.mu.Lock()
	s.runningJobs += delta
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Server) handleProxyRequest(ctx context.Context, h *transport.FrameHandler, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeProxyRequest(body, wire.DefaultByteOrder)
	if err != nil {
		return fmt.Errorf("proxy: decode ProxyRequest: %w", err)
	}
	s.cfg.Logger.Debug(ctx, "proxy request received", "component", "proxy", "requestId", req.RequestId, "toolId", req.ToolId)

	// TODO: assumes the proxy server is used to build only one working
	// directory at once (original_source's documented limitation).
	s.mu.Lock()
	cwdChanged := s.cwd != req.Cwd
	s.cwd = req.Cwd
	s.mu.Unlock()
	if cwdChanged && req.Cwd != "" {
		if err := os.Chdir(req.Cwd); err != nil {
			s.cfg.Logger.Warn(ctx, "chdir failed", "component", "proxy", "cwd", req.Cwd, "error", err.Error())
		}
	}

	s.bumpJobs(+1)

	reply := func(res executor.Result) {
		s.bumpJobs(-1)
		resp := wire.ProxyResponse{Result: res.Success, Stdout: res.Stdout}
		if err := h.QueueReply(wire.FrameToolProxyResponse, resp.Encode(wire.DefaultByteOrder), hdr.TransactionId); err != nil {
			s.cfg.Logger.Warn(ctx, "proxy reply failed", "component", "proxy", "error", err.Error())
		}
	}

	executablePath, ok := s.bindings[req.ToolId]
	if !ok {
		reply(executor.Result{Success: false, Stdout: fmt.Sprintf("unknown tool id %q", req.ToolId)})
		return nil
	}

	id := model.ToolId{ToolId: req.ToolId, ExecutablePath: executablePath}
	original := invocation.ClassifyInvocation(id, req.Args)

	split := invocation.SplitInvocation(original, s.cfg.Lang)
	if !split.RemotePossible {
		s.exec.AddTask(ctx, &executor.Task{Invocation: original, Callback: reply})
		return nil
	}

	preTask := &executor.Task{
		Invocation: split.Preprocess,
		Callback: func(ppRes executor.Result) {
			if !ppRes.Success {
				reply(ppRes)
				return
			}
			s.dispatchCompile(ctx, split.Compile, reply)
		},
	}
	s.exec.AddTask(ctx, preTask)
	return nil
}

// dispatchCompile submits the compile step remotely when rcClient has
// a free thread, otherwise runs it through the local executor — the
// same fallback order as ToolProxyServer's taskPP callback.
func (s *Server) dispatchCompile(ctx context.Context, compile model.ToolCommandline, reply executor.Callback) {
	if s.rcClient != nil && s.rcClient.FreeRemoteThreads() > 0 {
		inputPath := compile.Input()
		data, err := os.ReadFile(inputPath)
		if err != nil {
			reply(executor.Result{Success: false, Stdout: err.Error()})
			return
		}
		resultCh := s.rcClient.InvokeTool(compile, data)
		go func() {
			res := <-resultCh
			_ = os.Remove(inputPath)
			reply(executor.Result{Success: res.Success, Stdout: res.Stdout})
		}()
		return
	}
	s.exec.AddTask(ctx, &executor.Task{Invocation: compile, Callback: reply})
}
