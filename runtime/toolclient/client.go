// Package toolclient implements the remote tool client (spec §4.4):
// dispatch preprocessed ToolCommandlines to the least-loaded
// compatible tool server and deliver results back to the build driver.
package toolclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuild-project/wuild/runtime/balancer"
	"github.com/wuild-project/wuild/runtime/diskio"
	"github.com/wuild-project/wuild/runtime/invocation"
	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// Result is delivered on the channel InvokeTool returns.
type Result struct {
	Success       bool
	Message       string
	OutputPath    string
	Stdout        string
	ExecutionTime time.Duration
}

// Callback is invoked exactly once per InvokeTool call (spec §4.4).
type Callback func(Result)

// task is one queued remote invocation.
type task struct {
	commandline  model.ToolCommandline
	fileData     []byte
	outputPath   string
	callback     Callback
	deadline     time.Time
	attemptsLeft int
	inFlight     bool
}

// serverConn tracks the dialed connection to one tool server known to
// the balancer, keyed by balancer index.
type serverConn struct {
	handler    *transport.FrameHandler
	serverInfo model.ToolServerInfo
}

// Client is the remote tool client described in spec §4.4.
type Client struct {
	cfg          Config
	balancer     *balancer.Balancer
	versions     invocation.VersionMap
	sessionId    int64
	coordinators []*transport.FrameHandler

	mu      sync.Mutex
	conns   map[int]*serverConn
	queue   []*task
	session model.ToolServerSessionInfo

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Client bound to requiredToolIds and the
// already-detected local VersionMap (spec §4.4's "VersionMap:
// tool_id -> version" computed at startup).
func New(cfg Config, requiredToolIds []string, versions invocation.VersionMap) *Client {
	sessionId := time.Now().UnixNano()
	c := &Client{
		cfg:      cfg,
		balancer: balancer.New(sessionId, requiredToolIds),
		versions: versions,
		sessionId: sessionId,
		conns:    make(map[int]*serverConn),
		session:  model.ToolServerSessionInfo{ClientId: cfg.ClientId, SessionId: sessionId},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	return c
}

// Start begins the worker loop. ctx bounds the lifetime of dialed
// server connections.
func (c *Client) Start(ctx context.Context) {
	go c.workerLoop(ctx)
}

// Stop halts the worker loop and every dialed server connection.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh

	c.mu.Lock()
	conns := c.conns
	c.conns = nil
	coords := c.coordinators
	c.mu.Unlock()
	for _, sc := range conns {
		sc.handler.Stop(false)
	}
	for _, h := range coords {
		h.Stop(false)
	}
}

// OnFleetUpdate is the InfoArrivedCallback to wire into a
// coordinatorclient.Client: it merges the fleet view into the balancer
// and dials any server not yet connected.
func (c *Client) OnFleetUpdate(ctx context.Context, info model.CoordinatorInfo) {
	for _, s := range info.ToolServers {
		status, idx := c.balancer.UpdateClient(s)
		if status == balancer.Skipped {
			continue
		}
		c.mu.Lock()
		_, known := c.conns[idx]
		c.mu.Unlock()
		if !known {
			go c.connectAndProbe(ctx, idx, s)
		}
	}
}

// RegisterCoordinator records a coordinator connection so
// finish_session can broadcast to it.
func (c *Client) RegisterCoordinator(h *transport.FrameHandler) {
	c.mu.Lock()
	c.coordinators = append(c.coordinators, h)
	c.mu.Unlock()
}

func (c *Client) connectAndProbe(ctx context.Context, idx int, s model.ToolServerInfo) {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		c.cfg.Logger.Warn(ctx, "dial tool server failed", "component", "toolclient", "server_id", s.ServerId, "error", err.Error())
		c.balancer.SetClientActive(idx, false)
		return
	}
	h := transport.NewHandler(conn, c.cfg.Settings, transport.WithLogger(c.cfg.Logger))
	h.SetChannelNotifier(func(connected bool) {
		c.balancer.SetClientActive(idx, connected)
	})

	c.mu.Lock()
	c.conns[idx] = &serverConn{handler: h, serverInfo: s}
	c.mu.Unlock()

	h.Start(ctx)

	_, _ = h.QueueFrame(wire.FrameVersionProbe, wire.VersionProbeRequest{}.Encode(wire.DefaultByteOrder),
		func(state transport.ReplyState, hdr wire.Header, body []byte, err error) {
			if state != transport.ReplySuccess {
				c.balancer.SetClientCompatible(idx, false)
				return
			}
			resp, decErr := wire.DecodeVersionProbeResponse(body, wire.DefaultByteOrder)
			if decErr != nil {
				c.balancer.SetClientCompatible(idx, false)
				return
			}
			c.balancer.SetClientCompatible(idx, c.versionsCompatible(resp.Versions))
		}, 10*time.Second)
}

func (c *Client) versionsCompatible(serverVersions map[string]string) bool {
	for toolId, clientVersion := range c.versions {
		serverVersion, ok := serverVersions[toolId]
		if !ok {
			continue
		}
		if !invocation.Matches(clientVersion, serverVersion) {
			return false
		}
	}
	return true
}

// InvokeTool enqueues commandline for remote execution (spec §4.4):
// reads fileData once here (the already-preprocessed source), wraps it
// with deadline = now + queue_timeout and attempts = invocation_attempts.
func (c *Client) InvokeTool(commandline model.ToolCommandline, fileData []byte) <-chan Result {
	resultCh := make(chan Result, 1)
	t := &task{
		commandline:  commandline,
		outputPath:   commandline.Output(),
		callback:     func(r Result) { resultCh <- r },
		deadline:     time.Now().Add(c.cfg.QueueTimeout),
		attemptsLeft: c.cfg.InvocationAttempts,
	}
	c.mu.Lock()
	t.fileData = fileData
	c.queue = append(c.queue, t)
	c.mu.Unlock()
	return resultCh
}

func (c *Client) workerLoop(ctx context.Context) {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.WorkerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Client) tick(ctx context.Context) {
	c.mu.Lock()
	now := time.Now()
	remaining := c.queue[:0]
	var head *task
	for _, t := range c.queue {
		if t.inFlight {
			remaining = append(remaining, t)
			continue
		}
		if now.After(t.deadline) {
			cb := t.callback
			c.mu.Unlock()
			cb(Result{Success: false, Stdout: "Timeout expired."})
			c.mu.Lock()
			continue
		}
		if head == nil {
			head = t
			remaining = append(remaining, t)
			continue
		}
		remaining = append(remaining, t)
	}
	c.queue = remaining
	c.mu.Unlock()

	if head == nil {
		return
	}
	c.dispatch(ctx, head)
}

func (c *Client) dispatch(ctx context.Context, t *task) {
	toolId := t.commandline.Id.ToolId
	idx, ok := c.balancer.FindFreeClient(toolId)
	if !ok {
		return
	}
	c.mu.Lock()
	sc, ok := c.conns[idx]
	if ok {
		// A dispatched task leaves the queue; requeueOrFail puts it back
		// for a retry.
		for i, q := range c.queue {
			if q == t {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	t.inFlight = true
	c.balancer.StartTask(idx)

	req := wire.ToolRequest{
		ClientId:       c.cfg.ClientId,
		SessionId:      uint64(c.sessionId),
		FileData:       t.fileData,
		Args:           t.commandline.Args,
		InputArgIndex:  int64(t.commandline.InputArgIndex),
		OutputArgIndex: int64(t.commandline.OutputArgIndex),
		ToolId:         toolId,
	}
	_, err := sc.handler.QueueFrame(wire.FrameToolRequest, req.Encode(wire.DefaultByteOrder),
		func(state transport.ReplyState, hdr wire.Header, body []byte, err error) {
			c.balancer.FinishTask(idx)
			c.completeTask(ctx, t, idx, state, body, err)
		}, c.cfg.QueueTimeout)
	if err != nil {
		c.balancer.FinishTask(idx)
		t.inFlight = false
		c.requeueOrFail(t, err.Error())
	}
}

func (c *Client) completeTask(ctx context.Context, t *task, idx int, state transport.ReplyState, body []byte, err error) {
	t.inFlight = false

	if state != transport.ReplySuccess {
		msg := "transport error"
		if err != nil {
			msg = err.Error()
		}
		c.requeueOrFail(t, msg)
		return
	}

	resp, decErr := wire.DecodeToolResponse(body, wire.DefaultByteOrder)
	if decErr != nil {
		c.requeueOrFail(t, decErr.Error())
		return
	}

	c.mu.Lock()
	c.session.TasksCount++
	if !resp.Result {
		c.session.FailuresCount++
	}
	c.session.TotalExecutionTimeNs += resp.ExecutionTimeUs * 1000
	c.mu.Unlock()

	if !resp.Result {
		t.callback(Result{Success: false, Message: resp.Stdout, Stdout: resp.Stdout})
		return
	}

	if err := writeGzippedOutput(t.outputPath, resp.FileData, resp.Compression); err != nil {
		t.callback(Result{Success: false, Message: err.Error()})
		return
	}

	t.callback(Result{
		Success:       true,
		OutputPath:    t.outputPath,
		Stdout:        resp.Stdout,
		ExecutionTime: time.Duration(resp.ExecutionTimeUs) * time.Microsecond,
	})
}

// requeueOrFail re-enqueues t with attempts-1 on transport failure
// (spec §4.4), or fires the user callback with failure once exhausted.
func (c *Client) requeueOrFail(t *task, message string) {
	t.attemptsLeft--
	if t.attemptsLeft <= 0 {
		t.callback(Result{Success: false, Message: message})
		return
	}
	c.mu.Lock()
	c.queue = append(c.queue, t)
	c.mu.Unlock()
}

// FreeRemoteThreads returns the fleet-wide free-thread estimate across
// every active, compatible tool server (spec §4.4, grounded on the
// original's RemoteToolClient::GetFreeRemoteThreads — used by the tool
// proxy to decide whether to submit a split compile remotely or fall
// back to a local executor task).
func (c *Client) FreeRemoteThreads() int {
	return c.balancer.GetFreeThreads()
}

// FinishSession sends a final ToolServerSession with is_finished=true
// to every connected coordinator (spec §4.4).
func (c *Client) FinishSession() {
	c.mu.Lock()
	info := c.session
	coords := append([]*transport.FrameHandler(nil), c.coordinators...)
	c.mu.Unlock()

	msg := wire.ToolServerSession{IsFinished: true, Info: info}
	encoded := msg.Encode(wire.DefaultByteOrder)
	for _, h := range coords {
		_, _ = h.QueueFrame(wire.FrameToolServerSession, encoded, nil, 0)
	}
}

// NewRequestId returns a fresh unique identifier for diagnostics (e.g.
// proxy request correlation), grounded on the teacher's use of
// google/uuid for request-scoped ids.
func NewRequestId() string { return uuid.NewString() }

// writeGzippedOutput persists the server's returned object bytes to
// disk, decompressing as configured (SPEC_FULL.md §C: gzip file
// persistence matched to the response's compression descriptor).
func writeGzippedOutput(path string, data []byte, info model.CompressionInfo) error {
	raw, err := diskio.Decompress(data, info)
	if err != nil {
		return fmt.Errorf("toolclient: decompress output: %w", err)
	}
	return diskio.WriteAtomic(path, raw)
}
