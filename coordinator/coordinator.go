// Package coordinator implements the central tool-server registry
// (spec §4.2): accept TCP connections from tool servers and clients,
// merge ToolServerStatus updates by identity, and broadcast ListResponse
// snapshots whenever the fleet view changes.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// ownerId tags a registry entry with the connection that owns it,
// avoiding a raw back-pointer into the transport layer (SPEC_FULL.md §9
// redesign note: "tag each registry entry with an owner id assigned at
// handler creation... store the id in the registry, not a raw pointer").
type ownerId uint64

func serverKey(s model.ToolServerInfo) string {
	return fmt.Sprintf("%s|%s|%d", s.ServerId, s.Host, s.Port)
}

// Coordinator is the standalone registry service described in spec §4.2.
type Coordinator struct {
	cfg Config

	mu          sync.Mutex
	info        model.CoordinatorInfo
	ownerOf     map[string]ownerId // serverKey -> owning connection
	handlers    map[ownerId]*transport.FrameHandler
	nextOwnerId uint64

	cluster *clusterLink

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Coordinator from cfg. Call Start to begin accepting
// connections.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopMetrics()
	}
	c := &Coordinator{
		cfg:      cfg,
		ownerOf:  make(map[string]ownerId),
		handlers: make(map[ownerId]*transport.FrameHandler),
		stopCh:   make(chan struct{}),
	}
	if cfg.ClusterRedisAddr != "" {
		c.cluster = newClusterLink(cfg.ClusterRedisAddr, cfg.ClusterChannel, cfg.Logger)
	}
	return c
}

// Start binds the listen address and begins accepting connections in a
// background goroutine.
func (c *Coordinator) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("coordinator: listen %s: %w", c.cfg.ListenAddr, err)
	}
	c.listener = ln

	if c.cluster != nil {
		if err := c.cluster.start(ctx, c.onClusterSnapshot); err != nil {
			c.cfg.Logger.Warn(ctx, "cluster link failed to start", "component", "coordinator", "error", err.Error())
		}
	}

	c.wg.Add(1)
	go c.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and every accepted connection.
func (c *Coordinator) Stop() {
	select {
	case <-c.stopCh:
		return
	default:
		close(c.stopCh)
	}
	if c.listener != nil {
		_ = c.listener.Close()
	}
	c.mu.Lock()
	handlers := make([]*transport.FrameHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h.Stop(false)
	}
	if c.cluster != nil {
		c.cluster.stop()
	}
	c.wg.Wait()
}

// Info returns a snapshot of the current fleet view.
func (c *Coordinator) Info() model.CoordinatorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *Coordinator) acceptLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
				c.cfg.Logger.Warn(ctx, "accept failed", "component", "coordinator", "error", err.Error())
				return
			}
		}
		c.wg.Add(1)
		go c.handleConn(ctx, conn)
	}
}

func (c *Coordinator) handleConn(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()

	owner := ownerId(atomic.AddUint64(&c.nextOwnerId, 1))
	h := transport.NewHandler(conn, c.cfg.Settings, transport.WithLogger(c.cfg.Logger), transport.AsServer())

	c.mu.Lock()
	c.handlers[owner] = h
	c.mu.Unlock()

	h.SetChannelNotifier(func(connected bool) {
		if connected {
			c.sendSnapshot(h)
			return
		}
		c.evictOwner(ctx, owner)
	})

	_ = h.RegisterReader(transport.FrameReaderFunc{
		TypeId: wire.FrameToolServerStatus,
		Process: func(hdr wire.Header, body []byte) error {
			status, err := wire.DecodeToolServerStatus(body, wire.DefaultByteOrder)
			if err != nil {
				return fmt.Errorf("decode ToolServerStatus: %w", err)
			}
			c.onStatus(ctx, owner, status.Info, h)
			return nil
		},
	})
	_ = h.RegisterReader(transport.FrameReaderFunc{
		TypeId: wire.FrameToolServerSession,
		Process: func(hdr wire.Header, body []byte) error {
			session, err := wire.DecodeToolServerSession(body, wire.DefaultByteOrder)
			if err != nil {
				return fmt.Errorf("decode ToolServerSession: %w", err)
			}
			if c.cfg.Sessions != nil {
				c.cfg.Sessions(ctx, session.Info, session.IsFinished)
			}
			return nil
		},
	})
	_ = h.RegisterReader(transport.FrameReaderFunc{
		TypeId: wire.FrameListRequest,
		Process: func(hdr wire.Header, body []byte) error {
			lr := c.snapshot()
			return h.QueueReply(wire.FrameListResponse, lr.Encode(wire.DefaultByteOrder), hdr.TransactionId)
		},
	})

	h.Start(ctx)
	select {
	case <-ctx.Done():
	case <-c.stopCh:
	}
}

func (c *Coordinator) snapshot() wire.ListResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ToolServerInfo, len(c.info.ToolServers))
	copy(out, c.info.ToolServers)
	return wire.ListResponse{ToolServers: out}
}

func (c *Coordinator) sendSnapshot(h *transport.FrameHandler) {
	lr := c.snapshot()
	_, _ = h.QueueFrame(wire.FrameListResponse, lr.Encode(wire.DefaultByteOrder), nil, 0)
}

// onStatus merges an incoming ToolServerStatus by identity and, if the
// fleet view actually changed, broadcasts the new ListResponse to
// every connected handler except the sender (spec §4.2).
func (c *Coordinator) onStatus(ctx context.Context, owner ownerId, status model.ToolServerInfo, sender *transport.FrameHandler) {
	c.mu.Lock()
	changed := c.info.Update([]model.ToolServerInfo{status})
	if len(changed) > 0 {
		c.ownerOf[serverKey(status)] = owner
	}
	others := make([]*transport.FrameHandler, 0, len(c.handlers))
	for id, h := range c.handlers {
		if id != owner {
			others = append(others, h)
		}
	}
	lr := wire.ListResponse{ToolServers: append([]model.ToolServerInfo(nil), c.info.ToolServers...)}
	c.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	encoded := lr.Encode(wire.DefaultByteOrder)
	for _, h := range others {
		_, _ = h.QueueFrame(wire.FrameListResponse, encoded, nil, 0)
	}
	if c.cluster != nil {
		c.cluster.publish(ctx, lr)
	}
	_ = sender
}

// evictOwner removes every tool server entry owned by owner on
// disconnect, without an immediate broadcast — the next update from a
// surviving server carries the loss forward (spec §4.2).
func (c *Coordinator) evictOwner(ctx context.Context, owner ownerId) {
	c.mu.Lock()
	delete(c.handlers, owner)
	for key, o := range c.ownerOf {
		if o != owner {
			continue
		}
		delete(c.ownerOf, key)
		for _, s := range c.info.ToolServers {
			if serverKey(s) == key {
				c.info.Remove(s)
				break
			}
		}
	}
	c.mu.Unlock()
	c.cfg.Logger.Info(ctx, "connection evicted", "component", "coordinator", "owner", uint64(owner))
}

// onClusterSnapshot merges a fleet snapshot received from another
// coordinator in the cluster (SPEC_FULL.md §B.2) and rebroadcasts to
// local connections if it changes this coordinator's view.
func (c *Coordinator) onClusterSnapshot(lr wire.ListResponse) {
	c.mu.Lock()
	changed := c.info.Update(lr.ToolServers)
	others := make([]*transport.FrameHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		others = append(others, h)
	}
	full := wire.ListResponse{ToolServers: append([]model.ToolServerInfo(nil), c.info.ToolServers...)}
	c.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	encoded := full.Encode(wire.DefaultByteOrder)
	for _, h := range others {
		_, _ = h.QueueFrame(wire.FrameListResponse, encoded, nil, 0)
	}
}
