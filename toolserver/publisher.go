package toolserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// publisher maintains one connection per configured coordinator and
// periodically (and on every status change) sends this server's
// current ToolServerInfo as a FrameToolServerStatus, fire-and-forget
// (spec §4.2: "tool servers push status, they never wait for a
// reply"). Grounded on RemoteToolServer's m_impl->m_coordinator usage
// and the original's sendInfoIntervalMS config key.
type publisher struct {
	cfg Config

	mu       sync.Mutex
	handlers []*transport.FrameHandler

	stopCh chan struct{}
	doneCh chan struct{}
}

func newPublisher(cfg Config) *publisher {
	return &publisher{cfg: cfg, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// connect dials every configured coordinator host in parallel. A
// connection failure is logged and skipped rather than fatal: the
// server still serves local tasks even if unreachable by any
// coordinator, matching the original's fire-and-forget publish model.
func (p *publisher) connect(ctx context.Context) error {
	if len(p.cfg.CoordinatorHosts) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	failures := make(chan struct{}, len(p.cfg.CoordinatorHosts))
	for _, host := range p.cfg.CoordinatorHosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", host, p.cfg.CoordinatorPort)
			conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
			if err != nil {
				p.cfg.Logger.Warn(ctx, "coordinator dial failed", "component", "toolserver", "addr", addr, "error", err.Error())
				failures <- struct{}{}
				return
			}
			h := transport.NewHandler(conn, p.cfg.Settings, transport.WithLogger(p.cfg.Logger))
			h.Start(ctx)
			p.mu.Lock()
			p.handlers = append(p.handlers, h)
			p.mu.Unlock()
		}(host)
	}
	wg.Wait()
	close(failures)
	count := 0
	for range failures {
		count++
	}
	if count == len(p.cfg.CoordinatorHosts) {
		return fmt.Errorf("toolserver: failed to connect to any of %d coordinator(s)", len(p.cfg.CoordinatorHosts))
	}
	return nil
}

// publish sends info to every connected coordinator. No reply is
// expected or awaited.
func (p *publisher) publish(info model.ToolServerInfo) {
	msg := wire.ToolServerStatus{Info: info}
	encoded := msg.Encode(wire.DefaultByteOrder)
	p.mu.Lock()
	handlers := p.handlers
	p.mu.Unlock()
	for _, h := range handlers {
		_, _ = h.QueueFrame(wire.FrameToolServerStatus, encoded, nil, 0)
	}
}

// loop periodically republishes getInfo() (spec §6 sendInfoIntervalMS),
// so coordinators observe liveness even when nothing changed.
func (p *publisher) loop(ctx context.Context, getInfo func() model.ToolServerInfo) {
	defer close(p.doneCh)
	interval := p.cfg.SendInfoInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publish(getInfo())
		}
	}
}

func (p *publisher) stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
	p.mu.Lock()
	handlers := p.handlers
	p.handlers = nil
	p.mu.Unlock()
	for _, h := range handlers {
		h.Stop(false)
	}
}
