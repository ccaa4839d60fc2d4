// Package coordinatorclient implements the tool-client and tool-server
// side of the coordinator protocol (spec §4.2 "Client side"): connect
// to one or many coordinator hosts in parallel, subscribe to
// ListResponse, merge into a local CoordinatorInfo, and invoke the
// caller's callback with the full fleet view.
package coordinatorclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// RedundancyPolicy governs how multiple coordinator connections are reconciled.
type RedundancyPolicy int

const (
	// Any means the first coordinator to deliver a usable snapshot wins;
	// the remaining connections are stopped (spec §4.2, default).
	Any RedundancyPolicy = iota
	// All means every coordinator's snapshot is merged continuously.
	All
)

// InfoArrivedCallback is invoked with the full merged fleet view
// whenever it changes.
type InfoArrivedCallback func(model.CoordinatorInfo)

// Client subscribes to one or more coordinators and maintains a merged
// CoordinatorInfo.
type Client struct {
	settings transport.Settings
	logger   telemetry.Logger
	policy   RedundancyPolicy

	mu       sync.Mutex
	info     model.CoordinatorInfo
	handlers []*transport.FrameHandler
	winner   *transport.FrameHandler

	onInfoArrived InfoArrivedCallback
}

// Option configures a Client.
type Option func(*Client)

// WithLogger injects a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRedundancyPolicy overrides the default Any policy.
func WithRedundancyPolicy(p RedundancyPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithSettings overrides the transport.Settings used for each connection.
func WithSettings(s transport.Settings) Option {
	return func(c *Client) { c.settings = s }
}

// New creates a coordinator Client. onInfoArrived is called (possibly
// from multiple goroutines, serialized internally) every time the
// merged fleet view changes.
func New(onInfoArrived InfoArrivedCallback, opts ...Option) *Client {
	c := &Client{
		settings:      transport.DefaultSettings(),
		logger:        telemetry.NewNoopLogger(),
		policy:        Any,
		onInfoArrived: onInfoArrived,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials every host:port pair in parallel and subscribes each
// to ListResponse frames.
func (c *Client) Connect(ctx context.Context, hosts []string, port uint16) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(hosts))
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			if err := c.connectOne(ctx, host, port); err != nil {
				c.logger.Warn(ctx, "coordinator connect failed", "component", "coordinatorclient", "host", host, "error", err.Error())
				errCh <- err
			}
		}(host)
	}
	wg.Wait()
	close(errCh)

	failures := 0
	for range errCh {
		failures++
	}
	if failures == len(hosts) && len(hosts) > 0 {
		return fmt.Errorf("coordinatorclient: failed to connect to any of %d coordinator(s)", len(hosts))
	}
	return nil
}

func (c *Client) connectOne(ctx context.Context, host string, port uint16) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	h := transport.NewHandler(conn, c.settings, transport.WithLogger(c.logger))
	_ = h.RegisterReader(transport.FrameReaderFunc{
		TypeId: wire.FrameListResponse,
		Process: func(hdr wire.Header, body []byte) error {
			lr, err := wire.DecodeListResponse(body, wire.DefaultByteOrder)
			if err != nil {
				return fmt.Errorf("decode ListResponse: %w", err)
			}
			c.onSnapshot(h, lr)
			return nil
		},
	})

	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()

	h.Start(ctx)
	return nil
}

func (c *Client) onSnapshot(source *transport.FrameHandler, lr wire.ListResponse) {
	c.mu.Lock()
	if c.policy == Any && c.winner != nil && c.winner != source {
		c.mu.Unlock()
		return
	}
	changed := c.info.Update(lr.ToolServers)
	if c.policy == Any && c.winner == nil && len(lr.ToolServers) > 0 {
		c.winner = source
		for _, h := range c.handlers {
			if h != source {
				h.Stop(false)
			}
		}
	}
	snapshot := c.info
	cb := c.onInfoArrived
	c.mu.Unlock()

	if len(changed) > 0 && cb != nil {
		cb(snapshot)
	}
}

// Info returns the current merged fleet view.
func (c *Client) Info() model.CoordinatorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Stop disconnects every coordinator connection.
func (c *Client) Stop() {
	c.mu.Lock()
	handlers := c.handlers
	c.handlers = nil
	c.mu.Unlock()
	for _, h := range handlers {
		h.Stop(false)
	}
}
