package coordinator

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/wire"
)

// clusterLink fans a coordinator's full fleet snapshot out to (and pulls
// sibling snapshots in from) other coordinators over a shared Redis
// pub/sub channel.
// This is the SPEC_FULL.md §B.2 supplement for running a coordinator
// fleet behind a single logical address; the original project only
// ever ran one coordinator per cell.
type clusterLink struct {
	addr    string
	channel string
	logger  telemetry.Logger

	client *redis.Client
	sub    *redis.PubSub

	mu      sync.Mutex
	stopped bool
	doneCh  chan struct{}
}

func newClusterLink(addr, channel string, logger telemetry.Logger) *clusterLink {
	return &clusterLink{
		addr:    addr,
		channel: channel,
		logger:  logger,
		doneCh:  make(chan struct{}),
	}
}

func (c *clusterLink) start(ctx context.Context, onSnapshot func(wire.ListResponse)) error {
	c.client = redis.NewClient(&redis.Options{Addr: c.addr})
	c.sub = c.client.Subscribe(ctx, c.channel)
	if _, err := c.sub.Receive(ctx); err != nil {
		return err
	}

	go func() {
		defer close(c.doneCh)
		ch := c.sub.Channel()
		for msg := range ch {
			lr, err := wire.DecodeListResponse([]byte(msg.Payload), wire.DefaultByteOrder)
			if err != nil {
				c.logger.Warn(ctx, "dropped malformed cluster snapshot", "component", "coordinator.cluster", "error", err.Error())
				continue
			}
			onSnapshot(lr)
		}
	}()
	return nil
}

func (c *clusterLink) publish(ctx context.Context, lr wire.ListResponse) {
	if c.client == nil {
		return
	}
	payload := lr.Encode(wire.DefaultByteOrder)
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		c.logger.Warn(ctx, "cluster publish failed", "component", "coordinator.cluster", "error", err.Error())
	}
}

func (c *clusterLink) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	if c.sub != nil {
		_ = c.sub.Close()
	}
	if c.client != nil {
		_ = c.client.Close()
	}
}
