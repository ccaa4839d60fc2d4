// Package balancer implements the client-side least-loaded-compatible-
// server picker (spec §4.3), grounded in the original
// Modules/RemoteTool/ToolBalancer.{h,cpp}.
package balancer

import (
	"sync"

	"github.com/wuild-project/wuild/runtime/model"
)

// EachTaskWeight is the load-score scaling factor (spec §4.3: "weight = 32768").
const EachTaskWeight int64 = 32768

// ClientStatus reports the outcome of UpdateClient.
type ClientStatus int

const (
	// Skipped means the server was ignored because it advertises none
	// of the balancer's required tool ids.
	Skipped ClientStatus = iota
	// Updated means an existing entry's ToolServerInfo was replaced.
	Updated
	// Added means a new entry was appended.
	Added
)

// Client is one tool server as tracked by the balancer (spec §3:
// BalancerClient).
type Client struct {
	ToolServer         model.ToolServerInfo
	Active             bool
	Compatible         bool
	Checked            bool
	BusyMine           uint16
	BusyOthers         uint16
	BusyNetworkPenalty uint16
	BusyTotal          uint16
	LoadScore          int64

	serverQueuePrev float64
	serverQueueAvg  float64
}

// selectable reports whether this client may be returned by FindFreeClient.
func (c *Client) selectable(toolId string) bool {
	return c.Active && c.Compatible && c.ToolServer.HasTool(toolId)
}

// Balancer tracks every known tool server and picks the least-loaded
// compatible one for each task. Safe for concurrent use; one mutex
// guards the whole client slice (spec §5: "no recursive locking").
type Balancer struct {
	mu              sync.RWMutex
	clients         []*Client
	mySessionId     int64
	requiredToolIds map[string]struct{}

	wasAllInactive bool
	onAvailability func(available bool)
}

// New creates a Balancer scoped to mySessionId. If requiredToolIds is
// non-empty, UpdateClient skips any server advertising none of them
// (spec §4.3).
func New(mySessionId int64, requiredToolIds []string) *Balancer {
	b := &Balancer{mySessionId: mySessionId, wasAllInactive: true}
	if len(requiredToolIds) > 0 {
		b.requiredToolIds = make(map[string]struct{}, len(requiredToolIds))
		for _, id := range requiredToolIds {
			b.requiredToolIds[id] = struct{}{}
		}
	}
	return b
}

// SetAvailabilityCallback installs a callback fired once when the
// balancer transitions between "no active compatible server" and "at
// least one", mirroring the original's RemoteAvailableCallback.
func (b *Balancer) SetAvailabilityCallback(cb func(available bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAvailability = cb
}

func (b *Balancer) hasRequiredTool(info model.ToolServerInfo) bool {
	if len(b.requiredToolIds) == 0 {
		return true
	}
	for _, id := range info.ToolIds {
		if _, ok := b.requiredToolIds[id]; ok {
			return true
		}
	}
	return false
}

// UpdateClient merges a fresh ToolServerInfo snapshot into the balancer
// (spec §4.3). Identity matching uses ToolServerInfo.EqualId.
func (b *Balancer) UpdateClient(info model.ToolServerInfo) (ClientStatus, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasRequiredTool(info) {
		return Skipped, -1
	}

	for i, c := range b.clients {
		if c.ToolServer.EqualId(info) {
			c.ToolServer = info
			b.recomputeLoadLocked(c)
			return Updated, i
		}
	}

	b.clients = append(b.clients, &Client{ToolServer: info, Active: true})
	idx := len(b.clients) - 1
	b.recomputeLoadLocked(b.clients[idx])
	return Added, idx
}

// SetClientActive flips the transport-level liveness of client idx.
func (b *Balancer) SetClientActive(idx int, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.clients) {
		return
	}
	b.clients[idx].Active = active
	b.checkAvailabilityLocked()
}

// SetClientCompatible flips the version-check result of client idx
// (spec §4.4 gate; both Active and Compatible must hold for selection).
func (b *Balancer) SetClientCompatible(idx int, compatible bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.clients) {
		return
	}
	b.clients[idx].Checked = true
	b.clients[idx].Compatible = compatible
	b.checkAvailabilityLocked()
}

func (b *Balancer) checkAvailabilityLocked() {
	if b.onAvailability == nil {
		return
	}
	anyAvailable := false
	for _, c := range b.clients {
		if c.Active && c.Compatible {
			anyAvailable = true
			break
		}
	}
	if anyAvailable == b.wasAllInactive {
		b.wasAllInactive = !anyAvailable
		b.onAvailability(anyAvailable)
	}
}

// FindFreeClient scans for the least-loaded selectable server
// advertising toolId. A server whose busy_total has reached its
// total_threads is skipped, so no server is returned when every
// candidate is fully busy. Ties are broken by first-fit iteration order
// (SPEC_FULL.md §E, grounded in ToolBalancer::FindFreeClient's
// std::deque scan), which keeps repeated choices for the same source
// file landing on the same server.
func (b *Balancer) FindFreeClient(toolId string) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	best := -1
	var bestScore int64
	for i, c := range b.clients {
		if !c.selectable(toolId) {
			continue
		}
		if c.BusyTotal >= c.ToolServer.TotalThreads {
			continue
		}
		if best == -1 || c.LoadScore < bestScore {
			best = i
			bestScore = c.LoadScore
		}
	}
	return best, best != -1
}

// StartTask increments busy_mine for client idx, recomputing its load
// score (spec §5: "start_task precedes queue_frame for the chosen task").
func (b *Balancer) StartTask(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.clients) {
		return
	}
	c := b.clients[idx]
	c.BusyMine++
	b.recomputeLoadLocked(c)
}

// FinishTask decrements busy_mine for client idx (spec §5: called from
// the reply callback before the user callback).
func (b *Balancer) FinishTask(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.clients) {
		return
	}
	c := b.clients[idx]
	if c.BusyMine > 0 {
		c.BusyMine--
	}
	b.recomputeLoadLocked(c)
}

// SetServerSideLoad updates the two-sample moving average of a peer's
// queued_tasks and adjusts the network-load penalty (spec §4.3): a
// growing peer queue increments the penalty up to total_threads; a
// queue that reaches zero decrements it.
func (b *Balancer) SetServerSideLoad(idx int, queued uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.clients) {
		return
	}
	c := b.clients[idx]

	newAvg := (c.serverQueuePrev + float64(queued)) / 2
	growing := newAvg > c.serverQueueAvg
	c.serverQueuePrev = float64(queued)
	c.serverQueueAvg = newAvg

	total := c.ToolServer.TotalThreads
	switch {
	case queued == 0 && c.BusyNetworkPenalty > 0:
		c.BusyNetworkPenalty--
	case growing && c.BusyNetworkPenalty < total:
		c.BusyNetworkPenalty++
	}
	b.recomputeLoadLocked(c)
}

// recomputeLoadLocked recomputes busy_others, busy_total, and
// load_score for c. Caller must hold b.mu.
func (b *Balancer) recomputeLoadLocked(c *Client) {
	var busyOthers uint16
	for _, cc := range c.ToolServer.ConnectedClients {
		if cc.SessionId != b.mySessionId {
			busyOthers += cc.UsedThreads
		}
	}
	if busyOthers > 0 {
		busyOthers--
	}
	c.BusyOthers = busyOthers

	total := c.ToolServer.TotalThreads
	sum := uint32(c.BusyMine) + uint32(busyOthers) + uint32(c.BusyNetworkPenalty)
	busyTotal := uint16(sum)
	if uint32(total) < sum {
		busyTotal = total
	}
	c.BusyTotal = busyTotal

	if total == 0 {
		c.LoadScore = 0
		return
	}
	c.LoadScore = int64(busyTotal) * EachTaskWeight / int64(total)
}

// GetFreeThreads returns the fleet-wide free-thread estimate: the sum
// of each active compatible server's (total_threads - busy_total),
// mirroring the original's GetFreeRemoteThreads numerator.
func (b *Balancer) GetFreeThreads() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	free := 0
	for _, c := range b.clients {
		if !c.Active || !c.Compatible {
			continue
		}
		free += int(c.ToolServer.TotalThreads) - int(c.BusyTotal)
	}
	return free
}

// IsAllActive reports whether every known client is currently Active.
func (b *Balancer) IsAllActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if !c.Active {
			return false
		}
	}
	return true
}

// Snapshot returns a defensive copy of client i's state, for tests and
// diagnostics.
func (b *Balancer) Snapshot(idx int) (Client, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if idx < 0 || idx >= len(b.clients) {
		return Client{}, false
	}
	return *b.clients[idx], true
}

// Len returns the number of known tool servers.
func (b *Balancer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
