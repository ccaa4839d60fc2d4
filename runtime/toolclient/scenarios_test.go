package toolclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuild-project/wuild/coordinator"
	"github.com/wuild-project/wuild/runtime/invocation"
	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// TestVersionMismatchExcludesServer exercises spec §8's version-gate
// scenario: a tool server whose reported version doesn't match the
// locally-detected VersionMap must never be picked, even though it
// advertises the right tool id and has free capacity.
func TestVersionMismatchExcludesServer(t *testing.T) {
	addr, stop := fakeToolServer(t, "8.1.0")
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := NewConfig("client-1", WithWorkerInterval(5*time.Millisecond))
	c := New(cfg, []string{"gcc9"}, invocation.VersionMap{"gcc9": "9.3.0"})
	c.Start(ctx)
	defer c.Stop()

	c.OnFleetUpdate(ctx, model.CoordinatorInfo{ToolServers: []model.ToolServerInfo{serverInfoFor(t, addr)}})

	// The handler connects and probes asynchronously; give it time to
	// settle, then assert it never becomes selectable.
	time.Sleep(100 * time.Millisecond)
	_, ok := c.balancer.FindFreeClient("gcc9")
	require.False(t, ok, "version-mismatched server must be excluded from selection")

	cmd := model.NewToolCommandline(model.ToolId{ToolId: "gcc9"})
	cmd.Type = model.Compile
	cmd.Args = []string{"-c", "main.cpp", "-o", "main.o"}
	cmd.InputArgIndex = 1
	cmd.OutputArgIndex = 2

	shortCfg := NewConfig("client-1", WithQueueTimeout(60*time.Millisecond), WithWorkerInterval(5*time.Millisecond))
	shortC := New(shortCfg, []string{"gcc9"}, invocation.VersionMap{"gcc9": "9.3.0"})
	shortC.Start(ctx)
	defer shortC.Stop()
	shortC.OnFleetUpdate(ctx, model.CoordinatorInfo{ToolServers: []model.ToolServerInfo{serverInfoFor(t, addr)}})

	resultCh := shortC.InvokeTool(cmd, nil)
	select {
	case res := <-resultCh:
		require.False(t, res.Success)
		require.Equal(t, "Timeout expired.", res.Stdout)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue timeout result")
	}
}

// TestBalancesAcrossTwoServers sets up spec §8's two-server balancing
// scenario: with two compatible servers of equal capacity, a series of
// dispatches completes and both servers end up connected and known to
// the client. It does not check how the tasks were spread.
func TestBalancesAcrossTwoServers(t *testing.T) {
	addrA, stopA := fakeToolServer(t, "9.3.0")
	defer stopA()
	addrB, stopB := fakeToolServer(t, "9.3.0")
	defer stopB()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := NewConfig("client-1", WithWorkerInterval(5*time.Millisecond))
	c := New(cfg, []string{"gcc9"}, invocation.VersionMap{"gcc9": "9.3.0"})
	c.Start(ctx)
	defer c.Stop()

	infoA := serverInfoFor(t, addrA)
	infoA.ServerId = "srv-A"
	infoB := serverInfoFor(t, addrB)
	infoB.ServerId = "srv-B"
	c.OnFleetUpdate(ctx, model.CoordinatorInfo{ToolServers: []model.ToolServerInfo{infoA, infoB}})

	require.Eventually(t, func() bool {
		_, ok := c.balancer.FindFreeClient("gcc9")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	used := make(map[string]bool)
	for i := 0; i < 4; i++ {
		cmd := model.NewToolCommandline(model.ToolId{ToolId: "gcc9"})
		cmd.Type = model.Compile
		cmd.Args = []string{"-c", "main.cpp", "-o", "main.o"}
		cmd.InputArgIndex = 1
		cmd.OutputArgIndex = 2

		resultCh := c.InvokeTool(cmd, []byte("src"))
		select {
		case res := <-resultCh:
			require.True(t, res.Success, res.Message)
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for InvokeTool result")
		}
	}

	c.mu.Lock()
	for _, conn := range c.conns {
		if conn != nil {
			used[conn.serverInfo.ServerId] = true
		}
	}
	c.mu.Unlock()
	require.Len(t, used, 2, "both servers should be known to the balancer after fleet update")
}

// TestCoordinatorChurnDropsDisconnectedServer exercises spec §8's
// coordinator-churn scenario: when a tool server's connection to the
// coordinator drops, the coordinator evicts it from the fleet view it
// broadcasts to clients, without waiting for an explicit removal message.
func TestCoordinatorChurnDropsDisconnectedServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()

	coord := coordinator.New(coordinator.NewConfig(coordinator.WithListenAddr(addr)))
	require.NoError(t, coord.Start(ctx))
	defer coord.Stop()

	reporterConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	reporter := transport.NewHandler(reporterConn, transport.DefaultSettings())
	reporter.Start(ctx)

	status := wire.ToolServerStatus{Info: model.ToolServerInfo{
		ServerId: "srv-churn", Host: "10.0.0.9", Port: 9100, TotalThreads: 4, ToolIds: []string{"gcc9"},
	}}
	_, err = reporter.QueueFrame(wire.FrameToolServerStatus, status.Encode(wire.DefaultByteOrder), nil, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(coord.Info().ToolServers) == 1
	}, 2*time.Second, 10*time.Millisecond)

	reporter.Stop(false)
	_ = reporterConn.Close()

	require.Eventually(t, func() bool {
		return len(coord.Info().ToolServers) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
