package toolclient

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuild-project/wuild/runtime/invocation"
	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// fakeToolServer answers VersionProbe with a fixed version and every
// ToolRequest with a successful canned ToolResponse, just enough to
// exercise the client's dispatch/version-gate path end to end.
func fakeToolServer(t *testing.T, version string) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		h := transport.NewHandler(conn, transport.DefaultSettings(), transport.AsServer())
		_ = h.RegisterReader(transport.FrameReaderFunc{
			TypeId: wire.FrameVersionProbe,
			Process: func(hdr wire.Header, body []byte) error {
				resp := wire.VersionProbeResponse{Versions: map[string]string{"gcc9": version}}
				return h.QueueReply(wire.FrameVersionProbeResponse, resp.Encode(wire.DefaultByteOrder), hdr.TransactionId)
			},
		})
		_ = h.RegisterReader(transport.FrameReaderFunc{
			TypeId: wire.FrameToolRequest,
			Process: func(hdr wire.Header, body []byte) error {
				resp := wire.ToolResponse{Result: true, FileData: []byte("object-bytes"), Stdout: "ok", ExecutionTimeUs: 1500}
				return h.QueueReply(wire.FrameToolResponse, resp.Encode(wire.DefaultByteOrder), hdr.TransactionId)
			},
		})
		h.Start(context.Background())
	}()

	return ln.Addr().String(), func() { _ = ln.Close() }
}

func serverInfoFor(t *testing.T, addr string) model.ToolServerInfo {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return model.ToolServerInfo{ServerId: "srv-1", Host: host, Port: uint16(port), TotalThreads: 4, ToolIds: []string{"gcc9"}}
}

func TestInvokeToolRoundTripSuccess(t *testing.T) {
	addr, stop := fakeToolServer(t, "9.3.0")
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := NewConfig("client-1", WithWorkerInterval(5*time.Millisecond))
	c := New(cfg, []string{"gcc9"}, invocation.VersionMap{"gcc9": "9.3.0"})
	c.Start(ctx)
	defer c.Stop()

	c.OnFleetUpdate(ctx, model.CoordinatorInfo{ToolServers: []model.ToolServerInfo{serverInfoFor(t, addr)}})

	require.Eventually(t, func() bool {
		idx, ok := c.balancer.FindFreeClient("gcc9")
		return ok && idx == 0
	}, 2*time.Second, 10*time.Millisecond)

	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "main.o")
	cmd := model.NewToolCommandline(model.ToolId{ToolId: "gcc9"})
	cmd.Type = model.Compile
	cmd.Args = []string{"-x", "c++", "-c", "pp_main.cpp", "-o", outPath}
	cmd.InputArgIndex = 3
	cmd.OutputArgIndex = 5

	resultCh := c.InvokeTool(cmd, []byte("preprocessed-source"))

	select {
	case res := <-resultCh:
		require.True(t, res.Success, res.Message)
		require.Equal(t, outPath, res.OutputPath)
		data, err := os.ReadFile(outPath)
		require.NoError(t, err)
		require.Equal(t, "object-bytes", string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for InvokeTool result")
	}
}

func TestInvokeToolTimesOutWhenNoServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := NewConfig("client-1", WithQueueTimeout(30*time.Millisecond), WithWorkerInterval(5*time.Millisecond))
	c := New(cfg, nil, invocation.VersionMap{})
	c.Start(ctx)
	defer c.Stop()

	cmd := model.NewToolCommandline(model.ToolId{ToolId: "gcc9"})
	cmd.Type = model.Compile
	cmd.Args = []string{"-c", "main.cpp", "-o", "main.o"}
	cmd.InputArgIndex = 1
	cmd.OutputArgIndex = 2

	resultCh := c.InvokeTool(cmd, nil)
	select {
	case res := <-resultCh:
		require.False(t, res.Success)
		require.Equal(t, "Timeout expired.", res.Stdout)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue timeout result")
	}
}
