package proxy

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuild-project/wuild/executor"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// writeFakeCompiler materializes a shell script that, given any
// argument vector, writes a fixed marker to the file following the
// first "-o" flag it finds — standing in for both the preprocess and
// compile steps of a split GCC-like invocation. Its name must contain
// "gcc" so invocation.GuessToolKind recognizes the GCC family.
func writeFakeCompiler(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakegcc.sh")
	script := "#!/bin/sh\nprev=\"\"\nout=\"\"\nfor a in \"$@\"; do\n  if [ \"$prev\" = \"-o\" ]; then out=\"$a\"; fi\n  prev=\"$a\"\ndone\nif [ -n \"$out\" ]; then echo ok > \"$out\"; fi\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func startProxyServer(t *testing.T, bindings []ToolBinding) *Server {
	t.Helper()
	execCfg := executor.NewConfig(t.TempDir(), 2, executor.WithQuantumInterval(2*time.Millisecond))
	ex := executor.New(execCfg)

	cfg := NewServerConfig("127.0.0.1:0", 2)
	srv := New(cfg, bindings, ex, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx, nil))
	t.Cleanup(func() {
		srv.Stop()
		cancel()
	})
	return srv
}

// TestProxyServerLocalFallback drives a raw ProxyRequest through the
// full classify -> split -> preprocess -> local-compile chain (no
// rcClient configured, so every compile falls back to the local
// executor) and checks the final object file lands on disk.
func TestProxyServerLocalFallback(t *testing.T) {
	toolPath := writeFakeCompiler(t)
	srv := startProxyServer(t, []ToolBinding{{ToolId: "gcc", ExecutablePath: toolPath}})

	workDir := t.TempDir()
	outPath := filepath.Join(workDir, "out.o")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	h := transport.NewHandler(conn, transport.DefaultSettings())
	h.Start(ctx)
	defer h.Stop(false)

	req := wire.ProxyRequest{ToolId: "gcc", Args: []string{"-c", "src.c", "-o", outPath}, Cwd: workDir}
	replyCh := make(chan wire.ProxyResponse, 1)
	_, err = h.QueueFrame(wire.FrameToolProxyRequest, req.Encode(wire.DefaultByteOrder),
		func(state transport.ReplyState, hdr wire.Header, body []byte, err error) {
			require.Equal(t, transport.ReplySuccess, state)
			resp, decErr := wire.DecodeProxyResponse(body, wire.DefaultByteOrder)
			require.NoError(t, decErr)
			replyCh <- resp
		}, 5*time.Second)
	require.NoError(t, err)

	select {
	case resp := <-replyCh:
		require.True(t, resp.Result, resp.Stdout)
		require.FileExists(t, outPath)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for proxy response")
	}
}

// TestProxyClientRoundTrip drives the same scenario through the real
// Client, exercising Client.Start's immediate-dial path and
// Client.RunTask's synchronous exit-code contract.
func TestProxyClientRoundTrip(t *testing.T) {
	toolPath := writeFakeCompiler(t)
	srv := startProxyServer(t, []ToolBinding{{ToolId: "gcc", ExecutablePath: toolPath}})

	workDir := t.TempDir()
	require.NoError(t, os.Chdir(workDir))
	outPath := filepath.Join(workDir, "out.o")

	clientCfg := NewClientConfig(srv.listener.Addr().String(), "gcc")
	client := NewClient(clientCfg)
	require.NoError(t, client.Start())
	defer client.Stop()

	code := client.RunTask([]string{"-c", "src.c", "-o", outPath})
	require.Equal(t, 0, code)
	require.FileExists(t, outPath)
}
