package proxy

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/wuild-project/wuild/runtime/toolclient"
	"github.com/wuild-project/wuild/runtime/transport"
	"github.com/wuild-project/wuild/runtime/wire"
)

// Client is the proxy client side of the tool proxy: a synchronous,
// drop-in compiler substitute invoked by the build driver in place of
// the real compiler (spec §2, §4.5). Grounded in ToolProxyClient.{h,cpp}.
type Client struct {
	cfg     ClientConfig
	handler *transport.FrameHandler
}

// NewClient constructs a Client; call Start before RunTask.
func NewClient(cfg ClientConfig) *Client { return &Client{cfg: cfg} }

// Start dials the configured proxy server. If the first attempt fails,
// it launches cfg.StartCommand detached (lazily starting the daemon)
// and retries for up to cfg.ConnectionTimeout, mirroring
// ToolProxyClient::Start's "wait, then StartDetached, then wait again".
func (c *Client) Start() error {
	h, err := c.dial()
	if err == nil {
		c.handler = h
		return nil
	}
	if c.cfg.StartCommand == "" {
		return fmt.Errorf("proxy: connect to %s: %w", c.cfg.ServerAddr, err)
	}
	if startErr := startDetached(c.cfg.StartCommand); startErr != nil {
		return fmt.Errorf("proxy: launch %q: %w", c.cfg.StartCommand, startErr)
	}
	deadline := time.Now().Add(c.cfg.ConnectionTimeout)
	for {
		time.Sleep(50 * time.Millisecond)
		h, err = c.dial()
		if err == nil {
			c.handler = h
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("proxy: proxy server did not come up at %s: %w", c.cfg.ServerAddr, err)
		}
	}
}

func (c *Client) dial() (*transport.FrameHandler, error) {
	conn, err := net.DialTimeout("tcp", c.cfg.ServerAddr, c.cfg.ConnectionTimeout)
	if err != nil {
		return nil, err
	}
	h := transport.NewHandler(conn, c.cfg.Settings, transport.WithLogger(c.cfg.Logger))
	h.Start(context.Background())
	return h, nil
}

// Stop closes the connection to the proxy server.
func (c *Client) Stop() {
	if c.handler != nil {
		c.handler.Stop(false)
	}
}

// RunTask submits args (the raw local invocation, minus the executable
// itself) to the proxy server and blocks for the result. It returns the
// process exit code the build driver should propagate (0 on success, 1
// otherwise, per spec §6), having already forwarded non-empty stdout to
// stderr exactly as the original CLI substitute does.
func (c *Client) RunTask(args []string) int {
	cwd, _ := os.Getwd()
	req := wire.ProxyRequest{ToolId: c.cfg.ToolId, Args: args, Cwd: cwd, RequestId: toolclient.NewRequestId()}

	type outcome struct {
		result bool
		stdout string
	}
	resultCh := make(chan outcome, 1)
	_, err := c.handler.QueueFrame(wire.FrameToolProxyRequest, req.Encode(wire.DefaultByteOrder),
		func(state transport.ReplyState, hdr wire.Header, body []byte, err error) {
			switch state {
			case transport.ReplyTimeout:
				resultCh <- outcome{false, "Timeout expired."}
			case transport.ReplySuccess:
				resp, decErr := wire.DecodeProxyResponse(body, wire.DefaultByteOrder)
				if decErr != nil {
					resultCh <- outcome{false, decErr.Error()}
					return
				}
				resultCh <- outcome{resp.Result, resp.Stdout}
			default:
				resultCh <- outcome{false, "Internal error."}
			}
		}, c.cfg.ProxyClientTimeout)
	if err != nil {
		resultCh <- outcome{false, err.Error()}
	}

	out := <-resultCh
	stdout := strings.ReplaceAll(out.stdout, "\r", " ")
	if stdout != "" {
		fmt.Fprintln(os.Stderr, stdout)
	}
	if out.result {
		return 0
	}
	return 1
}

// startDetached launches command in the background, matching the
// original's platform StartDetached helper (skip silently if the
// command doesn't resolve to an existing file — nothing to launch).
func startDetached(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	if _, err := os.Stat(fields[0]); err != nil {
		return nil
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	return cmd.Start()
}
