package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuild-project/wuild/runtime/wire"
)

const testFrameType = wire.MinUserSegmentType + 1

func newConnectedPair(t *testing.T, opts ...Option) (*FrameHandler, *FrameHandler) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	settings := Apply(append([]Option{WithQuantumInterval(2 * time.Millisecond)}, opts...)...)

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			serverConnCh <- conn
		}
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverConn := <-serverConnCh

	client := NewHandler(clientConn, settings)
	server := NewHandler(serverConn, settings, AsServer())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	client.Start(ctx)
	server.Start(ctx)

	require.Eventually(t, func() bool {
		return client.State() == Connected && server.State() == Connected
	}, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		client.Stop(true)
		server.Stop(true)
	})

	return client, server
}

func TestHandshakeReachesConnected(t *testing.T) {
	client, server := newConnectedPair(t)
	require.Equal(t, Connected, client.State())
	require.Equal(t, Connected, server.State())
}

func TestQueueFrameReplyFiresOnce(t *testing.T) {
	client, server := newConnectedPair(t)

	require.NoError(t, server.RegisterReader(FrameReaderFunc{
		TypeId: testFrameType,
		Process: func(hdr wire.Header, body []byte) error {
			if hdr.IsReply() {
				return nil
			}
			return server.QueueReply(testFrameType, []byte("pong"), hdr.TransactionId)
		},
	}))

	resultCh := make(chan ReplyState, 1)
	bodyCh := make(chan []byte, 1)
	_, err := client.QueueFrame(testFrameType, []byte("ping"), func(state ReplyState, hdr wire.Header, body []byte, err error) {
		resultCh <- state
		bodyCh <- body
	}, 2*time.Second)
	require.NoError(t, err)

	select {
	case state := <-resultCh:
		require.Equal(t, ReplySuccess, state)
		require.Equal(t, []byte("pong"), <-bodyCh)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestQueueFrameFiresErrorOnDisconnect(t *testing.T) {
	client, server := newConnectedPair(t)
	_ = server

	resultCh := make(chan ReplyState, 1)
	_, err := client.QueueFrame(testFrameType, []byte("ping"), func(state ReplyState, hdr wire.Header, body []byte, err error) {
		resultCh <- state
	}, 0)
	require.NoError(t, err)

	client.Stop(true)

	select {
	case state := <-resultCh:
		require.Equal(t, ReplyError, state)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}
}

func TestQueueFrameTimesOut(t *testing.T) {
	client, _ := newConnectedPair(t)

	resultCh := make(chan ReplyState, 1)
	_, err := client.QueueFrame(testFrameType, []byte("ping-no-reply"), func(state ReplyState, hdr wire.Header, body []byte, err error) {
		resultCh <- state
	}, 50*time.Millisecond)
	require.NoError(t, err)

	select {
	case state := <-resultCh:
		require.Equal(t, ReplyTimeout, state)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timeout callback")
	}
}

func TestLargeFrameSpansSegments(t *testing.T) {
	client, server := newConnectedPair(t, WithSegmentSize(16))

	received := make(chan []byte, 1)
	require.NoError(t, server.RegisterReader(FrameReaderFunc{
		TypeId: testFrameType,
		Process: func(hdr wire.Header, body []byte) error {
			received <- body
			return nil
		},
	}))

	big := make([]byte, 2000)
	for i := range big {
		big[i] = byte(i % 251)
	}
	_, err := client.QueueFrame(testFrameType, big, nil, 0)
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, big, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for large frame")
	}
}
