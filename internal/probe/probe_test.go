package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netloop/internal/core/handler"
	"netloop/internal/core/listener"
)

func startListener(t *testing.T, transport listener.Transport, h listener.Handler) *listener.Listener {
	t.Helper()
	l, err := listener.New(listener.Config{
		Name:     "probe-test",
		Endpoint: listener.Endpoint{Transport: transport, Host: "127.0.0.1"},
	}, h, listener.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func TestExchange_Stream(t *testing.T) {
	l := startListener(t, listener.TransportStream, handler.Echo())

	c, err := New(Options{Transport: listener.TransportStream, Address: l.Addr().Address()})
	require.NoError(t, err)
	reply, err := c.Exchange(context.Background(), []byte("hello stream"))
	require.NoError(t, err)
	assert.Equal(t, "hello stream", string(reply))
}

func TestExchange_Datagram(t *testing.T) {
	l := startListener(t, listener.TransportDatagram, handler.Reply([]byte("Hello from server")))

	c, err := New(Options{Transport: listener.TransportDatagram, Address: l.Addr().Address()})
	require.NoError(t, err)
	reply, err := c.Exchange(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "Hello from server", string(reply))
}

func TestExchange_StreamMaxReply(t *testing.T) {
	l := startListener(t, listener.TransportStream, handler.Echo())

	c, err := New(Options{Transport: listener.TransportStream, Address: l.Addr().Address(), MaxReply: 4})
	require.NoError(t, err)
	reply, err := c.Exchange(context.Background(), []byte("truncated"))
	require.NoError(t, err)
	assert.Equal(t, "trun", string(reply))
}

func TestExchange_IgnoresDatagramFromOtherSource(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()
	impostor, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer impostor.Close()

	go func() {
		buf := make([]byte, 64)
		n, from, err := server.ReadFrom(buf)
		if err != nil {
			return
		}
		_, _ = impostor.WriteTo([]byte("spoofed"), from)
		time.Sleep(20 * time.Millisecond)
		_, _ = server.WriteTo(buf[:n], from)
	}()

	c, err := New(Options{Transport: listener.TransportDatagram, Address: server.LocalAddr().String(), Attempts: 1})
	require.NoError(t, err)
	reply, err := c.Exchange(context.Background(), []byte("genuine"))
	require.NoError(t, err)
	assert.Equal(t, "genuine", string(reply))
}

func TestExchange_RetriesThenFails(t *testing.T) {
	// 找一个没有人监听的端口
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, err := New(Options{Transport: listener.TransportStream, Address: addr, Attempts: 2, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	start := time.Now()
	_, err = c.Exchange(context.Background(), []byte("x"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExchange_DatagramTimeout(t *testing.T) {
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	c, err := New(Options{Transport: listener.TransportDatagram, Address: silent.LocalAddr().String(), Attempts: 1, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Exchange(context.Background(), []byte("anyone?"))
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Transport: "sctp", Address: "127.0.0.1:1"})
	assert.Error(t, err)

	_, err = New(Options{Transport: listener.TransportStream, Address: "no-port"})
	assert.Error(t, err)

	_, err = New(Options{Transport: listener.TransportDatagram, Address: "127.0.0.1:1", Proxy: "socks5://127.0.0.1:1080"})
	assert.ErrorIs(t, err, ErrProxyDatagram)

	_, err = New(Options{Transport: listener.TransportStream, Address: "127.0.0.1:1", Proxy: "gopher://127.0.0.1:70"})
	assert.Error(t, err)

	c, err := New(Options{Transport: listener.TransportStream, Address: "127.0.0.1:1", Proxy: "socks5://127.0.0.1:1080"})
	require.NoError(t, err)
	assert.Equal(t, uint(DefaultAttempts), c.opts.Attempts)
	assert.Equal(t, DefaultTimeout, c.opts.Timeout)
}
