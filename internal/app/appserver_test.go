package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netloop/internal/core/listener"
	"netloop/internal/probe"
	"netloop/internal/shared/types"
)

func testConfig() *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{BufferSize: listener.DefaultBufferSize},
		LogConf:    types.LogConf{Level: "info"},
		Listeners: []types.ListenerConf{
			{Name: "echo", Transport: "tcp", Host: "127.0.0.1", Handler: "echo"},
			{Name: "greeter", Transport: "udp", Host: "127.0.0.1", Handler: "reply", Reply: "Hello from server"},
		},
	}
}

func exchange(t *testing.T, ep listener.Endpoint, payload string) string {
	t.Helper()
	c, err := probe.New(probe.Options{Transport: ep.Transport, Address: ep.Address(), Attempts: 1, Timeout: 2 * time.Second})
	require.NoError(t, err)
	reply, err := c.Exchange(context.Background(), []byte(payload))
	require.NoError(t, err)
	return string(reply)
}

func TestAppServer_StartServeStop(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	addrs := s.Addrs()
	require.Len(t, addrs, 2)
	assert.NotZero(t, addrs["echo"].Port)
	assert.NotZero(t, addrs["greeter"].Port)

	assert.Equal(t, "ping", exchange(t, addrs["echo"], "ping"))
	assert.Equal(t, "Hello from server", exchange(t, addrs["greeter"], "anything"))

	require.Eventually(t, func() bool {
		for _, st := range s.ListenerStats() {
			if st.Served != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
	for _, st := range s.ListenerStats() {
		assert.Equal(t, listener.StateStopped.String(), st.State, st.Name)
	}
	assert.Zero(t, s.WebPort())
}

func TestAppServer_Run(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, st := range s.ListenerStats() {
			if st.State != listener.StateRunning.String() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAppServer_RunWithCancelledContextIsClean(t *testing.T) {
	// Stop lands before the serve goroutines get going in most of these runs.
	for i := 0; i < 50; i++ {
		s, err := New(testConfig())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, s.Run(ctx), "run %d", i)
	}
}

func TestAppServer_BindFailureStopsOthers(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Listeners = append(cfg.Listeners, types.ListenerConf{
		Name: "clash", Transport: "tcp", Host: "127.0.0.1",
		Port: busy.Addr().(*net.TCPAddr).Port, Handler: "discard",
	})
	s, err := New(cfg)
	require.NoError(t, err)

	err = s.Start()
	require.ErrorIs(t, err, listener.ErrBind)
	var lerr *listener.Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, uint16(busy.Addr().(*net.TCPAddr).Port), lerr.Endpoint.Port)

	for _, st := range s.ListenerStats() {
		assert.Equal(t, listener.StateStopped.String(), st.State, st.Name)
	}
}

func TestAppServer_WebDashboard(t *testing.T) {
	freeLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := freeLn.Addr().(*net.TCPAddr).Port
	require.NoError(t, freeLn.Close())

	cfg := testConfig()
	cfg.WebConf = types.WebConf{Host: "127.0.0.1", Port: port}
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Equal(t, port, s.WebPort())

	exchange(t, s.Addrs()["echo"], "metrics please")

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `netloop_units_served_total{listener="echo"`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(&types.Config{})
	assert.Error(t, err, "no listeners")

	cfg := testConfig()
	cfg.Listeners[0].Handler = "teapot"
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Listeners[1].Transport = "carrier-pigeon"
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Listeners[1].Name = "echo"
	_, err = New(cfg)
	assert.Error(t, err)
}
