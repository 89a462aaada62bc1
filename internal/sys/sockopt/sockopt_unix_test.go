//go:build unix

package sockopt

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControl_NothingToSet(t *testing.T) {
	assert.Nil(t, Control(0, 0))
	assert.Nil(t, Control(-1, 0))
}

func TestControl_AppliesReadBuffer(t *testing.T) {
	lc := net.ListenConfig{Control: Control(64*1024, 64*1024)}
	pc, err := lc.ListenPacket(context.Background(), "udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	raw, err := pc.(*net.UDPConn).SyscallConn()
	require.NoError(t, err)

	size, err := ReadBufferSize(raw)
	require.NoError(t, err)
	// Linux doubles the requested value, other kernels may clamp it.
	assert.Greater(t, size, 0)
}
