//go:build unix

package sockopt

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Control returns a net.ListenConfig control hook that applies SO_RCVBUF and
// SO_SNDBUF to the socket before it is bound. Sizes <= 0 are left alone;
// nil is returned when there is nothing to set.
func Control(readBuffer, writeBuffer int) func(network, address string, c syscall.RawConn) error {
	if readBuffer <= 0 && writeBuffer <= 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if readBuffer > 0 {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, readBuffer); e != nil {
					opErr = fmt.Errorf("failed to set SO_RCVBUF on %s: %w", address, e)
					return
				}
			}
			if writeBuffer > 0 {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, writeBuffer); e != nil {
					opErr = fmt.Errorf("failed to set SO_SNDBUF on %s: %w", address, e)
				}
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}

// ReadBufferSize reports the kernel's SO_RCVBUF value for a raw socket.
func ReadBufferSize(c syscall.RawConn) (int, error) {
	var (
		size  int
		opErr error
	)
	err := c.Control(func(fd uintptr) {
		size, opErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if err != nil {
		return 0, err
	}
	return size, opErr
}
