//go:build !unix

// FILE: internal/sys/sockopt/sockopt_other.go
package sockopt

import (
	"fmt"
	"syscall"
)

// Control 在非 unix 系统上不调整套接字缓冲区。
func Control(readBuffer, writeBuffer int) func(network, address string, c syscall.RawConn) error {
	return nil
}

// ReadBufferSize 在非 unix 系统上的存根实现
func ReadBufferSize(c syscall.RawConn) (int, error) {
	return 0, fmt.Errorf("socket buffer inspection is not supported on this platform")
}
