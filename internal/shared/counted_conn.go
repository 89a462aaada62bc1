// FILE: internal/shared/counted_conn.go
package shared

import (
	"net"
	"sync/atomic"
)

// CountedConn 是一个 net.Conn 的包装器，用于原子地统计写出和读入的字节数。
// 监听器用它汇总每个端点的流量。
type CountedConn struct {
	net.Conn
	written *atomic.Uint64
	read    *atomic.Uint64
}

// NewCountedConn 创建一个新的 CountedConn 实例。
func NewCountedConn(conn net.Conn, written, read *atomic.Uint64) *CountedConn {
	return &CountedConn{
		Conn:    conn,
		written: written,
		read:    read,
	}
}

// Read 从底层连接读取数据，并增加读入计数。
func (c *CountedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.read.Add(uint64(n))
	}
	return n, err
}

// Write 将数据写入底层连接，并增加写出计数。
func (c *CountedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.written.Add(uint64(n))
	}
	return n, err
}
