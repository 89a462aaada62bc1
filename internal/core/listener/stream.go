package listener

import (
	"crypto/tls"
	"errors"
	"io"
	"iter"
	"net"
	"os"
	"time"

	"netloop/internal/shared"
)

// streamSocket is the part of *net.TCPListener the accept loop needs.
type streamSocket interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// connections yields accepted connections until the listener stops.
// Accept failures are reported and retried with a growing delay; an
// accept timeout just starts the next wait.
func (l *Listener) connections() iter.Seq[net.Conn] {
	return func(yield func(net.Conn) bool) {
		bo := retryBackOff()
		for {
			if l.cfg.AcceptTimeout > 0 {
				_ = l.stream.SetDeadline(time.Now().Add(l.cfg.AcceptTimeout))
			}
			conn, err := l.stream.Accept()
			if err != nil {
				if l.stopping() || errors.Is(err, net.ErrClosed) {
					return
				}
				if errors.Is(err, os.ErrDeadlineExceeded) {
					continue
				}
				l.stats.failures.Add(1)
				l.observer.Failed(&Error{Kind: KindAccept, Endpoint: l.addr, Err: err})
				if !l.pause(bo.NextBackOff()) {
					return
				}
				continue
			}
			bo.Reset()
			if !yield(conn) {
				_ = conn.Close()
				return
			}
		}
	}
}

// serveConn runs one read, one handler call and at most one write, then
// closes the connection whatever happened.
func (l *Listener) serveConn(raw net.Conn) {
	defer l.inflight.Done()
	if l.sem != nil {
		defer l.sem.Release(1)
	}
	l.stats.accepted.Add(1)
	l.stats.active.Add(1)
	defer l.stats.active.Add(-1)

	var conn net.Conn = shared.NewCountedConn(raw, &l.stats.bytesOut, &l.stats.bytesIn)
	if l.cfg.TLSConfig != nil {
		conn = tls.Server(conn, l.cfg.TLSConfig)
	}
	defer conn.Close()

	peer := endpointFromAddr(TransportStream, raw.RemoteAddr())
	if !l.trackRead(raw) {
		return
	}
	buf := make([]byte, l.cfg.BufferSize)
	n, err := conn.Read(buf)
	l.untrackRead(raw)

	start := time.Now()
	switch {
	case err != nil && !errors.Is(err, io.EOF):
		if !l.stopping() {
			l.drop(KindRead, peer, err)
		}
		return
	case n == 0:
		// Peer half-closed without sending anything.
		return
	}

	ctx, traceID := l.unitContext(peer)
	resp, err := l.invoke(ctx, buf[:n], peer)
	if err != nil {
		l.drop(KindHandler, peer, err)
		return
	}
	if len(resp) > 0 {
		if l.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
		}
		if _, err := conn.Write(resp); err != nil {
			l.drop(KindWrite, peer, err)
			return
		}
	}

	l.stats.served.Add(1)
	l.observer.UnitServed(UnitEvent{
		TraceID:   traceID,
		Endpoint:  l.addr,
		Peer:      peer,
		BytesIn:   n,
		BytesOut:  len(resp),
		Responded: len(resp) > 0,
		Duration:  time.Since(start),
	})
}

// trackRead registers a connection that is waiting for its request so Stop
// can unblock it. It returns false if the listener is already stopping.
func (l *Listener) trackRead(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopping() {
		return false
	}
	l.reading[c] = struct{}{}
	return true
}

func (l *Listener) untrackRead(c net.Conn) {
	l.mu.Lock()
	delete(l.reading, c)
	l.mu.Unlock()
}
