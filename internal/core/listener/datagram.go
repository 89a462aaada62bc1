package listener

import (
	"errors"
	"iter"
	"net"
	"os"
	"time"
)

// Datagram is one received message. Each one stands alone: nothing ties it
// to earlier or later datagrams from the same source.
type Datagram struct {
	Payload []byte
	Source  Endpoint

	addr net.Addr
}

// datagrams yields received datagrams in arrival order until the listener
// stops. The payload is a private copy.
func (l *Listener) datagrams() iter.Seq[Datagram] {
	return func(yield func(Datagram) bool) {
		buf := make([]byte, l.cfg.BufferSize)
		bo := retryBackOff()
		for {
			// Deadline changes happen under the lock so a Stop that lands
			// between the check and ReadFrom is not overwritten.
			l.mu.Lock()
			if l.stopping() {
				l.mu.Unlock()
				return
			}
			if l.cfg.AcceptTimeout > 0 {
				_ = l.packet.SetReadDeadline(time.Now().Add(l.cfg.AcceptTimeout))
			}
			l.mu.Unlock()

			n, addr, err := l.packet.ReadFrom(buf)
			if err != nil {
				if l.stopping() || errors.Is(err, net.ErrClosed) {
					return
				}
				if errors.Is(err, os.ErrDeadlineExceeded) {
					continue
				}
				l.stats.failures.Add(1)
				l.observer.Failed(&Error{Kind: KindReceive, Endpoint: l.addr, Err: err})
				if !l.pause(bo.NextBackOff()) {
					return
				}
				continue
			}
			bo.Reset()

			payload := make([]byte, n)
			copy(payload, buf[:n])
			dg := Datagram{
				Payload: payload,
				Source:  endpointFromAddr(TransportDatagram, addr),
				addr:    addr,
			}
			if !yield(dg) {
				return
			}
		}
	}
}

// serveDatagram handles one datagram on the loop goroutine and answers it
// through the listening socket.
func (l *Listener) serveDatagram(dg Datagram) {
	start := time.Now()
	l.stats.accepted.Add(1)
	l.stats.bytesIn.Add(uint64(len(dg.Payload)))
	l.stats.active.Add(1)
	defer l.stats.active.Add(-1)

	ctx, traceID := l.unitContext(dg.Source)
	resp, err := l.invoke(ctx, dg.Payload, dg.Source)
	if err != nil {
		l.drop(KindHandler, dg.Source, err)
		return
	}
	if resp != nil {
		if l.cfg.WriteTimeout > 0 {
			_ = l.packet.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
		}
		n, err := l.packet.WriteTo(resp, dg.addr)
		l.stats.bytesOut.Add(uint64(n))
		if err != nil {
			l.drop(KindWrite, dg.Source, err)
			return
		}
	}

	l.stats.served.Add(1)
	l.observer.UnitServed(UnitEvent{
		TraceID:   traceID,
		Endpoint:  l.addr,
		Peer:      dg.Source,
		BytesIn:   len(dg.Payload),
		BytesOut:  len(resp),
		Responded: resp != nil,
		Duration:  time.Since(start),
	})
}
