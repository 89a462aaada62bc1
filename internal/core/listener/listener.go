package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"netloop/internal/sys/sockopt"
)

// State of a listener. Stopped is terminal.
type State int32

const (
	StateCreated State = iota
	StateBound
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats is a point-in-time snapshot of a listener's counters.
type Stats struct {
	Name     string   `json:"name"`
	Endpoint Endpoint `json:"endpoint"`
	State    string   `json:"state"`
	Accepted uint64   `json:"accepted"`
	Served   uint64   `json:"served"`
	Dropped  uint64   `json:"dropped"`
	Failures uint64   `json:"failures"`
	Active   int64    `json:"active"`
	BytesIn  uint64   `json:"bytes_in"`
	BytesOut uint64   `json:"bytes_out"`
}

type counters struct {
	accepted atomic.Uint64
	served   atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
	active   atomic.Int64
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// Listener binds one endpoint and runs a handler for every inbound
// connection (stream) or datagram (datagram).
type Listener struct {
	cfg      Config
	handler  Handler
	observer Observer
	log      zerolog.Logger
	baseCtx  context.Context
	sem      *semaphore.Weighted

	mu      sync.Mutex
	state   State
	addr    Endpoint
	stream  streamSocket
	packet  net.PacketConn
	reading map[net.Conn]struct{}

	quit     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup

	stats counters
}

// Option customizes a Listener.
type Option func(*Listener)

// WithObserver sets where errors, state changes and unit events go.
func WithObserver(o Observer) Option {
	return func(l *Listener) {
		if o != nil {
			l.observer = o
		}
	}
}

// WithLogger sets the logger attached to each handler's context. Handlers
// read it with zerolog.Ctx(ctx); it carries trace_id and peer fields.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithBaseContext sets the parent of every handler context. Stop never
// cancels it.
func WithBaseContext(ctx context.Context) Option {
	return func(l *Listener) {
		if ctx != nil {
			l.baseCtx = ctx
		}
	}
}

// New validates cfg and returns a listener in the Created state.
func New(cfg Config, handler Handler, opts ...Option) (*Listener, error) {
	if handler == nil {
		return nil, fmt.Errorf("listener %s: nil handler", cfg.Endpoint)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("listener %s: %w", cfg.Name, err)
	}
	l := &Listener{
		cfg:      cfg,
		handler:  handler,
		observer: NopObserver{},
		log:      zerolog.Nop(),
		baseCtx:  context.Background(),
		state:    StateCreated,
		addr:     cfg.Endpoint,
		reading:  make(map[net.Conn]struct{}),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	if cfg.MaxConnections > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Name returns the configured label.
func (l *Listener) Name() string { return l.cfg.Name }

// Addr returns the bound endpoint once Bind succeeded, with an ephemeral
// port resolved. Before that it returns the configured endpoint.
func (l *Listener) Addr() Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed when the serve loop has ended, or on Stop if it never ran.
func (l *Listener) Done() <-chan struct{} { return l.loopDone }

// Bind opens the socket. Failures are *Error values of KindBind and are
// never retried.
func (l *Listener) Bind() error {
	l.mu.Lock()
	switch l.state {
	case StateStopped:
		l.mu.Unlock()
		return ErrListenerStopped
	case StateBound, StateRunning:
		l.mu.Unlock()
		return ErrAlreadyBound
	}

	ep := l.cfg.Endpoint
	lc := net.ListenConfig{Control: sockopt.Control(l.cfg.ReadBuffer, l.cfg.WriteBuffer)}
	var err error
	switch ep.Transport {
	case TransportStream:
		var ln net.Listener
		ln, err = lc.Listen(context.Background(), ep.Transport.network(), ep.Address())
		if err == nil {
			l.stream = ln.(*net.TCPListener)
			l.addr = endpointFromAddr(ep.Transport, ln.Addr())
		}
	case TransportDatagram:
		var pc net.PacketConn
		pc, err = lc.ListenPacket(context.Background(), ep.Transport.network(), ep.Address())
		if err == nil {
			l.packet = pc
			l.addr = endpointFromAddr(ep.Transport, pc.LocalAddr())
		}
	}
	if err != nil {
		l.mu.Unlock()
		bindErr := &Error{Kind: KindBind, Endpoint: ep, Err: err}
		l.observer.Failed(bindErr)
		return bindErr
	}
	l.state = StateBound
	addr := l.addr
	l.mu.Unlock()

	l.observer.StateChanged(addr, StateCreated, StateBound)
	return nil
}

// Serve runs the accept or receive loop on the calling goroutine. It
// returns nil once Stop has closed the socket.
func (l *Listener) Serve() error {
	l.mu.Lock()
	switch l.state {
	case StateCreated:
		l.mu.Unlock()
		return ErrNotBound
	case StateRunning:
		l.mu.Unlock()
		return ErrAlreadyServing
	case StateStopped:
		l.mu.Unlock()
		return ErrListenerStopped
	}
	l.state = StateRunning
	addr := l.addr
	l.mu.Unlock()

	defer close(l.loopDone)
	l.observer.StateChanged(addr, StateBound, StateRunning)

	switch l.cfg.Endpoint.Transport {
	case TransportStream:
		for conn := range l.connections() {
			if l.sem != nil && !l.sem.TryAcquire(1) {
				peer := endpointFromAddr(TransportStream, conn.RemoteAddr())
				_ = conn.Close()
				l.stats.failures.Add(1)
				l.observer.Failed(&Error{Kind: KindAccept, Endpoint: addr, Peer: &peer, Err: ErrConnectionLimit})
				continue
			}
			l.inflight.Add(1)
			go l.serveConn(conn)
		}
	case TransportDatagram:
		for dg := range l.datagrams() {
			l.serveDatagram(dg)
		}
	}
	return nil
}

// Start binds and then serves on a new goroutine.
func (l *Listener) Start() error {
	if err := l.Bind(); err != nil {
		return err
	}
	go func() {
		// Only fails if Stop won the race, which is fine.
		_ = l.Serve()
	}()
	return nil
}

// Stop closes the socket and waits for the loop and any in-flight
// handlers to return. Handlers are not interrupted. Safe to call more
// than once.
//
// A stream connection whose handler has not started yet is closed without
// an answer, even if the peer already sent its request: it has not been
// read, so it counts as new work.
func (l *Listener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		l.mu.Lock()
		prev := l.state
		l.state = StateStopped
		close(l.quit)
		now := time.Now()
		if l.stream != nil {
			err = l.stream.Close()
			// Peers that connected but never sent anything would hold Stop
			// forever; wake them so they close without running the handler.
			for c := range l.reading {
				_ = c.SetReadDeadline(now)
			}
		}
		if l.packet != nil {
			// The socket stays open until the current datagram is answered.
			_ = l.packet.SetReadDeadline(now)
		}
		addr := l.addr
		l.mu.Unlock()

		if prev == StateRunning {
			<-l.loopDone
		} else {
			close(l.loopDone)
		}
		l.inflight.Wait()

		if l.packet != nil {
			err = l.packet.Close()
		}
		l.observer.StateChanged(addr, prev, StateStopped)
	})
	return err
}

// Stats returns a snapshot of the listener counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	addr, state := l.addr, l.state
	l.mu.Unlock()
	return Stats{
		Name:     l.cfg.Name,
		Endpoint: addr,
		State:    state.String(),
		Accepted: l.stats.accepted.Load(),
		Served:   l.stats.served.Load(),
		Dropped:  l.stats.dropped.Load(),
		Failures: l.stats.failures.Load(),
		Active:   l.stats.active.Load(),
		BytesIn:  l.stats.bytesIn.Load(),
		BytesOut: l.stats.bytesOut.Load(),
	}
}

func (l *Listener) stopping() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}

// unitContext builds the per-unit context carrying a trace-scoped logger.
func (l *Listener) unitContext(peer Endpoint) (context.Context, string) {
	traceID := uuid.NewString()
	lg := l.log.With().
		Str("trace_id", traceID).
		Str("peer", peer.Address()).
		Logger()
	return lg.WithContext(l.baseCtx), traceID
}

// invoke runs the handler, turning a panic into an error.
func (l *Listener) invoke(ctx context.Context, payload []byte, peer Endpoint) (resp []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler.Handle(ctx, payload, peer)
}

func (l *Listener) drop(kind Kind, peer Endpoint, err error) {
	l.stats.dropped.Add(1)
	l.observer.Failed(&Error{Kind: kind, Endpoint: l.addr, Peer: &peer, Err: err})
}

// retryBackOff paces accept/receive retries after a transient failure:
// 5ms doubling up to 1s, reset after every success.
func retryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// pause waits before the next accept/receive, returning false if the
// listener stopped meanwhile.
func (l *Listener) pause(delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-l.quit:
		return false
	}
}
