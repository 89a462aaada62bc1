package listener

import (
	"time"

	"github.com/rs/zerolog"
)

// UnitEvent is emitted once per connection or datagram that completed
// without error, whether or not a response was sent.
type UnitEvent struct {
	TraceID   string
	Endpoint  Endpoint
	Peer      Endpoint
	BytesIn   int
	BytesOut  int
	Responded bool
	Duration  time.Duration
}

// Observer receives everything a listener would otherwise have to log.
// Implementations must be safe for concurrent use and must not call back
// into the listener.
type Observer interface {
	StateChanged(ep Endpoint, from, to State)
	UnitServed(ev UnitEvent)
	Failed(err *Error)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StateChanged(Endpoint, State, State) {}
func (NopObserver) UnitServed(UnitEvent)                {}
func (NopObserver) Failed(*Error)                       {}

type multiObserver []Observer

// MultiObserver fans events out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	out := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) StateChanged(ep Endpoint, from, to State) {
	for _, o := range m {
		o.StateChanged(ep, from, to)
	}
}

func (m multiObserver) UnitServed(ev UnitEvent) {
	for _, o := range m {
		o.UnitServed(ev)
	}
}

func (m multiObserver) Failed(err *Error) {
	for _, o := range m {
		o.Failed(err)
	}
}

// LogObserver writes listener events to a zerolog logger.
type LogObserver struct {
	log zerolog.Logger
}

func NewLogObserver(l zerolog.Logger) *LogObserver {
	return &LogObserver{log: l}
}

func (o *LogObserver) StateChanged(ep Endpoint, from, to State) {
	o.log.Info().
		Str("endpoint", ep.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Listener state changed")
}

func (o *LogObserver) UnitServed(ev UnitEvent) {
	o.log.Debug().
		Str("trace_id", ev.TraceID).
		Str("peer", ev.Peer.Address()).
		Int("bytes_in", ev.BytesIn).
		Int("bytes_out", ev.BytesOut).
		Bool("responded", ev.Responded).
		Dur("duration", ev.Duration).
		Msg("Unit served")
}

func (o *LogObserver) Failed(err *Error) {
	var e *zerolog.Event
	switch err.Kind {
	case KindBind, KindHandler:
		e = o.log.Error()
	default:
		e = o.log.Warn()
	}
	if err.Peer != nil {
		e = e.Str("peer", err.Peer.Address())
	}
	e.Err(err.Err).
		Str("kind", err.Kind.String()).
		Str("endpoint", err.Endpoint.String()).
		Msg("Listener error")
}
