package listener

import (
	"errors"
	"strings"
)

// Kind classifies failures raised by a listener.
// Only KindBind is ever returned to callers; the rest go to the Observer.
type Kind uint8

const (
	KindBind Kind = iota + 1
	KindAccept
	KindReceive
	KindRead
	KindHandler
	KindWrite
)

var (
	ErrBind    = errors.New("bind failed")
	ErrAccept  = errors.New("accept failed")
	ErrReceive = errors.New("receive failed")
	ErrRead    = errors.New("read failed")
	ErrHandler = errors.New("handler failed")
	ErrWrite   = errors.New("write failed")
)

var (
	ErrNotBound        = errors.New("listener is not bound")
	ErrAlreadyBound    = errors.New("listener is already bound")
	ErrAlreadyServing  = errors.New("listener is already serving")
	ErrListenerStopped = errors.New("listener stopped")
	ErrConnectionLimit = errors.New("connection limit reached")
)

func (k Kind) sentinel() error {
	switch k {
	case KindBind:
		return ErrBind
	case KindAccept:
		return ErrAccept
	case KindReceive:
		return ErrReceive
	case KindRead:
		return ErrRead
	case KindHandler:
		return ErrHandler
	case KindWrite:
		return ErrWrite
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindBind:
		return "bind"
	case KindAccept:
		return "accept"
	case KindReceive:
		return "receive"
	case KindRead:
		return "read"
	case KindHandler:
		return "handler"
	case KindWrite:
		return "write"
	}
	return "unknown"
}

// Error describes a single failure. errors.Is matches it against the
// Err* sentinel of its Kind as well as anything in the wrapped chain.
type Error struct {
	Kind     Kind
	Endpoint Endpoint
	// Peer is nil for failures that are not tied to a remote address.
	Peer *Endpoint
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error on ")
	b.WriteString(e.Endpoint.String())
	if e.Peer != nil {
		b.WriteString(" (peer ")
		b.WriteString(e.Peer.Address())
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Transient reports whether the listener keeps running after this error.
func (e *Error) Transient() bool { return e.Kind != KindBind }
