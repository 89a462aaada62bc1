package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// DefaultBufferSize is the read buffer used for one unit of work.
const DefaultBufferSize = 1024

// Config is fixed once the listener is created.
type Config struct {
	// Name labels the listener in stats, logs and metrics.
	// Defaults to the endpoint string.
	Name     string
	Endpoint Endpoint

	// BufferSize bounds a single read. Whatever arrives in one read is one
	// message; nothing is reassembled across reads.
	BufferSize int
	// AcceptTimeout bounds a single accept/receive wait. On expiry the
	// iteration is skipped and the loop keeps going. Zero waits forever.
	AcceptTimeout time.Duration
	WriteTimeout  time.Duration
	// MaxConnections caps concurrently handled stream connections; extra
	// peers are closed right after accept. Zero means unlimited.
	MaxConnections int

	ReadBuffer  int
	WriteBuffer int

	// TLSConfig enables TLS on stream listeners.
	TLSConfig *tls.Config
}

func (c Config) withDefaults() Config {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Name == "" {
		c.Name = c.Endpoint.String()
	}
	return c
}

func (c Config) validate() error {
	switch c.Endpoint.Transport {
	case TransportStream, TransportDatagram:
	default:
		return fmt.Errorf("unknown transport %q", c.Endpoint.Transport)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if c.AcceptTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections)
	}
	if c.TLSConfig != nil && c.Endpoint.Transport != TransportStream {
		return errors.New("tls is only supported on stream listeners")
	}
	if c.MaxConnections > 0 && c.Endpoint.Transport != TransportStream {
		return errors.New("max connections only applies to stream listeners")
	}
	return nil
}

// Handler produces the response for one connection or datagram.
// A nil response means "send nothing". The payload belongs to the handler.
type Handler interface {
	Handle(ctx context.Context, payload []byte, peer Endpoint) ([]byte, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, payload []byte, peer Endpoint) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, payload []byte, peer Endpoint) ([]byte, error) {
	return f(ctx, payload, peer)
}
