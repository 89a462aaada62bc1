// Package probe is the client side of a netloop listener: it sends one
// payload and reads back one reply.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"netloop/internal/core/listener"
)

const (
	DefaultAttempts = 3
	DefaultTimeout  = 5 * time.Second
	DefaultMaxReply = 64 * 1024
)

var ErrProxyDatagram = errors.New("proxy is only supported for stream transport")

type Options struct {
	Transport listener.Transport
	Address   string // host:port
	// Proxy is a socks5:// URL, stream only.
	Proxy    string
	Attempts uint
	Timeout  time.Duration // per attempt
	MaxReply int
}

type Client struct {
	opts   Options
	dialer proxy.ContextDialer
}

func New(opts Options) (*Client, error) {
	if opts.Transport != listener.TransportStream && opts.Transport != listener.TransportDatagram {
		return nil, fmt.Errorf("unknown transport %q", opts.Transport)
	}
	if _, _, err := net.SplitHostPort(opts.Address); err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", opts.Address, err)
	}
	if opts.Attempts == 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxReply <= 0 {
		opts.MaxReply = DefaultMaxReply
	}

	c := &Client{opts: opts}
	direct := &net.Dialer{Timeout: opts.Timeout}
	c.dialer = direct
	if opts.Proxy != "" {
		if opts.Transport != listener.TransportStream {
			return nil, ErrProxyDatagram
		}
		u, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		d, err := proxy.FromURL(u, direct)
		if err != nil {
			return nil, fmt.Errorf("unsupported proxy %q: %w", opts.Proxy, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy %q does not support context dialing", opts.Proxy)
		}
		c.dialer = cd
	}
	return c, nil
}

// Exchange sends payload and returns the reply, retrying failed attempts
// with exponential backoff up to Options.Attempts times.
func (c *Client) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	log := zerolog.Ctx(ctx)
	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		var (
			reply []byte
			err   error
		)
		if c.opts.Transport == listener.TransportStream {
			reply, err = c.exchangeStream(ctx, payload)
		} else {
			reply, err = c.exchangeDatagram(ctx, payload)
		}
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Str("target", c.opts.Address).Msg("probe attempt failed")
		}
		return reply, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(c.opts.Attempts),
	)
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.opts.Timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// 服务端读一次、回一次后关闭连接，所以一直读到 EOF
func (c *Client) exchangeStream(ctx context.Context, payload []byte) ([]byte, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.opts.Address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(conn, int64(c.opts.MaxReply)))
}

func (c *Client) exchangeDatagram(ctx context.Context, payload []byte) ([]byte, error) {
	target, err := net.ResolveUDPAddr("udp", c.opts.Address)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}
	defer pc.Close()
	if err := pc.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}

	if _, err := pc.WriteTo(payload, target); err != nil {
		return nil, err
	}

	buf := make([]byte, c.opts.MaxReply)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return nil, err
		}
		if !sameUDPAddr(from, target) {
			// 不是目标地址发来的包，忽略
			zerolog.Ctx(ctx).Debug().Str("from", from.String()).Msg("ignoring datagram from unexpected source")
			continue
		}
		return append([]byte(nil), buf[:n]...), nil
	}
}

func sameUDPAddr(a net.Addr, b *net.UDPAddr) bool {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return false
	}
	return ua.Port == b.Port && ua.IP.Equal(b.IP)
}
