// Package handler holds the stock handlers a listener can be configured with.
package handler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"netloop/internal/core/listener"
)

const defaultPage = `<html>
  <body>
    <h1>Hello from netloop!</h1>
  </body>
</html>
`

// Echo returns every payload unchanged.
func Echo() listener.Handler {
	return listener.HandlerFunc(func(_ context.Context, payload []byte, _ listener.Endpoint) ([]byte, error) {
		return payload, nil
	})
}

// Reply answers every payload with the same fixed message.
func Reply(msg []byte) listener.Handler {
	fixed := bytes.Clone(msg)
	if fixed == nil {
		fixed = []byte{}
	}
	return listener.HandlerFunc(func(ctx context.Context, payload []byte, _ listener.Endpoint) ([]byte, error) {
		zerolog.Ctx(ctx).Debug().Int("bytes", len(payload)).Msg("Replying with fixed message")
		return fixed, nil
	})
}

// Discard accepts everything and never answers.
func Discard() listener.Handler {
	return listener.HandlerFunc(func(context.Context, []byte, listener.Endpoint) ([]byte, error) {
		return nil, nil
	})
}

// UserAgent parses the payload as a single HTTP request and reports its
// User-Agent header back as text/plain.
func UserAgent() listener.Handler {
	return listener.HandlerFunc(func(ctx context.Context, payload []byte, _ listener.Endpoint) ([]byte, error) {
		req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload)))
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("Malformed HTTP request")
			return httpResponse(http.StatusBadRequest, "text/plain; charset=utf-8", []byte("Bad Request\n")), nil
		}
		ua := req.UserAgent()
		if ua == "" {
			ua = "Unknown"
		}
		body := fmt.Sprintf("Your user-agent is:\n\n%s", ua)
		return httpResponse(http.StatusOK, "text/plain; charset=utf-8", []byte(body)), nil
	})
}

// Page serves a static HTML document to any HTTP request.
func Page(html string) listener.Handler {
	if strings.TrimSpace(html) == "" {
		html = defaultPage
	}
	resp := httpResponse(http.StatusOK, "text/html; charset=utf-8", []byte(html))
	return listener.HandlerFunc(func(_ context.Context, payload []byte, _ listener.Endpoint) ([]byte, error) {
		if _, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload))); err != nil {
			return httpResponse(http.StatusBadRequest, "text/plain; charset=utf-8", []byte("Bad Request\n")), nil
		}
		return resp, nil
	})
}

// Lookup maps a configured handler name to a handler.
func Lookup(name, reply string) (listener.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "echo":
		return Echo(), nil
	case "reply":
		if reply == "" {
			return nil, fmt.Errorf("handler %q needs a reply message", name)
		}
		return Reply([]byte(reply)), nil
	case "discard":
		return Discard(), nil
	case "useragent", "user-agent":
		return UserAgent(), nil
	case "page":
		return Page(reply), nil
	}
	return nil, fmt.Errorf("unknown handler %q", name)
}

// httpResponse renders a complete HTTP/1.1 response that asks the client to
// close; one read in, one write out, then the listener closes anyway.
func httpResponse(status int, contentType string, body []byte) []byte {
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {contentType}},
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		Close:         true,
	}
	var buf bytes.Buffer
	_ = resp.Write(&buf)
	return buf.Bytes()
}
