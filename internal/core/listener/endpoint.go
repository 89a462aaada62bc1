package listener

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Transport selects the socket family a listener binds.
type Transport string

const (
	TransportStream   Transport = "stream"
	TransportDatagram Transport = "datagram"
)

// ParseTransport accepts the canonical names as well as "tcp" and "udp".
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stream", "tcp":
		return TransportStream, nil
	case "datagram", "udp":
		return TransportDatagram, nil
	default:
		return "", fmt.Errorf("unknown transport %q", s)
	}
}

func (t Transport) network() string {
	if t == TransportDatagram {
		return "udp"
	}
	return "tcp"
}

// Endpoint is a bind target or a peer address.
type Endpoint struct {
	Transport Transport `json:"transport"`
	Host      string    `json:"host"`
	Port      uint16    `json:"port"`
}

// Address returns host:port, suitable for net.Dial and net.Listen.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

func (e Endpoint) String() string {
	return string(e.Transport) + "://" + e.Address()
}

func endpointFromAddr(t Transport, addr net.Addr) Endpoint {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return Endpoint{Transport: t, Host: ipHost(a.IP, a.Zone), Port: uint16(a.Port)}
	case *net.UDPAddr:
		return Endpoint{Transport: t, Host: ipHost(a.IP, a.Zone), Port: uint16(a.Port)}
	case nil:
		return Endpoint{Transport: t}
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Endpoint{Transport: t, Host: addr.String()}
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return Endpoint{Transport: t, Host: host, Port: uint16(port)}
}

func ipHost(ip net.IP, zone string) string {
	if zone != "" {
		return ip.String() + "%" + zone
	}
	return ip.String()
}
