// Package connector establishes the raw stream that the TLS and WebSocket
// handshakes run over, including optional HTTP CONNECT proxy tunneling.
package connector

import (
	"context"
	"net"
	"time"
)

// DialTimeout bounds DNS resolution plus TCP connect, matching the
// reference implementation's ASYNC_TIMEOUT.
const DialTimeout = 5 * time.Second

// ProxyHandshakeTimeout bounds the full CONNECT request/response
// round trip through a proxy.
const ProxyHandshakeTimeout = 10 * time.Second

// UserAgent identifies this client in the CONNECT request sent to a
// proxy. Unlike the reference implementation this is a fixed constant
// rather than a process-wide cached value computed at first use.
const UserAgent = "wsmessenger/1.0 (+https://github.com/cortexuvula/wsmessenger)"

// Connector establishes a net.Conn ready for a TLS handshake against
// host:port. A Direct connector dials the target directly; a Proxy
// connector tunnels through an HTTP CONNECT proxy first.
type Connector interface {
	Connect(ctx context.Context, host string, port uint16) (net.Conn, error)
}
