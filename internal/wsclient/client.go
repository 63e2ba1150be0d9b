// Package wsclient implements a single WebSocket connection's staged
// handshake, read pump, and exactly-once close path. It corresponds to
// the reference implementation's BeastClient.
package wsclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/cortexuvula/wsmessenger/internal/connector"
	"github.com/cortexuvula/wsmessenger/internal/wstypes"
)

// HandshakeTimeout bounds the TLS handshake and the WebSocket upgrade
// request, matching the reference implementation's ASYNC_TIMEOUT used
// for the lower-layer deadline before the WS "suggested" timeouts take
// over.
const HandshakeTimeout = 5 * time.Second

type connectionState int32

const (
	stateReady connectionState = iota
	stateConnected
	stateDisconnected
)

// Client owns one WebSocket connection: connect, send, receive, close.
// It is not safe to call Open concurrently with itself, but Send and
// Close may be called from any goroutine while a connection is open.
type Client struct {
	settings  wstypes.ServerSettings
	callback  wstypes.ClientCallback
	writer    wstypes.WriteCallback
	tlsConfig *tls.Config

	state      atomic.Int32
	shouldStop atomic.Bool

	conn    atomic.Pointer[websocket.Conn]
	lastErr atomic.Pointer[wstypes.ErrorDetails]
}

// NewTLSConfig builds the tls.Config one Engine shares across every
// session attempt for host, matching the reference implementation's
// InitializeTlsContext: verification is always on, and the platform trust
// store is loaded once up front so a corrupt or unreadable store fails
// Open before any connection attempt starts, rather than surfacing as a
// handshake error later.
func NewTLSConfig(host string) (*tls.Config, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("wsclient: loading system trust store: %w", err)
	}
	return &tls.Config{
		ServerName: host,
		RootCAs:    pool,
		MinVersion: tls.VersionTLS13,
	}, nil
}

// New creates a Client for the given server settings. tlsConfig is the
// TLS context the caller built once via NewTLSConfig (or an equivalent,
// e.g. a test pinning a self-signed certificate pool) and shares across
// every reconnect attempt. callback receives connection lifecycle and
// message events; writer receives write completion notifications for
// sends issued via Send.
func New(settings wstypes.ServerSettings, tlsConfig *tls.Config, callback wstypes.ClientCallback, writer wstypes.WriteCallback) *Client {
	return &Client{settings: settings, tlsConfig: tlsConfig, callback: callback, writer: writer}
}

// Open starts connecting in the background. It returns immediately;
// OnConnected or OnDisconnected report the outcome.
func (c *Client) Open() bool {
	c.lastErr.Store(nil)
	c.shouldStop.Store(false)
	c.state.Store(int32(stateReady))

	go c.run()

	return true
}

// Send writes message if the connection is currently established. The
// actual write happens on a separate goroutine; completion is reported
// through the WriteCallback passed to New, mirroring the reference
// implementation's asynchronous OnWrite callback.
func (c *Client) Send(message []byte) bool {
	if connectionState(c.state.Load()) != stateConnected {
		return false
	}

	conn := c.conn.Load()
	if conn == nil {
		return false
	}

	go c.performWrite(conn, message)
	return true
}

// IsConnected reports whether the WebSocket handshake has completed and
// the connection has not since been torn down.
func (c *Client) IsConnected() bool {
	return connectionState(c.state.Load()) == stateConnected
}

// Close tears the connection down. Safe to call multiple times and from
// any goroutine; only the first caller performs the teardown.
func (c *Client) Close() {
	if !c.prepareClose() {
		return
	}
	c.completeClose(nil)
}

func (c *Client) prepareClose() bool {
	return c.shouldStop.CompareAndSwap(false, true)
}

func (c *Client) closeInternal(err error) {
	if !c.prepareClose() {
		return
	}
	c.completeClose(err)
}

func (c *Client) completeClose(err error) {
	if err != nil {
		details := errorDetails(err)
		c.lastErr.Store(&details)
	}

	if conn := c.conn.Load(); conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}

	state := connectionState(c.state.Swap(int32(stateDisconnected)))
	if state != stateDisconnected {
		c.callback.OnDisconnected(c.lastErrorForReporting())
	}
}

func (c *Client) lastErrorForReporting() wstypes.ErrorDetails {
	if e := c.lastErr.Load(); e != nil {
		return *e
	}
	return wstypes.ErrorDetails{
		Message: "connection closed cleanly or no error was recorded",
	}
}

func (c *Client) run() {
	ctx := context.Background()

	rawConn, err := c.connect(ctx)
	if err != nil {
		c.closeInternal(err)
		return
	}

	tlsConn, err := c.handshakeTLS(ctx, rawConn)
	if err != nil {
		rawConn.Close()
		c.closeInternal(err)
		return
	}

	wsConn, err := c.handshakeWS(ctx, tlsConn)
	if err != nil {
		tlsConn.Close()
		c.closeInternal(err)
		return
	}

	c.conn.Store(wsConn)
	c.state.Store(int32(stateConnected))
	c.callback.OnConnected()

	c.readPump(ctx)
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	var conn connector.Connector
	if c.settings.Proxy != nil {
		conn = connector.NewProxy(connector.ProxySettings{
			Host:     c.settings.Proxy.Host,
			Port:     c.settings.Proxy.Port,
			Username: c.settings.Proxy.Username,
			Password: c.settings.Proxy.Password,
		})
	} else {
		conn = connector.NewDirect()
	}

	return conn.Connect(ctx, c.settings.Host, c.settings.Port)
}

func (c *Client) handshakeTLS(ctx context.Context, raw net.Conn) (*tls.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	tlsConn := tls.Client(raw, c.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("wsclient: TLS handshake: %w", err)
	}
	return tlsConn, nil
}

func (c *Client) handshakeWS(ctx context.Context, tlsConn *tls.Conn) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	url := fmt.Sprintf("wss://%s:%d%s", c.settings.Host, c.settings.Port, c.settings.Target)

	httpClient := &http.Client{
		Transport: &http.Transport{
			// DialTLSContext hands back the already-handshaked connection
			// from handshakeTLS so the transport does not attempt a second
			// TLS handshake on top of it.
			DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return tlsConn, nil
			},
		},
	}

	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("wsclient: WebSocket handshake: %w", err)
	}
	return wsConn, nil
}

// readPump performs one read at a time, the full-message-per-read shape
// the reference implementation relies on (Beast's flat_buffer accumulates
// one complete message per async_read).
func (c *Client) readPump(ctx context.Context) {
	conn := c.conn.Load()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.closeInternal(err)
			return
		}

		c.callback.OnMessageReceived(data)
	}
}

func (c *Client) performWrite(conn *websocket.Conn, message []byte) {
	err := conn.Write(context.Background(), websocket.MessageText, message)

	status := wstypes.WriteSuccess
	if err != nil {
		status = wstypes.WriteFailure
		c.closeInternal(err)
	}

	c.writer.OnMessageWriteCompleted(status)
}

func errorDetails(err error) wstypes.ErrorDetails {
	return wstypes.ErrorDetails{Message: err.Error()}
}
