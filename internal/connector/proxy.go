package connector

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ProxySettings carries the proxy address and optional Basic auth
// credentials used to build the CONNECT request.
type ProxySettings struct {
	Host     string
	Port     uint16
	Username string
	Password string
}

// Proxy tunnels a connection to host:port through an HTTP CONNECT proxy
// before handing the raw stream back for a TLS handshake.
type Proxy struct {
	Settings ProxySettings
	direct   *Direct
}

// NewProxy returns a Proxy connector that first dials the proxy itself
// with a Direct connector, then issues the CONNECT request.
func NewProxy(settings ProxySettings) *Proxy {
	return &Proxy{Settings: settings, direct: NewDirect()}
}

func (p *Proxy) Connect(ctx context.Context, host string, port uint16) (net.Conn, error) {
	conn, err := p.direct.Connect(ctx, p.Settings.Host, p.Settings.Port)
	if err != nil {
		return nil, fmt.Errorf("connector: dial proxy %s:%d: %w", p.Settings.Host, p.Settings.Port, err)
	}

	ctx, cancel := context.WithTimeout(ctx, ProxyHandshakeTimeout)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	defer conn.SetDeadline(time.Time{})

	target := net.JoinHostPort(host, strconv.Itoa(int(port)))

	header := make(http.Header)
	header.Set("Host", p.Settings.Host)
	header.Set("User-Agent", UserAgent)
	header.Set("Proxy-Connection", "Keep-Alive")
	header.Set("Connection", "Keep-Alive")
	if p.Settings.Username != "" {
		header.Set("Proxy-Authorization", "Basic "+encodeProxyAuth(p.Settings.Username, p.Settings.Password))
	}

	if err := writeConnectRequest(conn, target, header); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connector: write CONNECT request: %w", err)
	}

	reader := bufio.NewReader(conn)
	connectReq, _ := http.NewRequest(http.MethodConnect, "", nil)
	resp, err := http.ReadResponse(reader, connectReq)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connector: read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("connector: proxy CONNECT failed: %s", resp.Status)
	}

	if reader.Buffered() > 0 {
		conn.Close()
		return nil, fmt.Errorf("connector: proxy sent data before TLS handshake")
	}

	return conn, nil
}

func encodeProxyAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// writeConnectRequest writes a CONNECT request line and header block in
// the exact order the reference implementation emits them: Host,
// User-Agent, Proxy-Connection, Connection, then an optional
// Proxy-Authorization.
func writeConnectRequest(w net.Conn, target string, header http.Header) error {
	buf := make([]byte, 0, 256)
	buf = append(buf, "CONNECT "+target+" HTTP/1.1\r\n"...)
	buf = appendHeader(buf, "Host", header.Get("Host"))
	buf = appendHeader(buf, "User-Agent", header.Get("User-Agent"))
	buf = appendHeader(buf, "Proxy-Connection", header.Get("Proxy-Connection"))
	buf = appendHeader(buf, "Connection", header.Get("Connection"))
	if auth := header.Get("Proxy-Authorization"); auth != "" {
		buf = appendHeader(buf, "Proxy-Authorization", auth)
	}
	buf = append(buf, "\r\n"...)

	_, err := w.Write(buf)
	return err
}

func appendHeader(buf []byte, key, value string) []byte {
	buf = append(buf, key...)
	buf = append(buf, ": "...)
	buf = append(buf, value...)
	buf = append(buf, "\r\n"...)
	return buf
}
