package wsclient

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/cortexuvula/wsmessenger/internal/wstypes"
)

// testCallback records lifecycle and message events for assertions.
type testCallback struct {
	connected    chan struct{}
	disconnected chan wstypes.ErrorDetails
	messages     chan []byte
}

func newTestCallback() *testCallback {
	return &testCallback{
		connected:    make(chan struct{}, 1),
		disconnected: make(chan wstypes.ErrorDetails, 1),
		messages:     make(chan []byte, 16),
	}
}

func (c *testCallback) OnConnected()                           { c.connected <- struct{}{} }
func (c *testCallback) OnDisconnected(err wstypes.ErrorDetails) { c.disconnected <- err }
func (c *testCallback) OnMessageReceived(message []byte) {
	buf := make([]byte, len(message))
	copy(buf, message)
	c.messages <- buf
}

type testWriter struct {
	results chan wstypes.WriteStatus
}

func newTestWriter() *testWriter {
	return &testWriter{results: make(chan wstypes.WriteStatus, 16)}
}

func (w *testWriter) OnMessageWriteCompleted(status wstypes.WriteStatus) {
	w.results <- status
}

// echoServer starts a TLS+WebSocket echo server on 127.0.0.1 and returns
// its host, port, certificate pool, and a shutdown func.
func echoServer(t *testing.T) (host string, port uint16, pool *x509.CertPool, shutdown func()) {
	t.Helper()

	cert, der := selfSignedCert(t, "127.0.0.1")
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(portStr)

	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	pool = x509.NewCertPool()
	pool.AddCert(parsed)

	return host, uint16(p), pool, func() {
		srv.Close()
	}
}

func selfSignedCert(t *testing.T, host string) (tls.Certificate, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP(host)},
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, der
}

func TestNewTLSConfig(t *testing.T) {
	conf, err := NewTLSConfig("example.invalid")
	if err != nil {
		t.Fatalf("NewTLSConfig: %v", err)
	}
	if conf.ServerName != "example.invalid" {
		t.Errorf("ServerName = %q, want %q", conf.ServerName, "example.invalid")
	}
	if conf.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = %v, want VersionTLS13", conf.MinVersion)
	}
	if conf.RootCAs == nil {
		t.Error("RootCAs should be populated from the system trust store")
	}
}

func TestClientConnectSendReceiveClose(t *testing.T) {
	host, port, pool, shutdown := echoServer(t)
	defer shutdown()

	cb := newTestCallback()
	w := newTestWriter()
	tlsConfig := &tls.Config{ServerName: host, RootCAs: pool, MinVersion: tls.VersionTLS13}
	c := New(
		wstypes.ServerSettings{Host: host, Port: port, Target: "/ws"},
		tlsConfig,
		cb, w,
	)

	c.Open()

	select {
	case <-cb.connected:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnConnected")
	}

	if !c.IsConnected() {
		t.Fatal("IsConnected() should be true after handshake")
	}

	if !c.Send([]byte("ping")) {
		t.Fatal("Send() should be accepted once connected")
	}

	select {
	case status := <-w.results:
		if status != wstypes.WriteSuccess {
			t.Fatalf("write status = %v, want WriteSuccess", status)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for write completion")
	}

	select {
	case msg := <-cb.messages:
		if string(msg) != "ping" {
			t.Fatalf("received message = %q, want %q", msg, "ping")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}

	c.Close()

	select {
	case <-cb.disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnDisconnected")
	}

	if c.IsConnected() {
		t.Error("IsConnected() should be false after Close")
	}
}

func TestClientSendBeforeConnectedFails(t *testing.T) {
	cb := newTestCallback()
	w := newTestWriter()
	c := New(wstypes.ServerSettings{Host: "127.0.0.1", Port: 1, Target: "/ws"}, &tls.Config{ServerName: "127.0.0.1"}, cb, w)

	if c.Send([]byte("hello")) {
		t.Error("Send() before connecting should return false")
	}
}

func TestClientCloseBeforeOpenIsSafe(t *testing.T) {
	cb := newTestCallback()
	w := newTestWriter()
	c := New(wstypes.ServerSettings{Host: "127.0.0.1", Port: 1, Target: "/ws"}, &tls.Config{ServerName: "127.0.0.1"}, cb, w)

	c.Close()
	c.Close() // second call must be a no-op, not a panic
}

func TestClientConnectFailureReportsDisconnected(t *testing.T) {
	// Nothing listens on this port: TCP connect fails immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	cb := newTestCallback()
	w := newTestWriter()
	c := New(wstypes.ServerSettings{Host: host, Port: uint16(port), Target: "/ws"}, &tls.Config{ServerName: host}, cb, w)

	c.Open()

	select {
	case err := <-cb.disconnected:
		if err.Message == "" {
			t.Error("expected a non-empty error message")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnDisconnected")
	}

	if c.IsConnected() {
		t.Error("IsConnected() should be false after a failed connect")
	}
}

func TestClientDoubleCloseIsIdempotent(t *testing.T) {
	cb := newTestCallback()
	w := newTestWriter()
	c := New(wstypes.ServerSettings{Host: "127.0.0.1", Port: 1, Target: "/ws"}, &tls.Config{ServerName: "127.0.0.1"}, cb, w)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
}
