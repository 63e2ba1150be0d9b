package engine

import (
	"crypto/tls"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cortexuvula/wsmessenger/internal/sendpolicy"
	"github.com/cortexuvula/wsmessenger/internal/wstypes"
)

type fakeCallback struct {
	connected    chan struct{}
	disconnected chan wstypes.ErrorDetails
	critical     chan struct{}
	messages     chan []byte
}

func newFakeCallback() *fakeCallback {
	return &fakeCallback{
		connected:    make(chan struct{}, 16),
		disconnected: make(chan wstypes.ErrorDetails, 16),
		critical:     make(chan struct{}, 16),
		messages:     make(chan []byte, 16),
	}
}

func (c *fakeCallback) OnMessageReceived(message []byte)       { c.messages <- message }
func (c *fakeCallback) OnConnected()                           { c.connected <- struct{}{} }
func (c *fakeCallback) OnDisconnected(err wstypes.ErrorDetails) { c.disconnected <- err }
func (c *fakeCallback) SignalCriticalFailure()                 { c.critical <- struct{}{} }

// fakeClient is a controllable wsClient stand-in so reconnect behavior can
// be driven deterministically without a real socket.
type fakeClient struct {
	callback    wstypes.ClientCallback
	writer      wstypes.WriteCallback
	succeedOpen bool

	connected atomic.Bool
	closed    atomic.Bool
}

// Open always reports acceptance, like wsclient.Client's Open: a connect
// failure surfaces later via OnDisconnected, not a false return here.
func (f *fakeClient) Open() bool {
	if f.succeedOpen {
		f.connected.Store(true)
		f.callback.OnConnected()
	} else {
		f.callback.OnDisconnected(wstypes.ErrorDetails{Message: "simulated connect failure"})
	}
	return true
}

func (f *fakeClient) Send(message []byte) bool {
	if !f.connected.Load() {
		return false
	}
	go f.writer.OnMessageWriteCompleted(wstypes.WriteSuccess)
	return true
}

func (f *fakeClient) IsConnected() bool { return f.connected.Load() }

func (f *fakeClient) Close() {
	if f.closed.CompareAndSwap(false, true) && f.connected.Swap(false) {
		f.callback.OnDisconnected(wstypes.ErrorDetails{Message: "closed"})
	}
}

// disconnect simulates the remote end dropping the connection.
func (f *fakeClient) disconnect() {
	if f.closed.CompareAndSwap(false, true) && f.connected.Swap(false) {
		f.callback.OnDisconnected(wstypes.ErrorDetails{Message: "simulated failure"})
	}
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	succeed func(attempt int) bool
}

func (f *fakeFactory) factory() ClientFactory {
	return func(settings wstypes.ServerSettings, tlsConfig *tls.Config, callback wstypes.ClientCallback, writer wstypes.WriteCallback) wsClient {
		f.mu.Lock()
		attempt := len(f.clients) + 1
		f.mu.Unlock()

		succeed := true
		if f.succeed != nil {
			succeed = f.succeed(attempt)
		}

		c := &fakeClient{callback: callback, writer: writer, succeedOpen: succeed}

		f.mu.Lock()
		f.clients = append(f.clients, c)
		f.mu.Unlock()

		return c
	}
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[len(f.clients)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

type fakePolicyFactory struct{}

func (fakePolicyFactory) Create(ctx sendpolicy.Context) sendpolicy.Policy {
	return sendpolicy.NewAsync(ctx)
}

func defaultConfig() wstypes.ConnectionConfig {
	return wstypes.ConnectionConfig{
		Server:                   wstypes.ServerSettings{Host: "example.invalid", Port: 443, Target: "/ws"},
		CriticalFailureThreshold: 3,
		MaxSendQueueSize:         16,
	}
}

func TestEngineOpenConnectsAndReportsConnected(t *testing.T) {
	cb := newFakeCallback()
	factory := &fakeFactory{}

	e, err := New(cb, defaultConfig(), wstypes.SendAsync, WithClientFactory(factory.factory()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !e.Open() {
		t.Fatal("Open() = false, want true")
	}
	defer e.Close()

	select {
	case <-cb.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnConnected")
	}

	if e.Phase() != wstypes.PhaseConnected {
		t.Errorf("Phase() = %v, want PhaseConnected", e.Phase())
	}
}

func TestEngineSendAsyncDeliversAfterConnect(t *testing.T) {
	cb := newFakeCallback()
	factory := &fakeFactory{}

	e, _ := New(cb, defaultConfig(), wstypes.SendAsync, WithClientFactory(factory.factory()))
	e.Open()
	defer e.Close()

	<-cb.connected

	if !e.Send([]byte("hi")) {
		t.Fatal("Send() should be accepted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats := e.GetConnectionStats()
		if stats.TotalMessagesSent == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats never reflected sent message: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineReconnectsAfterDisconnect(t *testing.T) {
	cb := newFakeCallback()
	factory := &fakeFactory{}

	e, _ := New(cb, defaultConfig(), wstypes.SendAsync,
		WithClientFactory(factory.factory()),
		WithReconnectDelay(20*time.Millisecond))
	e.Open()
	defer e.Close()

	<-cb.connected

	factory.last().disconnect()

	select {
	case <-cb.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnDisconnected")
	}

	select {
	case <-cb.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect's OnConnected")
	}

	if factory.count() < 2 {
		t.Fatalf("expected a second client to be created, factory.count() = %d", factory.count())
	}
}

func TestEngineCriticalFailureAfterThresholdBreached(t *testing.T) {
	cb := newFakeCallback()
	factory := &fakeFactory{
		succeed: func(attempt int) bool { return false },
	}

	cfg := defaultConfig()
	cfg.CriticalFailureThreshold = 2

	e, _ := New(cb, cfg, wstypes.SendAsync,
		WithClientFactory(factory.factory()),
		WithReconnectDelay(5*time.Millisecond))

	e.Open()
	defer e.Close()

	select {
	case <-cb.critical:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SignalCriticalFailure")
	}
}

func TestEngineScheduleReconnectResumesAfterCriticalFailure(t *testing.T) {
	cb := newFakeCallback()
	var shouldSucceed atomic.Bool

	factory := &fakeFactory{
		succeed: func(attempt int) bool { return shouldSucceed.Load() },
	}

	cfg := defaultConfig()
	cfg.CriticalFailureThreshold = 1

	e, _ := New(cb, cfg, wstypes.SendAsync,
		WithClientFactory(factory.factory()),
		WithReconnectDelay(5*time.Millisecond))

	e.Open()
	defer e.Close()

	select {
	case <-cb.critical:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SignalCriticalFailure")
	}

	shouldSucceed.Store(true)

	if !e.ScheduleReconnect(nil) {
		t.Fatal("ScheduleReconnect() should succeed after a critical failure")
	}

	select {
	case <-cb.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnConnected after ScheduleReconnect")
	}
}

func TestEngineScheduleReconnectFailsWithoutPendingCriticalFailure(t *testing.T) {
	cb := newFakeCallback()
	factory := &fakeFactory{}

	e, _ := New(cb, defaultConfig(), wstypes.SendAsync, WithClientFactory(factory.factory()))
	e.Open()
	defer e.Close()

	<-cb.connected

	if e.ScheduleReconnect(nil) {
		t.Fatal("ScheduleReconnect() should fail when no critical failure is pending")
	}
}

func TestEngineOpenTwiceIsIdempotent(t *testing.T) {
	cb := newFakeCallback()
	factory := &fakeFactory{}

	e, _ := New(cb, defaultConfig(), wstypes.SendAsync, WithClientFactory(factory.factory()))

	if !e.Open() {
		t.Fatal("first Open() = false, want true")
	}
	defer e.Close()

	<-cb.connected

	if e.Open() {
		t.Fatal("second Open() without an intervening Close should return false")
	}

	if factory.count() != 1 {
		t.Fatalf("factory.count() = %d, want 1 (second Open must not create another client)", factory.count())
	}
}

func TestEngineCloseIsIdempotentAndSafeBeforeOpen(t *testing.T) {
	cb := newFakeCallback()
	e, _ := New(cb, defaultConfig(), wstypes.SendAsync)

	e.Close()
	e.Close()
}

func TestEngineCustomSendPolicyRequiresFactory(t *testing.T) {
	cb := newFakeCallback()
	if _, err := New(cb, defaultConfig(), wstypes.SendCustom); err == nil {
		t.Fatal("expected an error when SendCustom has no factory")
	}
}

func TestEngineRejectsFactoryForNonCustomBehavior(t *testing.T) {
	cb := newFakeCallback()
	if _, err := New(cb, defaultConfig(), wstypes.SendSync, WithSendPolicyFactory(fakePolicyFactory{})); err == nil {
		t.Fatal("expected an error when a send policy factory is given for non-custom behavior")
	}
}

// alwaysFailOpenClient models a transport that cannot even start an
// attempt (as opposed to one that starts and later reports failure via
// OnDisconnected).
type alwaysFailOpenClient struct{}

func (alwaysFailOpenClient) Open() bool        { return false }
func (alwaysFailOpenClient) Send([]byte) bool  { return false }
func (alwaysFailOpenClient) IsConnected() bool { return false }
func (alwaysFailOpenClient) Close()            {}

func TestEngineOpenFailsWhenClientOpenReturnsFalse(t *testing.T) {
	cb := newFakeCallback()
	factory := func(settings wstypes.ServerSettings, tlsConfig *tls.Config, callback wstypes.ClientCallback, writer wstypes.WriteCallback) wsClient {
		return alwaysFailOpenClient{}
	}

	e, _ := New(cb, defaultConfig(), wstypes.SendAsync, WithClientFactory(factory))
	if e.Open() {
		t.Fatal("Open() should return false when the client fails to open")
	}
}
