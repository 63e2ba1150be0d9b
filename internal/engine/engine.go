// Package engine implements the Session Engine: the reconnect-supervising
// state machine that owns a wsclient.Client, a send policy, and the I/O
// loop goroutine they both run on. It corresponds to the reference
// implementation's BeastMessenger.
package engine

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cortexuvula/wsmessenger/internal/metrics"
	"github.com/cortexuvula/wsmessenger/internal/sendpolicy"
	"github.com/cortexuvula/wsmessenger/internal/wsclient"
	"github.com/cortexuvula/wsmessenger/internal/wstypes"
)

// ReconnectDelay is the minimum spacing between consecutive reconnect
// attempts, matching the reference implementation's ReconnectDelay.
const ReconnectDelay = 5 * time.Second

// workQueueCapacity bounds the I/O loop's task channel. The loop only ever
// has a handful of posted closures in flight (callbacks, reconnect ticks,
// Close's teardown task), so a small buffer avoids blocking callers without
// hiding a real backlog.
const workQueueCapacity = 64

// closeTimeout bounds how long Close waits for the I/O loop to run the
// teardown task before giving up and tearing down the goroutine anyway.
const closeTimeout = 5 * time.Second

// wsClient is the subset of wsclient.Client that Engine depends on. It
// exists so tests can substitute a fake transport without opening a real
// socket, mirroring the reference implementation's client_factory_
// template parameter.
type wsClient interface {
	Open() bool
	Send(message []byte) bool
	IsConnected() bool
	Close()
}

// ClientFactory constructs the transport for one connection attempt.
// tlsConfig is the engine's shared TLS context, built once in Open and
// passed unchanged to every client created over the engine's lifetime.
type ClientFactory func(settings wstypes.ServerSettings, tlsConfig *tls.Config, callback wstypes.ClientCallback, writer wstypes.WriteCallback) wsClient

func defaultClientFactory(settings wstypes.ServerSettings, tlsConfig *tls.Config, callback wstypes.ClientCallback, writer wstypes.WriteCallback) wsClient {
	return wsclient.New(settings, tlsConfig, callback, writer)
}

// Option adjusts Engine construction.
type Option func(*Engine)

// WithClientFactory overrides how the engine constructs its transport.
// Intended for tests; production callers should not need this.
func WithClientFactory(factory ClientFactory) Option {
	return func(e *Engine) { e.clientFactory = factory }
}

// WithLogger attaches a structured logger for lifecycle events. Defaults
// to slog.Default() if not given.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSendPolicyFactory selects a caller-supplied send policy, required
// when behavior is wstypes.SendCustom and rejected otherwise.
func WithSendPolicyFactory(factory sendpolicy.Factory) Option {
	return func(e *Engine) { e.policyFactory = factory }
}

// WithReconnectDelay overrides the minimum spacing between reconnect
// attempts. Defaults to ReconnectDelay; mainly useful for tests.
func WithReconnectDelay(d time.Duration) Option {
	return func(e *Engine) { e.reconnectDelay = d }
}

// WithMetrics attaches a Prometheus metrics sink. Traffic counters, queue
// depth, reconnect attempts, critical failures, and phase transitions are
// recorded on it as they happen. Nil (the default) disables recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the reconnect-supervising session engine. One Engine drives
// one logical connection across however many physical reconnects it takes.
type Engine struct {
	callback wstypes.Callback
	config   wstypes.ConnectionConfig
	behavior wstypes.SendBehavior

	clientFactory ClientFactory
	policyFactory sendpolicy.Factory
	sendPolicy    sendpolicy.Policy
	logger        *slog.Logger
	metrics       *metrics.Metrics

	tlsConfig *tls.Config

	stopRequested                  atomic.Bool
	pendingCriticalFailureHandling atomic.Bool
	loopStarted                    atomic.Bool
	inLoop                         atomic.Bool
	phase                          atomic.Int32

	work     chan func()
	quit     chan struct{}
	loopDone chan struct{}

	clientMu sync.RWMutex
	client   wsClient

	stats stats

	// reconnectAttempts, lastReconnectAttempt, reconnectTimer are only
	// ever touched from within a closure running on the I/O loop
	// goroutine, mirroring the single-threaded invariant the reference
	// implementation gets for free from its single io_context thread.
	reconnectAttempts    int
	lastReconnectAttempt time.Time
	reconnectTimer       *time.Timer
	reconnectGeneration  atomic.Uint64
	reconnectDelay       time.Duration
}

// New creates an Engine bound to callback and config. behavior selects the
// send policy; a factory given via WithSendPolicyFactory is required for
// wstypes.SendCustom and rejected otherwise.
func New(callback wstypes.Callback, config wstypes.ConnectionConfig, behavior wstypes.SendBehavior, opts ...Option) (*Engine, error) {
	e := &Engine{
		callback:       callback,
		config:         config,
		behavior:       behavior,
		clientFactory:  defaultClientFactory,
		logger:         slog.Default(),
		reconnectDelay: ReconnectDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.setPhase(wstypes.PhaseIdle)

	if err := e.initializeSendPolicy(); err != nil {
		return nil, err
	}
	return e, nil
}

// setPhase updates the coarse lifecycle state and, if a metrics sink is
// attached, mirrors it onto the ConnectionPhase gauge.
func (e *Engine) setPhase(p wstypes.Phase) {
	e.phase.Store(int32(p))
	if e.metrics != nil {
		e.metrics.SetPhase(int(p))
	}
}

func (e *Engine) initializeSendPolicy() error {
	switch e.behavior {
	case wstypes.SendCustom:
		if e.policyFactory == nil {
			return errors.New("engine: custom send policy factory must be provided for SendCustom behavior")
		}
		e.sendPolicy = e.policyFactory.Create(e)
	case wstypes.SendSync:
		if e.policyFactory != nil {
			return errors.New("engine: send policy factory provided for non-custom send behavior")
		}
		e.sendPolicy = sendpolicy.NewSync(e)
	case wstypes.SendAsync:
		if e.policyFactory != nil {
			return errors.New("engine: send policy factory provided for non-custom send behavior")
		}
		e.sendPolicy = sendpolicy.NewAsync(e)
	default:
		return fmt.Errorf("engine: unsupported send behavior %v", e.behavior)
	}
	return nil
}

// Open starts the I/O loop and begins connecting. It returns immediately;
// Callback reports the outcome. A second call without an intervening
// Close is a no-op that returns false: it does not spawn a second I/O
// loop or leak the client from the first Open.
func (e *Engine) Open() bool {
	if !e.loopStarted.CompareAndSwap(false, true) {
		return false
	}

	tlsConfig, err := wsclient.NewTLSConfig(e.config.Server.Host)
	if err != nil {
		e.logger.Error("TLS context setup failed", "error", err)
		e.loopStarted.Store(false)
		return false
	}
	e.tlsConfig = tlsConfig

	e.work = make(chan func(), workQueueCapacity)
	e.quit = make(chan struct{})
	e.loopDone = make(chan struct{})

	go e.runLoop()

	opened := make(chan bool, 1)
	e.postToIOLoop(func() { opened <- e.createAndOpenClient() })
	if !<-opened {
		e.Close()
		return false
	}
	return true
}

// Send hands message to the configured send policy.
func (e *Engine) Send(message []byte) bool {
	if e.stopRequested.Load() || e.sendPolicy == nil {
		return false
	}
	return e.sendPolicy.Send(message)
}

// Close tears the engine down. Safe to call multiple times and before
// Open; only the first caller performs the teardown.
func (e *Engine) Close() {
	if !e.stopRequested.CompareAndSwap(false, true) {
		return
	}
	if !e.loopStarted.Load() {
		return
	}

	done := make(chan struct{})
	e.postToIOLoop(func() {
		e.closeInternal()
		e.setPhase(wstypes.PhaseStopped)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(closeTimeout):
		e.logger.Warn("engine close timed out waiting for I/O loop teardown")
	}

	close(e.quit)
	<-e.loopDone
}

// GetConnectionStats returns a point-in-time snapshot of traffic counters.
func (e *Engine) GetConnectionStats() wstypes.ConnectionStats {
	return e.stats.snapshot()
}

// Phase reports the engine's coarse lifecycle state.
func (e *Engine) Phase() wstypes.Phase {
	return wstypes.Phase(e.phase.Load())
}

// ReconnectAttemptCount reports the number of reconnect attempts made
// since the last successful connection or explicit ScheduleReconnect.
func (e *Engine) ReconnectAttemptCount() int {
	result := make(chan int, 1)
	if !e.loopStarted.Load() {
		return 0
	}
	select {
	case e.work <- func() { result <- e.reconnectAttempts }:
		return <-result
	case <-e.quit:
		return 0
	}
}

// ScheduleReconnect resumes retrying after a critical failure, optionally
// against new server settings. It fails if no critical failure is
// currently pending.
func (e *Engine) ScheduleReconnect(settings *wstypes.ServerSettings) bool {
	if e.stopRequested.Load() {
		return false
	}
	if !e.pendingCriticalFailureHandling.CompareAndSwap(true, false) {
		return false
	}

	e.postToIOLoop(func() { e.startReconnectInternal(settings) })
	return true
}

// --- sendpolicy.Context ---

func (e *Engine) IsClientConnected() bool {
	c := e.getClient()
	return c != nil && c.IsConnected()
}

func (e *Engine) HasClient() bool { return e.getClient() != nil }

func (e *Engine) IsReadyForSynchronousSend() bool {
	return e.loopStarted.Load() && e.HasClient()
}

func (e *Engine) IsInIOLoopGoroutine() bool { return e.inLoop.Load() }

func (e *Engine) MaxSendQueueSize() int { return e.config.MaxSendQueueSize }

func (e *Engine) PostToIOLoop(fn func()) { e.postToIOLoop(fn) }

func (e *Engine) ClientSend(message []byte) bool {
	c := e.getClient()
	if c == nil {
		return false
	}
	return c.Send(message)
}

func (e *Engine) IncrementCurrentQueueSize() {
	e.stats.incrementQueueSize()
	e.reportQueueSize()
}

func (e *Engine) DecrementCurrentQueueSize() {
	e.stats.decrementQueueSize()
	e.reportQueueSize()
}

func (e *Engine) RecordMessageSent(bytes int) {
	e.stats.recordSent(bytes)
	if e.metrics != nil {
		e.metrics.RecordSent(bytes)
	}
}

func (e *Engine) reportQueueSize() {
	if e.metrics != nil {
		e.metrics.SetQueueSize(int64(e.stats.snapshot().CurrentSendQueueSize))
	}
}

// --- wstypes.ClientCallback / wstypes.WriteCallback ---
// Every client-sourced event is posted onto the I/O loop so callbacks
// never run concurrently with each other or with the reconnect state
// machine, matching the single io_context thread guarantee the reference
// implementation gets from Asio.

func (e *Engine) OnMessageReceived(message []byte) {
	e.postToIOLoop(func() {
		e.stats.recordReceived(len(message))
		if e.metrics != nil {
			e.metrics.RecordReceived(len(message))
		}
		e.callback.OnMessageReceived(message)
	})
}

func (e *Engine) OnConnected() {
	e.postToIOLoop(func() {
		e.setPhase(wstypes.PhaseConnected)
		e.callback.OnConnected()
		e.reconnectAttempts = 0
		if e.sendPolicy != nil {
			e.sendPolicy.OnConnected()
		}
	})
}

func (e *Engine) OnDisconnected(errDetails wstypes.ErrorDetails) {
	e.postToIOLoop(func() {
		e.setPhase(wstypes.PhaseDisconnected)
		e.callback.OnDisconnected(errDetails)
		e.waitAndReconnect()
	})
}

func (e *Engine) OnMessageWriteCompleted(status wstypes.WriteStatus) {
	e.postToIOLoop(func() {
		if e.sendPolicy != nil {
			e.sendPolicy.OnMessageWriteCompleted(status)
		}
	})
}

// --- I/O loop ---

func (e *Engine) runLoop() {
	defer close(e.loopDone)
	for {
		select {
		case fn := <-e.work:
			e.inLoop.Store(true)
			fn()
			e.inLoop.Store(false)
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) postToIOLoop(fn func()) {
	select {
	case e.work <- fn:
	case <-e.quit:
	}
}

func (e *Engine) getClient() wsClient {
	e.clientMu.RLock()
	defer e.clientMu.RUnlock()
	return e.client
}

func (e *Engine) setClient(c wsClient) {
	e.clientMu.Lock()
	e.client = c
	e.clientMu.Unlock()
}

// --- reconnect state machine, grounded on BeastMessenger's
// CreateAndOpenClient/CloseInternal/HandleReconnect/WaitAndReconnect/
// OnReconnect. Only ever invoked from within a closure running on the
// I/O loop goroutine. ---

func (e *Engine) createAndOpenClient() bool {
	e.lastReconnectAttempt = time.Now()
	e.setPhase(wstypes.PhaseConnecting)

	client := e.clientFactory(e.config.Server, e.tlsConfig, e, e)
	e.setClient(client)

	return client.Open()
}

func (e *Engine) closeInternal() {
	if c := e.getClient(); c != nil {
		c.Close()
		e.setClient(nil)
	}
	e.cancelReconnectTimer()
}

func (e *Engine) startReconnectInternal(settings *wstypes.ServerSettings) {
	if settings != nil {
		e.config.Server = *settings
	}

	e.closeInternal()

	e.reconnectAttempts = 0
	e.handleReconnect()
}

func (e *Engine) handleReconnect() {
	if e.stopRequested.Load() {
		return
	}

	e.reconnectAttempts++
	if e.metrics != nil {
		e.metrics.IncReconnectAttempt()
	}

	if e.isCriticalFailureThresholdBreached() {
		e.pendingCriticalFailureHandling.Store(true)
		e.setPhase(wstypes.PhaseCriticalFailure)
		if e.metrics != nil {
			e.metrics.IncCriticalFailure()
		}
		e.logger.Error("critical failure: reconnect attempts exhausted",
			"attempts", e.reconnectAttempts,
			"threshold", e.config.CriticalFailureThreshold)
		e.callback.SignalCriticalFailure()
		return
	}

	if e.reconnectAttempts > 1 {
		e.logger.Warn("reconnecting", "attempt", e.reconnectAttempts)
	}

	if e.createAndOpenClient() {
		return
	}

	e.waitAndReconnect()
}

func (e *Engine) waitAndReconnect() {
	if e.stopRequested.Load() {
		return
	}

	if e.isCriticalFailureThresholdBreached() {
		e.handleReconnect()
		return
	}

	waitDuration := time.Since(e.lastReconnectAttempt)
	if waitDuration < e.reconnectDelay {
		waitDuration = e.reconnectDelay - waitDuration
	} else {
		waitDuration = time.Second
	}

	e.armReconnectTimer(waitDuration)
}

func (e *Engine) armReconnectTimer(d time.Duration) {
	e.cancelReconnectTimer()

	gen := e.reconnectGeneration.Add(1)
	e.reconnectTimer = time.AfterFunc(d, func() {
		e.postToIOLoop(func() { e.onReconnectFired(gen) })
	})
}

func (e *Engine) cancelReconnectTimer() {
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	e.reconnectGeneration.Add(1)
}

func (e *Engine) onReconnectFired(gen uint64) {
	if gen != e.reconnectGeneration.Load() {
		return // superseded by a later arm/cancel; the Asio equivalent of operation_aborted
	}
	e.handleReconnect()
}

func (e *Engine) isCriticalFailureThresholdBreached() bool {
	return e.reconnectAttempts > e.config.CriticalFailureThreshold
}
