// Package wsmessenger is an embeddable client for maintaining one
// resilient, TLS-secured WebSocket session: connect, send, receive,
// automatic reconnect with a critical-failure backstop, and stats/status
// reporting. It corresponds to the reference implementation's
// WebSocketMessenger / BeastMessenger pairing.
package wsmessenger

import (
	"log/slog"

	"github.com/cortexuvula/wsmessenger/internal/engine"
	"github.com/cortexuvula/wsmessenger/internal/eventring"
	"github.com/cortexuvula/wsmessenger/internal/metrics"
	"github.com/cortexuvula/wsmessenger/internal/wstypes"
)

// Metrics is the Prometheus metrics sink a Messenger can record traffic,
// queue, reconnect, and phase events onto. Host programs construct one
// with NewMetrics and pass it to WithMetrics, then expose it however
// they expose their own metrics (e.g. promhttp.Handler on an HTTP mux).
type Metrics = metrics.Metrics

// NewMetrics creates and registers the Prometheus metrics for one
// Messenger with the default registerer.
var NewMetrics = metrics.New

// Data model, re-exported from internal/wstypes so the root package has a
// single source of truth for these types without internal packages having
// to import the root package back.
type (
	ProxySettings    = wstypes.ProxySettings
	ServerSettings   = wstypes.ServerSettings
	ConnectionConfig = wstypes.ConnectionConfig
	ErrorDetails     = wstypes.ErrorDetails
	ConnectionStats  = wstypes.ConnectionStats
	SendBehavior     = wstypes.SendBehavior
	WriteStatus      = wstypes.WriteStatus
	Callback         = wstypes.Callback
	WriteCallback    = wstypes.WriteCallback
	Phase            = wstypes.Phase
)

const (
	SendSync   = wstypes.SendSync
	SendAsync  = wstypes.SendAsync
	SendCustom = wstypes.SendCustom
)

const (
	WriteSuccess = wstypes.WriteSuccess
	WriteFailure = wstypes.WriteFailure
	WriteTimeout = wstypes.WriteTimeout
)

const (
	PhaseIdle            = wstypes.PhaseIdle
	PhaseConnecting      = wstypes.PhaseConnecting
	PhaseConnected       = wstypes.PhaseConnected
	PhaseDisconnected    = wstypes.PhaseDisconnected
	PhaseCriticalFailure = wstypes.PhaseCriticalFailure
	PhaseStopped         = wstypes.PhaseStopped
)

// DefaultConnectionConfig returns a ConnectionConfig with the same
// defaults as the reference implementation (5 critical-failure retries,
// a 1024-message async send queue).
var DefaultConnectionConfig = wstypes.DefaultConnectionConfig

const defaultEventHistorySize = 64

// options accumulates the functional options passed to New.
type options struct {
	behavior      SendBehavior
	policyFactory SendPolicyFactory
	logger        *slog.Logger
	eventHistory  int
	metrics       *Metrics
}

// Option configures a Messenger at construction time.
type Option func(*options)

// WithSendBehavior selects how Send hands a message to the transport.
// Defaults to SendSync.
func WithSendBehavior(behavior SendBehavior) Option {
	return func(o *options) { o.behavior = behavior }
}

// WithSendPolicyFactory supplies a custom send policy, required when
// behavior is SendCustom and rejected for any other behavior.
func WithSendPolicyFactory(factory SendPolicyFactory) Option {
	return func(o *options) { o.policyFactory = factory }
}

// WithLogger attaches a structured logger for lifecycle events. Its
// output is also tee'd into the ring buffer backing Status(). Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventHistorySize bounds how many recent lifecycle events Status()
// can report. Defaults to 64.
func WithEventHistorySize(n int) Option {
	return func(o *options) { o.eventHistory = n }
}

// WithMetrics attaches a Prometheus metrics sink built by NewMetrics. Nil
// (the default) disables recording.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Messenger maintains one resilient WebSocket session.
type Messenger struct {
	eng    *engine.Engine
	events *eventring.Buffer
}

// New creates a Messenger bound to callback and config. callback must not
// block in its methods; they are invoked from the Messenger's internal
// I/O loop goroutine.
func New(callback Callback, config ConnectionConfig, opts ...Option) (*Messenger, error) {
	o := options{behavior: SendSync, eventHistory: defaultEventHistorySize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.eventHistory <= 0 {
		o.eventHistory = defaultEventHistorySize
	}

	base := o.logger
	if base == nil {
		base = slog.Default()
	}
	events := eventring.New(o.eventHistory)
	logger := slog.New(eventring.NewTeeHandler(base.Handler(), events))

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if o.policyFactory != nil {
		engineOpts = append(engineOpts, engine.WithSendPolicyFactory(factoryAdapter{o.policyFactory}))
	}
	if o.metrics != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(o.metrics))
	}

	eng, err := engine.New(callback, config, o.behavior, engineOpts...)
	if err != nil {
		return nil, err
	}

	return &Messenger{eng: eng, events: events}, nil
}

// Open starts connecting in the background. It returns immediately;
// Callback reports the outcome.
func (m *Messenger) Open() bool { return m.eng.Open() }

// Send hands message to the configured send policy. Returns whether the
// message was accepted, not whether it was ultimately delivered (for
// SendAsync, a full queue drops silently).
func (m *Messenger) Send(message []byte) bool { return m.eng.Send(message) }

// Close tears the session down and blocks until internal resources are
// released. Safe to call multiple times and before Open.
func (m *Messenger) Close() { m.eng.Close() }

// GetConnectionStats returns a point-in-time snapshot of traffic counters.
func (m *Messenger) GetConnectionStats() ConnectionStats { return m.eng.GetConnectionStats() }

// ScheduleReconnect resumes retrying after a critical failure, optionally
// against new server settings. It must be called at most once per
// SignalCriticalFailure notification; it is ignored otherwise.
func (m *Messenger) ScheduleReconnect(settings *ServerSettings) bool {
	return m.eng.ScheduleReconnect(settings)
}
