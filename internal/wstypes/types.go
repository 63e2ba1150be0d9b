// Package wstypes holds the data model shared by every internal package
// implementing the session engine, so the root wsmessenger package (which
// depends on them) is not required by any of them in turn.
package wstypes

// ProxySettings describes an optional HTTP CONNECT proxy the session is
// tunneled through.
type ProxySettings struct {
	Host string
	Port uint16
	// Username and Password are optional proxy credentials. When Username
	// is empty no Proxy-Authorization header is sent.
	Username string
	Password string
}

// ServerSettings addresses the remote WebSocket endpoint.
type ServerSettings struct {
	Host string
	Port uint16
	// Target is the path and optional query string of the WebSocket
	// upgrade request, e.g. "/ws?auth_token=secret".
	Target string
	// Proxy, if non-nil, routes the connection through an HTTP CONNECT
	// tunnel before the TLS handshake.
	Proxy *ProxySettings
}

// ConnectionConfig parameterizes a Messenger. Sessions are always
// TLS-secured; there is no plaintext mode.
type ConnectionConfig struct {
	Server ServerSettings
	// CriticalFailureThreshold is the number of consecutive failed
	// reconnect attempts after which the engine stops retrying and
	// reports SignalCriticalFailure instead.
	CriticalFailureThreshold int
	// MaxSendQueueSize bounds the async send policy's queue. Zero means
	// unbounded.
	MaxSendQueueSize int
}

// DefaultConnectionConfig returns a ConnectionConfig with the same
// defaults as the reference implementation.
func DefaultConnectionConfig(server ServerSettings) ConnectionConfig {
	return ConnectionConfig{
		Server:                   server,
		CriticalFailureThreshold: 5,
		MaxSendQueueSize:         1024,
	}
}

// SendBehavior selects how Send behaves.
type SendBehavior int

const (
	// SendSync blocks the caller until the write completes or fails.
	SendSync SendBehavior = iota
	// SendAsync queues the message and returns immediately.
	SendAsync
	// SendCustom delegates to a policy produced by a SendPolicyFactory.
	SendCustom
)

// WriteStatus reports the outcome of a single message write.
type WriteStatus int

const (
	WriteSuccess WriteStatus = iota
	WriteFailure
	// WriteTimeout is part of the API for callers that switch
	// exhaustively on WriteStatus. No code path in this engine
	// currently produces it; writes either succeed or fail.
	WriteTimeout
)

// ErrorDetails carries a disconnect or failure reason.
type ErrorDetails struct {
	Message string
	Code    int
}

// ConnectionStats is a point-in-time snapshot of traffic counters.
type ConnectionStats struct {
	TotalMessagesSent     uint64
	TotalMessagesReceived uint64
	TotalBytesSent        uint64
	TotalBytesReceived    uint64
	CurrentSendQueueSize  uint64
}

// Phase is the coarse lifecycle state of the engine, used by Status.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnected
	PhaseCriticalFailure
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseCriticalFailure:
		return "critical_failure"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Callback receives lifecycle and data events from a Messenger. Methods
// are invoked from the engine's internal goroutine; implementations must
// not block.
type Callback interface {
	OnMessageReceived(message []byte)
	OnConnected()
	OnDisconnected(err ErrorDetails)
	// SignalCriticalFailure is invoked once the engine has exhausted
	// CriticalFailureThreshold reconnect attempts and will not retry
	// again until ScheduleReconnect is called.
	SignalCriticalFailure()
}

// WriteCallback receives write-completion notifications, mirroring the
// reference implementation's IWriterOperator.
type WriteCallback interface {
	OnMessageWriteCompleted(status WriteStatus)
}

// ClientCallback is what the transport layer (wsclient.Client) reports
// up to its owner, mirroring IWebSocketClientCallback.
type ClientCallback interface {
	OnMessageReceived(message []byte)
	OnConnected()
	OnDisconnected(err ErrorDetails)
}
