// Package sendpolicy implements the pluggable strategies for how
// Messenger.Send hands a message off to the transport: queued-async,
// blocking-sync, or a caller-supplied custom policy.
package sendpolicy

import "github.com/cortexuvula/wsmessenger/internal/wstypes"

// Context is the set of operations a Policy needs from its owning
// engine. It mirrors the reference implementation's ISendPolicyContext.
type Context interface {
	IsClientConnected() bool
	HasClient() bool
	IsReadyForSynchronousSend() bool
	IsInIOLoopGoroutine() bool
	MaxSendQueueSize() int
	PostToIOLoop(fn func())
	ClientSend(message []byte) bool
	IncrementCurrentQueueSize()
	DecrementCurrentQueueSize()
	RecordMessageSent(bytes int)
}

// Policy decides how a single Send call is carried out.
type Policy interface {
	Send(message []byte) bool
	OnMessageWriteCompleted(status wstypes.WriteStatus)
	OnConnected()
}

// Factory builds a custom Policy bound to ctx. Used for
// wstypes.SendCustom behavior.
type Factory interface {
	Create(ctx Context) Policy
}
