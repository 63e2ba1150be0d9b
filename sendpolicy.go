package wsmessenger

import "github.com/cortexuvula/wsmessenger/internal/sendpolicy"

// SendPolicyContext is the set of operations a custom SendPolicy needs
// from its owning Messenger. Its method set mirrors internal/sendpolicy's
// Context exactly, so the engine's sendpolicy.Context can be handed to a
// SendPolicyFactory unchanged; internal/sendpolicy does not import this
// package.
type SendPolicyContext interface {
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

// SendPolicy decides how a single Send call is carried out. Implement
// this to supply a custom policy via WithSendPolicyFactory and SendCustom.
type SendPolicy interface {
	Send(message []byte) bool
	OnMessageWriteCompleted(status WriteStatus)
	OnConnected()
}

// SendPolicyFactory builds a custom SendPolicy bound to ctx.
type SendPolicyFactory interface {
	Create(ctx SendPolicyContext) SendPolicy
}

// factoryAdapter lets a public SendPolicyFactory satisfy the internal
// engine's sendpolicy.Factory. The engine hands it a sendpolicy.Context,
// which is passed straight through to the user's factory: the two
// interfaces share an identical method set, so no wrapping is needed for
// either the context argument or the returned policy.
type factoryAdapter struct {
	factory SendPolicyFactory
}

func (a factoryAdapter) Create(ctx sendpolicy.Context) sendpolicy.Policy {
	return a.factory.Create(ctx)
}
