package sendpolicy

import "github.com/cortexuvula/wsmessenger/internal/wstypes"

// Async queues every message and returns immediately; drops silently
// once the queue is full. Only ever touched from the engine's I/O loop
// goroutine, so it needs no internal locking of its own.
type Async struct {
	ctx             Context
	writeInProgress bool
	queue           [][]byte
}

// NewAsync creates an Async send policy bound to ctx.
func NewAsync(ctx Context) *Async {
	return &Async{ctx: ctx}
}

// Send always queues the message onto the I/O loop, even before the
// connection is established; it may be dropped later if the queue is
// full. The return value only reflects acceptance, not delivery.
func (a *Async) Send(message []byte) bool {
	a.ctx.PostToIOLoop(func() { a.sendInternal(message) })
	return true
}

func (a *Async) sendInternal(message []byte) {
	max := a.ctx.MaxSendQueueSize()
	if max > 0 && len(a.queue) >= max {
		return
	}

	a.queue = append(a.queue, message)
	a.ctx.IncrementCurrentQueueSize()

	a.tryWriteNext()
}

func (a *Async) tryWriteNext() {
	if len(a.queue) == 0 || a.writeInProgress || !a.ctx.HasClient() || !a.ctx.IsClientConnected() {
		return
	}

	a.writeInProgress = true
	if !a.ctx.ClientSend(a.queue[0]) {
		a.writeInProgress = false
	}
}

// OnMessageWriteCompleted is invoked from the I/O loop goroutine once a
// write this policy issued has finished.
func (a *Async) OnMessageWriteCompleted(status wstypes.WriteStatus) {
	if status != wstypes.WriteSuccess {
		// Connection closed or failed; leave the queue intact for a
		// potential reconnect.
		a.writeInProgress = false
		return
	}

	a.ctx.RecordMessageSent(len(a.queue[0]))
	a.queue = a.queue[1:]
	a.ctx.DecrementCurrentQueueSize()
	a.writeInProgress = false

	a.tryWriteNext()
}

// OnConnected resumes draining the queue against the new connection.
func (a *Async) OnConnected() {
	a.tryWriteNext()
}
