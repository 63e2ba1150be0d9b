package sendpolicy

import (
	"sync"

	"github.com/cortexuvula/wsmessenger/internal/wstypes"
)

// Sync blocks the calling goroutine until the write completes or fails.
// Only one send may be in flight at a time; later callers wait their
// turn on cond.
type Sync struct {
	ctx Context

	mu         sync.Mutex
	cond       *sync.Cond
	activeSend bool
	message    []byte
	result     chan bool
}

// NewSync creates a Sync send policy bound to ctx.
func NewSync(ctx Context) *Sync {
	s := &Sync{ctx: ctx}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Send blocks until the message has been written or the send has
// failed. It refuses the send outright if the engine's I/O loop is not
// yet running, or if called from within the I/O loop goroutine itself
// (which would deadlock waiting on its own completion callback).
func (s *Sync) Send(message []byte) bool {
	if !s.ctx.IsReadyForSynchronousSend() {
		return false
	}
	if s.ctx.IsInIOLoopGoroutine() {
		return false
	}

	result := make(chan bool, 1)

	s.mu.Lock()
	for s.activeSend {
		s.cond.Wait()
	}
	s.activeSend = true
	s.message = message
	s.result = result
	s.ctx.IncrementCurrentQueueSize()
	s.mu.Unlock()

	s.ctx.PostToIOLoop(s.sendInternal)

	return <-result
}

func (s *Sync) sendInternal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ctx.IsClientConnected() {
		s.markWriteCompleteLocked(false)
		return
	}

	if !s.ctx.ClientSend(s.message) {
		s.markWriteCompleteLocked(false)
	}
	// On acceptance, completion arrives later via OnMessageWriteCompleted.
}

// OnMessageWriteCompleted is invoked from the I/O loop goroutine once the
// write this policy issued has finished.
func (s *Sync) OnMessageWriteCompleted(status wstypes.WriteStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.activeSend {
		return // spurious callback
	}

	if status == wstypes.WriteSuccess {
		s.ctx.RecordMessageSent(len(s.message))
	}

	s.markWriteCompleteLocked(status == wstypes.WriteSuccess)
}

// markWriteCompleteLocked must be called with mu held.
func (s *Sync) markWriteCompleteLocked(success bool) {
	if !s.activeSend {
		return
	}

	s.ctx.DecrementCurrentQueueSize()
	s.activeSend = false
	s.result <- success
	s.message = nil
	s.cond.Signal()
}

// OnConnected has no effect for the sync policy: a send made while
// disconnected has already failed and is not replayed.
func (s *Sync) OnConnected() {}
