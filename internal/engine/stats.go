package engine

import (
	"sync/atomic"

	"github.com/cortexuvula/wsmessenger/internal/wstypes"
)

// stats holds the atomic traffic counters for one engine instance. Split
// out from Engine so the counter set and its snapshot conversion can be
// tested in isolation.
type stats struct {
	totalMessagesSent     atomic.Uint64
	totalMessagesReceived atomic.Uint64
	totalBytesSent        atomic.Uint64
	totalBytesReceived    atomic.Uint64
	currentSendQueueSize  atomic.Int64
}

func (s *stats) recordSent(bytes int) {
	s.totalMessagesSent.Add(1)
	s.totalBytesSent.Add(uint64(bytes))
}

func (s *stats) recordReceived(bytes int) {
	s.totalMessagesReceived.Add(1)
	s.totalBytesReceived.Add(uint64(bytes))
}

func (s *stats) incrementQueueSize() {
	s.currentSendQueueSize.Add(1)
}

func (s *stats) decrementQueueSize() {
	s.currentSendQueueSize.Add(-1)
}

func (s *stats) snapshot() wstypes.ConnectionStats {
	queueSize := s.currentSendQueueSize.Load()
	if queueSize < 0 {
		queueSize = 0
	}
	return wstypes.ConnectionStats{
		TotalMessagesSent:     s.totalMessagesSent.Load(),
		TotalMessagesReceived: s.totalMessagesReceived.Load(),
		TotalBytesSent:        s.totalBytesSent.Load(),
		TotalBytesReceived:    s.totalBytesReceived.Load(),
		CurrentSendQueueSize:  uint64(queueSize),
	}
}
