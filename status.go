package wsmessenger

import "time"

// Event is one recent lifecycle or log event backing EngineStatus.
type Event struct {
	Time    time.Time
	Level   string
	Message string
}

// EngineStatus is a read-only diagnostic snapshot of a Messenger: its
// coarse lifecycle phase, traffic counters, how many reconnect attempts
// have been made since the last successful connection, and the most
// recent lifecycle events. It does not change any invariant of Open,
// Send, Close, GetConnectionStats, or ScheduleReconnect — it is a
// diagnostics-only addition.
type EngineStatus struct {
	Phase             Phase
	Stats             ConnectionStats
	ReconnectAttempts int
	RecentEvents      []Event
}

// Status returns a diagnostic snapshot. limit bounds how many recent
// events are included (newest first); limit <= 0 returns all buffered
// events, up to the WithEventHistorySize capacity.
func (m *Messenger) Status(limit int) EngineStatus {
	entries := m.events.Recent(limit)
	events := make([]Event, len(entries))
	for i, e := range entries {
		events[i] = Event{Time: e.Time, Level: e.Level.String(), Message: e.Message}
	}

	return EngineStatus{
		Phase:             m.eng.Phase(),
		Stats:             m.eng.GetConnectionStats(),
		ReconnectAttempts: m.eng.ReconnectAttemptCount(),
		RecentEvents:      events,
	}
}
