package controller

import "sync/atomic"

// Metrics contains atomic counters of an engine.
type Metrics struct {
	// DirectiveSendCount indicates the number of directives written to the port.
	DirectiveSendCount atomic.Uint64
	// FrameRecvCount indicates the number of complete frames extracted.
	FrameRecvCount atomic.Uint64
	// FrameErrCount indicates the number of frames the family rejected.
	FrameErrCount atomic.Uint64
	// EvictCount indicates the number of directives dropped after a response timeout.
	EvictCount atomic.Uint64
	// PollCycleCount indicates the number of poll cycles that queued directives.
	PollCycleCount atomic.Uint64
	// PollSkipCount indicates the number of poll cycles skipped on a busy queue.
	PollSkipCount atomic.Uint64
	// FlushCount indicates the number of flush sequences run.
	FlushCount atomic.Uint64
	// ReadErrCount and WriteErrCount count transport failures.
	ReadErrCount  atomic.Uint64
	WriteErrCount atomic.Uint64
	// HeartbeatAlarmCount indicates the number of heartbeat timeouts raised.
	HeartbeatAlarmCount atomic.Uint64
}

// MetricsSnapshot is a point in time copy of Metrics.
type MetricsSnapshot struct {
	DirectiveSend  uint64 `json:"directive_send"`
	FrameRecv      uint64 `json:"frame_recv"`
	FrameErr       uint64 `json:"frame_err"`
	Evict          uint64 `json:"evict"`
	PollCycle      uint64 `json:"poll_cycle"`
	PollSkip       uint64 `json:"poll_skip"`
	Flush          uint64 `json:"flush"`
	ReadErr        uint64 `json:"read_err"`
	WriteErr       uint64 `json:"write_err"`
	HeartbeatAlarm uint64 `json:"heartbeat_alarm"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		DirectiveSend:  m.DirectiveSendCount.Load(),
		FrameRecv:      m.FrameRecvCount.Load(),
		FrameErr:       m.FrameErrCount.Load(),
		Evict:          m.EvictCount.Load(),
		PollCycle:      m.PollCycleCount.Load(),
		PollSkip:       m.PollSkipCount.Load(),
		Flush:          m.FlushCount.Load(),
		ReadErr:        m.ReadErrCount.Load(),
		WriteErr:       m.WriteErrCount.Load(),
		HeartbeatAlarm: m.HeartbeatAlarmCount.Load(),
	}
}
