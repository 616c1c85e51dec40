package hislipclient

import (
	"sync/atomic"
)

// SessionMetrics contains atomic metrics for a session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// DataMsgSendCount indicates the number of Data and DataEND messages sent.
	DataMsgSendCount atomic.Uint64
	// DataMsgRecvCount indicates the number of Data and DataEND messages received.
	DataMsgRecvCount atomic.Uint64
	// QueryCount indicates the number of queries sent.
	QueryCount atomic.Uint64
	// ResponseCount indicates the number of complete responses delivered to the caller.
	ResponseCount atomic.Uint64
	// PendingQueryCount indicates the number of queries waiting for their response.
	PendingQueryCount atomic.Int64
	// DiscardedMsgCount indicates the number of late responses of abandoned queries which were dropped.
	DiscardedMsgCount atomic.Uint64
	// ReadTimeoutCount indicates the number of reads which timed out.
	ReadTimeoutCount atomic.Uint64

	// AsyncMsgSendCount indicates the number of messages sent on the asynchronous channel.
	AsyncMsgSendCount atomic.Uint64
	// AsyncMsgRecvCount indicates the number of messages received on the asynchronous channel.
	AsyncMsgRecvCount atomic.Uint64
	// ServiceRequestCount indicates the number of service requests received.
	ServiceRequestCount atomic.Uint64

	// ServerErrCount indicates the number of non-fatal Error messages received.
	ServerErrCount atomic.Uint64
	// DeviceClearCount indicates the number of completed device clears.
	DeviceClearCount atomic.Uint64
}

func (m *SessionMetrics) incDataMsgSendCount(n int) {
	m.DataMsgSendCount.Add(uint64(n)) //nolint:gosec
}

func (m *SessionMetrics) incDataMsgRecvCount() {
	m.DataMsgRecvCount.Add(1)
}

func (m *SessionMetrics) incQueryCount() {
	m.QueryCount.Add(1)
	m.PendingQueryCount.Add(1)
}

func (m *SessionMetrics) incResponseCount() {
	m.ResponseCount.Add(1)
}

func (m *SessionMetrics) decPendingQueryCount() {
	m.PendingQueryCount.Add(-1)
}

func (m *SessionMetrics) resetPendingQueryCount() {
	m.PendingQueryCount.Store(0)
}

func (m *SessionMetrics) incDiscardedMsgCount() {
	m.DiscardedMsgCount.Add(1)
}

func (m *SessionMetrics) incReadTimeoutCount() {
	m.ReadTimeoutCount.Add(1)
}

func (m *SessionMetrics) incAsyncMsgSendCount() {
	m.AsyncMsgSendCount.Add(1)
}

func (m *SessionMetrics) incAsyncMsgRecvCount() {
	m.AsyncMsgRecvCount.Add(1)
}

func (m *SessionMetrics) incServiceRequestCount() {
	m.ServiceRequestCount.Add(1)
}

func (m *SessionMetrics) incServerErrCount() {
	m.ServerErrCount.Add(1)
}

func (m *SessionMetrics) incDeviceClearCount() {
	m.DeviceClearCount.Add(1)
}
