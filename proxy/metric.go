package proxy

import (
	"sync/atomic"
)

// DispatcherMetrics contains atomic metrics for a Dispatcher.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type DispatcherMetrics struct {
	// ConnectCount indicates the number of connect commands dispatched.
	ConnectCount atomic.Uint64
	// ConnectErrCount indicates the number of connect commands rejected by the backend.
	ConnectErrCount atomic.Uint64

	// ReadCount indicates the number of read commands dispatched.
	ReadCount atomic.Uint64
	// ReadErrCount indicates the number of read commands that failed as a whole.
	ReadErrCount atomic.Uint64
	// NodeErrCount indicates the number of nodes reported with an error marker.
	NodeErrCount atomic.Uint64
	// NotConnectedCount indicates the number of reads rejected because no session was active.
	NotConnectedCount atomic.Uint64
	// ConnLostCount indicates the number of backend sessions dropped after a connection loss.
	ConnLostCount atomic.Uint64

	// InvalidRequestCount indicates the number of request lines rejected by the parser.
	InvalidRequestCount atomic.Uint64
}

func (m *DispatcherMetrics) incConnectCount()        { m.ConnectCount.Add(1) }
func (m *DispatcherMetrics) incConnectErrCount()     { m.ConnectErrCount.Add(1) }
func (m *DispatcherMetrics) incReadCount()           { m.ReadCount.Add(1) }
func (m *DispatcherMetrics) incReadErrCount()        { m.ReadErrCount.Add(1) }
func (m *DispatcherMetrics) addNodeErrCount(n int)   { m.NodeErrCount.Add(uint64(n)) }
func (m *DispatcherMetrics) incNotConnectedCount()   { m.NotConnectedCount.Add(1) }
func (m *DispatcherMetrics) incConnLostCount()       { m.ConnLostCount.Add(1) }
func (m *DispatcherMetrics) incInvalidRequestCount() { m.InvalidRequestCount.Add(1) }
