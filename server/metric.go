package server

import (
	"sync/atomic"
)

// Metrics contains atomic metrics for a Server.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// AcceptCount indicates the number of client connections accepted.
	AcceptCount atomic.Uint64
	// AcceptErrCount indicates the number of failed accept calls.
	AcceptErrCount atomic.Uint64
	// ActiveClientGauge indicates the number of client connections currently served.
	ActiveClientGauge atomic.Int64

	// RequestCount indicates the number of request lines handled.
	RequestCount atomic.Uint64
	// ErrorResponseCount indicates the number of error responses sent.
	ErrorResponseCount atomic.Uint64
	// OversizedLineCount indicates the number of request lines rejected for their size.
	OversizedLineCount atomic.Uint64

	// ReadErrCount indicates the number of client connections ended by a socket read error.
	ReadErrCount atomic.Uint64
	// WriteErrCount indicates the number of client connections ended by a socket write error.
	WriteErrCount atomic.Uint64
}

func (m *Metrics) incAcceptCount()        { m.AcceptCount.Add(1) }
func (m *Metrics) incAcceptErrCount()     { m.AcceptErrCount.Add(1) }
func (m *Metrics) incActiveClientGauge()  { m.ActiveClientGauge.Add(1) }
func (m *Metrics) decActiveClientGauge()  { m.ActiveClientGauge.Add(-1) }
func (m *Metrics) incRequestCount()       { m.RequestCount.Add(1) }
func (m *Metrics) incErrorResponseCount() { m.ErrorResponseCount.Add(1) }
func (m *Metrics) incOversizedLineCount() { m.OversizedLineCount.Add(1) }
func (m *Metrics) incReadErrCount()       { m.ReadErrCount.Add(1) }
func (m *Metrics) incWriteErrCount()      { m.WriteErrCount.Add(1) }
