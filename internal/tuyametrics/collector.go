// Package tuyametrics exposes Prometheus instrumentation for the Tuya
// BLE protocol engine.
package tuyametrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "gotuyable"
	subsystem = "tuya"
)

// Label names for Tuya engine metrics.
const (
	labelAddr  = "device_addr"
	labelClass = "error_class"
)

// Collector holds all Tuya BLE engine Prometheus metrics.
//
// Metrics are designed for smart-home/IoT-gateway monitoring:
//   - Devices tracks devices currently open in a Manager.
//   - Connects/PairFailures track handshake outcomes per device.
//   - CodecErrors is labeled by error taxonomy class for alerting.
//   - DatapointUpdates and Timeouts track protocol traffic volume.
type Collector struct {
	// Devices tracks the number of devices currently open in a Manager,
	// whether or not they are connected.
	Devices *prometheus.GaugeVec

	// Connects counts successful handshake completions per device.
	Connects *prometheus.CounterVec

	// PairFailures counts rejected or malformed pair replies per device.
	PairFailures *prometheus.CounterVec

	// CodecErrors counts inbound fragment-reassembly, decode and dispatch
	// failures, labeled by the error taxonomy class (format, length, crc,
	// device, transport, timeout, enum_value, other).
	CodecErrors *prometheus.CounterVec

	// DatapointUpdates counts datapoints folded into a Collection from
	// device reports; local SetValue calls are not counted.
	DatapointUpdates *prometheus.CounterVec

	// PendingRequests tracks the number of correlator waiters currently
	// registered, a proxy for in-flight request backlog.
	PendingRequests *prometheus.GaugeVec

	// Timeouts counts requests that exceeded the response timeout.
	Timeouts *prometheus.CounterVec
}

// NewCollector creates a Collector with all Tuya engine metrics
// registered against reg. If reg is nil, prometheus.DefaultRegisterer is
// used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Devices,
		c.Connects,
		c.PairFailures,
		c.CodecErrors,
		c.DatapointUpdates,
		c.PendingRequests,
		c.Timeouts,
	)

	return c
}

func newMetrics() *Collector {
	addrLabels := []string{labelAddr}
	classLabels := []string{labelAddr, labelClass}

	return &Collector{
		Devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "devices",
			Help:      "Number of devices currently open in a manager.",
		}, nil),

		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connects_total",
			Help:      "Total successful handshake completions per device.",
		}, addrLabels),

		PairFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pair_failures_total",
			Help:      "Total rejected or malformed pair replies per device.",
		}, addrLabels),

		CodecErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "codec_errors_total",
			Help:      "Total inbound reassembly, decode and dispatch failures, labeled by error taxonomy class.",
		}, classLabels),

		DatapointUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "datapoint_updates_total",
			Help:      "Total datapoints folded into a collection.",
		}, addrLabels),

		PendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_requests",
			Help:      "Number of correlator waiters currently registered.",
		}, addrLabels),

		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "timeouts_total",
			Help:      "Total requests that exceeded the response timeout.",
		}, addrLabels),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterDevice increments the open-device gauge.
func (c *Collector) RegisterDevice() {
	c.Devices.WithLabelValues().Inc()
}

// UnregisterDevice decrements the open-device gauge.
func (c *Collector) UnregisterDevice() {
	c.Devices.WithLabelValues().Dec()
}

// IncConnects increments the successful-connect counter for addr.
func (c *Collector) IncConnects(addr string) {
	c.Connects.WithLabelValues(addr).Inc()
}

// IncPairFailures increments the pair-failure counter for addr.
func (c *Collector) IncPairFailures(addr string) {
	c.PairFailures.WithLabelValues(addr).Inc()
}

// IncCodecErrors increments the codec-error counter for addr, labeled by
// errClass (e.g. "format", "crc", "length").
func (c *Collector) IncCodecErrors(addr, errClass string) {
	c.CodecErrors.WithLabelValues(addr, errClass).Inc()
}

// AddDatapointUpdates increments the datapoint-update counter for addr
// by n.
func (c *Collector) AddDatapointUpdates(addr string, n int) {
	if n <= 0 {
		return
	}
	c.DatapointUpdates.WithLabelValues(addr).Add(float64(n))
}

// SetPendingRequests sets the pending-request gauge for addr.
func (c *Collector) SetPendingRequests(addr string, n int) {
	c.PendingRequests.WithLabelValues(addr).Set(float64(n))
}

// IncTimeouts increments the timeout counter for addr.
func (c *Collector) IncTimeouts(addr string) {
	c.Timeouts.WithLabelValues(addr).Inc()
}
