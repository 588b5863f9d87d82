// Package metrics exposes the node's Prometheus instruments on a private
// registry. Every method is safe on a nil *Metrics, so components can be
// built without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Result label values.
const (
	ResultOK     = "ok"
	ResultError  = "error"
	ResultWarmup = "warmup"
)

// Publish kind label values.
const (
	KindDiscovery    = "discovery"
	KindAvailability = "availability"
	KindState        = "state"
)

// Metrics holds the instruments. Create with [New].
type Metrics struct {
	reg *prometheus.Registry

	sensorReads    *prometheus.CounterVec
	sensorReinits  prometheus.Counter
	sensorFaults   prometheus.Counter
	sequence       prometheus.Gauge
	linkState      prometheus.Gauge
	brokerState    prometheus.Gauge
	brokerConnects *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	publishLatency prometheus.Observer
	displayErrors  prometheus.Counter
	taskRestarts   *prometheus.CounterVec
}

// New creates the instruments and registers them, along with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sensorReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_sensor_reads_total",
			Help: "Sensor read attempts by result.",
		}, []string{"result"}),
		sensorReinits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_sensor_reinit_total",
			Help: "Sensor re-initializations after repeated read failures.",
		}),
		sensorFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_sensor_faults_total",
			Help: "Re-initializations that failed to recover the sensor.",
		}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_measurement_sequence",
			Help: "Sequence number of the latest stored measurement.",
		}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_link_state",
			Help: "Connectivity state: 0 disconnected, 1 joining, 2 connected.",
		}),
		brokerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_broker_state",
			Help: "Broker session state: 0 awaiting link, 1 connecting, 2 publishing discovery, 3 publishing.",
		}),
		brokerConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_broker_connects_total",
			Help: "Broker connection attempts by result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_publishes_total",
			Help: "MQTT publishes by kind and result.",
		}, []string{"kind", "result"}),
		displayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_display_errors_total",
			Help: "Display render failures.",
		}),
		taskRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_task_restarts_total",
			Help: "Supervised task restarts by task.",
		}, []string{"task"}),
	}

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "airnode_publish_duration_seconds",
		Help:    "Time from publish call to broker acknowledgement.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.publishLatency = latency

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sensorReads, m.sensorReinits, m.sensorFaults, m.sequence,
		m.linkState, m.brokerState, m.brokerConnects, m.publishes,
		latency, m.displayErrors, m.taskRestarts,
	)
	return m
}

// Registry returns the registry for the /metrics handler. Nil on a nil
// receiver.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// SensorRead counts one read attempt.
func (m *Metrics) SensorRead(result string) {
	if m == nil {
		return
	}
	m.sensorReads.WithLabelValues(result).Inc()
}

// SensorReinit counts one re-initialization.
func (m *Metrics) SensorReinit() {
	if m == nil {
		return
	}
	m.sensorReinits.Inc()
}

// SensorFault counts one failed recovery.
func (m *Metrics) SensorFault() {
	if m == nil {
		return
	}
	m.sensorFaults.Inc()
}

// SetSequence records the latest stored sequence number.
func (m *Metrics) SetSequence(seq uint64) {
	if m == nil {
		return
	}
	m.sequence.Set(float64(seq))
}

// SetLinkState records the connectivity state ordinal.
func (m *Metrics) SetLinkState(state int) {
	if m == nil {
		return
	}
	m.linkState.Set(float64(state))
}

// SetBrokerState records the broker session state ordinal.
func (m *Metrics) SetBrokerState(state int) {
	if m == nil {
		return
	}
	m.brokerState.Set(float64(state))
}

// BrokerConnect counts one connection attempt.
func (m *Metrics) BrokerConnect(err error) {
	if m == nil {
		return
	}
	m.brokerConnects.WithLabelValues(result(err)).Inc()
}

// Publish counts one publish of the given kind and records its latency.
func (m *Metrics) Publish(kind string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(kind, result(err)).Inc()
	if err == nil {
		m.publishLatency.Observe(took.Seconds())
	}
}

// DisplayError counts one render failure.
func (m *Metrics) DisplayError() {
	if m == nil {
		return
	}
	m.displayErrors.Inc()
}

// TaskRestart counts one restart of the named task.
func (m *Metrics) TaskRestart(task string) {
	if m == nil {
		return
	}
	m.taskRestarts.WithLabelValues(task).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
