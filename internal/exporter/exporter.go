package exporter

import (
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/refresh"
	"codeberg.org/mutker/bmsmon/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "bms_"

	resultSuccess = "success"
	resultError   = "error"
)

// Exporter mirrors telemetry changes and poll outcomes as Prometheus metrics.
// It is both a refresh.Subscriber and a session.Observer.
type Exporter struct {
	registry *prometheus.Registry

	soc            prometheus.Gauge
	current        prometheus.Gauge
	voltage        prometheus.Gauge
	balanceCurrent prometheus.Gauge
	temperature    *prometheus.GaugeVec
	cellVoltage    *prometheus.GaugeVec

	polls        *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	pollLatency  prometheus.Histogram
	sessionState *prometheus.GaugeVec
}

// New registers all metrics on a private registry, alongside the Go and
// process collectors.
func New() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		soc: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "state_of_charge_percent",
			Help: "Battery state of charge in percent",
		}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "current_amperes",
			Help: "Pack current in amperes",
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "voltage_volts",
			Help: "Pack voltage in volts",
		}),
		balanceCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "balance_current_amperes",
			Help: "Cell balancing current in amperes while balancing is active",
		}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "temperature_celsius",
			Help: "Temperature sensor readings in degrees Celsius",
		}, []string{"sensor"}),
		cellVoltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "cell_voltage_volts",
			Help: "Individual cell voltages in volts",
		}, []string{"cell"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "polls_total",
			Help: "Total polls by result",
		}, []string{"result"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "poll_failures_total",
			Help: "Failed polls by error code",
		}, []string{"code"}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "poll_latency_seconds",
			Help:    "Latency of successful polls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "session_state",
			Help: "Monitoring session state, 1 for the current state",
		}, []string{"state"}),
	}

	e.registry.MustRegister(
		e.soc, e.current, e.voltage, e.balanceCurrent,
		e.temperature, e.cellVoltage,
		e.polls, e.pollFailures, e.pollLatency, e.sessionState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, r := range []string{resultSuccess, resultError} {
		e.polls.WithLabelValues(r)
	}
	e.SessionStateChanged(session.Idle)

	return e
}

// Registry exposes the registry for tests and additional collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the exposition format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

func (e *Exporter) OnChange(field string, value any) {
	switch field {
	case refresh.FieldSOC:
		setScalar(e.soc, value)
	case refresh.FieldCurrent:
		setScalar(e.current, value)
	case refresh.FieldVoltage:
		setScalar(e.voltage, value)
	case refresh.FieldBalanceCurrent:
		setScalar(e.balanceCurrent, value)
	case refresh.FieldTemperatures:
		setSeries(e.temperature, value)
	case refresh.FieldCellVoltages:
		setSeries(e.cellVoltage, value)
	}
}

func (e *Exporter) PollSucceeded(elapsed time.Duration) {
	e.polls.WithLabelValues(resultSuccess).Inc()
	e.pollLatency.Observe(elapsed.Seconds())
}

func (e *Exporter) PollFailed(code errors.ErrorCode) {
	e.polls.WithLabelValues(resultError).Inc()
	e.pollFailures.WithLabelValues(string(code)).Inc()
}

func (e *Exporter) SessionStateChanged(state session.State) {
	for _, st := range []session.State{session.Idle, session.Running, session.Stopping} {
		v := 0.0
		if st == state {
			v = 1
		}
		e.sessionState.WithLabelValues(st.String()).Set(v)
	}
}

func setScalar(g prometheus.Gauge, value any) {
	if v, ok := value.(float64); ok {
		g.Set(v)
	}
}

// setSeries replaces the whole vector so series that disappeared are dropped.
func setSeries(g *prometheus.GaugeVec, value any) {
	values, ok := value.([]float64)
	if !ok {
		return
	}

	g.Reset()
	for i, v := range values {
		g.WithLabelValues(strconv.Itoa(i + 1)).Set(v)
	}
}
