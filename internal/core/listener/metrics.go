package listener

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by all listeners of a process.
type Metrics struct {
	units    *prometheus.CounterVec
	failures *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	state    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netloop",
			Name:      "units_served_total",
			Help:      "Connections or datagrams handled without error.",
		}, []string{"listener", "transport", "responded"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netloop",
			Name:      "failures_total",
			Help:      "Listener failures by kind.",
		}, []string{"listener", "kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netloop",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes received and sent by handlers.",
		}, []string{"listener", "direction"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "netloop",
			Name:      "unit_duration_seconds",
			Help:      "Time from first byte read to response written.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"listener"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netloop",
			Name:      "listener_state",
			Help:      "0=created 1=bound 2=running 3=stopped.",
		}, []string{"listener"}),
	}
	for _, c := range []prometheus.Collector{m.units, m.failures, m.bytes, m.duration, m.state} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observer returns an Observer that records events under the given listener label.
func (m *Metrics) Observer(name string) Observer {
	return &metricsObserver{m: m, name: name}
}

type metricsObserver struct {
	m    *Metrics
	name string
}

func (o *metricsObserver) StateChanged(_ Endpoint, _, to State) {
	o.m.state.WithLabelValues(o.name).Set(float64(to))
}

func (o *metricsObserver) UnitServed(ev UnitEvent) {
	o.m.units.WithLabelValues(o.name, string(ev.Endpoint.Transport), strconv.FormatBool(ev.Responded)).Inc()
	o.m.bytes.WithLabelValues(o.name, "in").Add(float64(ev.BytesIn))
	o.m.bytes.WithLabelValues(o.name, "out").Add(float64(ev.BytesOut))
	o.m.duration.WithLabelValues(o.name).Observe(ev.Duration.Seconds())
}

func (o *metricsObserver) Failed(err *Error) {
	o.m.failures.WithLabelValues(o.name, err.Kind.String()).Inc()
}
