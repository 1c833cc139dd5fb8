package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "podpair"

type metrics struct {
	registry *prometheus.Registry

	waiting   prometheus.Gauge
	paired    prometheus.Counter
	expired   prometheus.Counter
	frames    *prometheus.CounterVec
	bytes     prometheus.Counter
	issued    prometheus.Counter
	issueFail prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "waiting",
			Help: "Connections waiting for their peer.",
		}),
		paired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "paired_total",
			Help: "Join codes that reached two parties.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "expired_total",
			Help: "Connections dropped before a peer arrived.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "frames_total",
			Help: "Frames forwarded between paired parties.",
		}, []string{"kind"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "bytes_total",
			Help: "Payload bytes forwarded between paired parties.",
		}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "issuer", Name: "credentials_total",
			Help: "Credentials issued.",
		}),
		issueFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "issuer", Name: "failures_total",
			Help: "Rejected issuance requests.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.waiting, m.paired, m.expired, m.frames, m.bytes, m.issued, m.issueFail,
	)

	return m
}
