package lnet

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	SamplesPushed   prometheus.Counter
	SamplesSent     prometheus.Counter
	SamplesReceived prometheus.Counter
	SamplesDropped  *prometheus.CounterVec
	Consumers       prometheus.Gauge
	ResolveQueries  prometheus.Counter
	QueriesAnswered prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsl",
			Subsystem: "outlet",
			Name:      "samples_pushed_total",
			Help:      "Total number of samples pushed into hosted outlets",
		}),
		SamplesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsl",
			Subsystem: "outlet",
			Name:      "samples_sent_total",
			Help:      "Total number of samples written to consumer feeds",
		}),
		SamplesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsl",
			Subsystem: "inlet",
			Name:      "samples_received_total",
			Help:      "Total number of samples received by inlets",
		}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lsl",
			Subsystem: "buffer",
			Name:      "samples_dropped_total",
			Help:      "Total number of samples discarded from full buffers",
		}, []string{"side"}),
		Consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lsl",
			Subsystem: "outlet",
			Name:      "consumers",
			Help:      "Number of inlets currently subscribed to hosted outlets",
		}),
		ResolveQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsl",
			Subsystem: "discovery",
			Name:      "queries_sent_total",
			Help:      "Total number of discovery query datagrams sent",
		}),
		QueriesAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsl",
			Subsystem: "discovery",
			Name:      "responses_sent_total",
			Help:      "Total number of discovery responses sent",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SamplesPushed,
			m.SamplesSent,
			m.SamplesReceived,
			m.SamplesDropped,
			m.Consumers,
			m.ResolveQueries,
			m.QueriesAnswered,
		)
	}
	return m
}
