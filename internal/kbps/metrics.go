package kbps

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry exposes a Kbps's cumulative totals to Prometheus, mirroring
// snapetech-plexTuner's go.mod choice of client_golang for its
// observability surface (the stats HTTP API itself is an external
// collaborator per spec §1, but the byte counters this package samples
// are fair to expose as gauges).
type Registry struct {
	recvBytes *prometheus.GaugeVec
	sendBytes *prometheus.GaugeVec
}

// NewRegistry constructs and registers the gauge pair on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		recvBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamcore",
			Subsystem: "kbps",
			Name:      "recv_bytes_total",
			Help:      "Cumulative bytes received, summed across all NetworkDelta attachments.",
		}, []string{"stream"}),
		sendBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamcore",
			Subsystem: "kbps",
			Name:      "send_bytes_total",
			Help:      "Cumulative bytes sent, summed across all NetworkDelta attachments.",
		}, []string{"stream"}),
	}
	reg.MustRegister(r.recvBytes, r.sendBytes)
	return r
}

// Report updates the gauges for stream from k's current cumulative
// totals. Callers call this from the same periodic loop that calls
// Kbps.Observe.
func (r *Registry) Report(stream string, k *Kbps) {
	r.recvBytes.WithLabelValues(stream).Set(float64(k.CumulativeRecv()))
	r.sendBytes.WithLabelValues(stream).Set(float64(k.CumulativeSend()))
}
