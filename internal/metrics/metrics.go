// Package metrics exposes the per-link and fleet snapshot of spec.md
// §4.11 as Prometheus text exposition at a scrape endpoint.
//
// Grounded on m-lab-tcp-info/metrics/metrics.go's promauto Gauge/Counter
// idiom and runZeroInc-sockstats' exporter's scrape-handler wiring,
// adapted from a fixed global var block to an instance-scoped registry
// so a standalone receiver process and its tests can each own independent
// metric state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LinkSnapshot is one link's exported state (spec.md §4.11).
type LinkSnapshot struct {
	LinkID               string
	Interface            string
	LinkKind             string
	RttMs                float64
	CapacityBps          float64
	LossRate             float64
	ObservedBps          float64
	ObservedBytesDelta   float64
	Alive                bool
	Phase                string
	EstimatedCapacityBps float64
	OwdMs                float64

	PacketsSentDelta      float64
	PacketsAckedDelta     float64
	RetransmissionsDelta  float64
	FecRepairsSentDelta   float64
	PacketsExpiredDelta   float64
}

// Metrics owns an isolated Prometheus registry for one transport process.
type Metrics struct {
	reg *prometheus.Registry

	rttMs        *prometheus.GaugeVec
	capacityBps  *prometheus.GaugeVec
	lossRate     *prometheus.GaugeVec
	observedBps  *prometheus.GaugeVec
	observedByte *prometheus.CounterVec
	alive        *prometheus.GaugeVec
	estCapBps    *prometheus.GaugeVec
	owdMs        *prometheus.GaugeVec

	packetsSent      *prometheus.CounterVec
	packetsAcked     *prometheus.CounterVec
	retransmissions  *prometheus.CounterVec
	fecRepairsSent   *prometheus.CounterVec
	packetsExpired   *prometheus.CounterVec

	linksTotal prometheus.Gauge
}

const labelLinkID = "link_id"
const labelInterface = "interface"

// New creates a Metrics instance registered against its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := []string{labelLinkID, labelInterface}

	return &Metrics{
		reg: reg,
		rttMs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strata_link_rtt_ms", Help: "Smoothed round-trip time in milliseconds.",
		}, labels),
		capacityBps: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strata_link_capacity_bps", Help: "Configured/observed link capacity in bits/sec.",
		}, labels),
		lossRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strata_link_loss_rate", Help: "Observed packet loss rate, 0..1.",
		}, labels),
		observedBps: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strata_link_observed_bps", Help: "Observed throughput in bits/sec.",
		}, labels),
		observedByte: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_link_observed_bytes_total", Help: "Cumulative bytes observed on this link.",
		}, labels),
		alive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strata_link_alive", Help: "1 if the link is currently alive, else 0.",
		}, labels),
		estCapBps: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strata_link_estimated_capacity_bps", Help: "Biscay-estimated capacity in bits/sec.",
		}, labels),
		owdMs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strata_link_owd_ms", Help: "Estimated one-way delay in milliseconds.",
		}, labels),
		packetsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_link_packets_sent_total", Help: "Data packets sent on this link.",
		}, labels),
		packetsAcked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_link_packets_acked_total", Help: "Data packets acknowledged on this link.",
		}, labels),
		retransmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_link_retransmissions_total", Help: "NACK-driven retransmissions sent on this link.",
		}, labels),
		fecRepairsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_link_fec_repairs_sent_total", Help: "FEC repair symbols sent on this link.",
		}, labels),
		packetsExpired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_link_packets_expired_total", Help: "Packets dropped after exceeding retry/TTL limits.",
		}, labels),
		linksTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "strata_links_total", Help: "Number of links currently configured.",
		}),
	}
}

// Handler returns the HTTP handler for the scrape endpoint (spec.md §6:
// "GET /metrics returns plain-text exposition ... Content-Type
// text/plain; version=0.0.4; charset=utf-8", which promhttp sets).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Update publishes one link's current snapshot.
func (m *Metrics) Update(s LinkSnapshot) {
	labels := prometheus.Labels{labelLinkID: s.LinkID, labelInterface: s.Interface}
	m.rttMs.With(labels).Set(s.RttMs)
	m.capacityBps.With(labels).Set(s.CapacityBps)
	m.lossRate.With(labels).Set(s.LossRate)
	m.observedBps.With(labels).Set(s.ObservedBps)
	if s.ObservedBytesDelta > 0 {
		m.observedByte.With(labels).Add(s.ObservedBytesDelta)
	}
	aliveVal := 0.0
	if s.Alive {
		aliveVal = 1.0
	}
	m.alive.With(labels).Set(aliveVal)
	m.estCapBps.With(labels).Set(s.EstimatedCapacityBps)
	m.owdMs.With(labels).Set(s.OwdMs)

	if s.PacketsSentDelta > 0 {
		m.packetsSent.With(labels).Add(s.PacketsSentDelta)
	}
	if s.PacketsAckedDelta > 0 {
		m.packetsAcked.With(labels).Add(s.PacketsAckedDelta)
	}
	if s.RetransmissionsDelta > 0 {
		m.retransmissions.With(labels).Add(s.RetransmissionsDelta)
	}
	if s.FecRepairsSentDelta > 0 {
		m.fecRepairsSent.With(labels).Add(s.FecRepairsSentDelta)
	}
	if s.PacketsExpiredDelta > 0 {
		m.packetsExpired.With(labels).Add(s.PacketsExpiredDelta)
	}
}

// SetLinksTotal publishes the fleet's configured link count.
func (m *Metrics) SetLinksTotal(n int) {
	m.linksTotal.Set(float64(n))
}

// RemoveLink deletes a link's label set from every vector, e.g. after
// remove_link (spec.md §6), so a stale series doesn't linger forever.
func (m *Metrics) RemoveLink(linkID, iface string) {
	labels := prometheus.Labels{labelLinkID: linkID, labelInterface: iface}
	m.rttMs.Delete(labels)
	m.capacityBps.Delete(labels)
	m.lossRate.Delete(labels)
	m.observedBps.Delete(labels)
	m.observedByte.Delete(labels)
	m.alive.Delete(labels)
	m.estCapBps.Delete(labels)
	m.owdMs.Delete(labels)
	m.packetsSent.Delete(labels)
	m.packetsAcked.Delete(labels)
	m.retransmissions.Delete(labels)
	m.fecRepairsSent.Delete(labels)
	m.packetsExpired.Delete(labels)
}
