package perf

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// sessionStats is one throughput session's exported counters.
type sessionStats struct {
	pktCount   uint64
	totalBytes uint64
	lossRate   float64
	labels     []string
}

// PacketCounter is a prometheus.Collector exporting live throughput-session
// counters, modeled directly on the teacher's exporter.TCPInfoCollector:
// the same Describe/Collect shape, the same mutex-guarded map keyed by a
// caller-supplied handle, and the same Add/Remove pair — except it tracks
// a perf session's (pkt_count, total_bytes, loss_rate) instead of a
// net.Conn's TCPInfo.
type PacketCounter struct {
	mu       sync.Mutex
	sessions map[string]*sessionStats

	pktCountDesc   *prometheus.Desc
	totalBytesDesc *prometheus.Desc
	lossRateDesc   *prometheus.Desc
}

// NewPacketCounter builds a PacketCounter whose metrics carry
// sessionLabels (known up front; values are supplied per session via Add).
func NewPacketCounter(prefix string, sessionLabels []string) *PacketCounter {
	return &PacketCounter{
		sessions:       make(map[string]*sessionStats),
		pktCountDesc:   prometheus.NewDesc(prefix+"_packets_total", "Packets received by a throughput session.", sessionLabels, nil),
		totalBytesDesc: prometheus.NewDesc(prefix+"_bytes_total", "Bytes received by a throughput session.", sessionLabels, nil),
		lossRateDesc:   prometheus.NewDesc(prefix+"_loss_rate", "Most recent per-tick loss rate for a throughput session.", sessionLabels, nil),
	}
}

func (p *PacketCounter) Describe(descs chan<- *prometheus.Desc) {
	descs <- p.pktCountDesc
	descs <- p.totalBytesDesc
	descs <- p.lossRateDesc
}

func (p *PacketCounter) Collect(metrics chan<- prometheus.Metric) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		metrics <- prometheus.MustNewConstMetric(p.pktCountDesc, prometheus.CounterValue, float64(s.pktCount), s.labels...)
		metrics <- prometheus.MustNewConstMetric(p.totalBytesDesc, prometheus.CounterValue, float64(s.totalBytes), s.labels...)
		metrics <- prometheus.MustNewConstMetric(p.lossRateDesc, prometheus.GaugeValue, s.lossRate, s.labels...)
	}
}

// Add registers a session under id with the given label values.
func (p *PacketCounter) Add(id string, labels []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id] = &sessionStats{labels: labels}
}

// Update records a session's latest counters; safe to call from the stats
// worker tick callback.
func (p *PacketCounter) Update(id string, pktCount, totalBytes uint64, lossRate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return
	}
	s.pktCount, s.totalBytes, s.lossRate = pktCount, totalBytes, lossRate
}

// Remove unregisters a session, e.g. when its throughput responder session
// ends.
func (p *PacketCounter) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, id)
}
