package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	BidsTotal *prometheus.CounterVec // result=accepted|<reject reason>

	BidLatencyMS prometheus.Histogram

	LotsActive       prometheus.Gauge
	Subscribers      prometheus.Gauge
	BroadcastDropped prometheus.Counter
	PersistRetries   prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		BidsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auction_bids_total",
				Help: "Total bid submissions by result",
			},
			[]string{"result"},
		),
		BidLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_bid_latency_ms",
			Help:    "Latency of bid arbitration (ms)",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
		}),
		LotsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_lots_active",
			Help: "Number of lots currently accepting bids",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_subscribers",
			Help: "Number of live lot subscriptions",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_broadcast_dropped_total",
			Help: "Subscriber outbox overflows recovered via resnapshot",
		}),
		PersistRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_persist_retries_total",
			Help: "Write-behind persistence retries",
		}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.BidsTotal,
		m.BidLatencyMS,
		m.LotsActive,
		m.Subscribers,
		m.BroadcastDropped,
		m.PersistRetries,
	)
}
