package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BridgeStats is the dispatcher state sampled at scrape time.
type BridgeStats struct {
	ActiveCalls        int
	FromTelegramTotal  uint64
	FromSIPTotal       uint64
	BridgedTotal       uint64
	DTMFTotal          uint64
	FloodRejectedTotal uint64
	GateBlockedFor     time.Duration
	CachedUsernames    int
	CachedPhones       int
	TelegramQueueDepth int
	SIPQueueDepth      int
	InternalQueueDepth int
}

// BridgeStatsProvider exposes the call dispatcher to the collector.
type BridgeStatsProvider interface {
	BridgeStats() BridgeStats
}

// TelegramStatusProvider reports whether the Telegram session is
// authorized and processing updates.
type TelegramStatusProvider interface {
	Ready() bool
}

// SIPCallsProvider exposes the number of call legs the SIP adapter tracks.
type SIPCallsProvider interface {
	ActiveCalls() int
}

// PortPoolProvider exposes RTP port pool usage.
type PortPoolProvider interface {
	Capacity() int
	AllocatedCount() int
}

// Collector is a prometheus.Collector that gathers gateway metrics at
// scrape time. Any provider may be nil if unavailable.
type Collector struct {
	bridge   BridgeStatsProvider
	telegram TelegramStatusProvider
	sipCalls SIPCallsProvider
	ports    PortPoolProvider

	startTime time.Time

	// Metric descriptors.
	activeCallsDesc   *prometheus.Desc
	callsTotalDesc    *prometheus.Desc
	bridgedTotalDesc  *prometheus.Desc
	dtmfTotalDesc     *prometheus.Desc
	floodTotalDesc    *prometheus.Desc
	floodBlockDesc    *prometheus.Desc
	cachedDesc        *prometheus.Desc
	queueDepthDesc    *prometheus.Desc
	telegramReadyDesc *prometheus.Desc
	sipCallsDesc      *prometheus.Desc
	portsCapacityDesc *prometheus.Desc
	portsInUseDesc    *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a new metrics collector.
func NewCollector(
	bridge BridgeStatsProvider,
	telegram TelegramStatusProvider,
	sipCalls SIPCallsProvider,
	ports PortPoolProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		bridge:    bridge,
		telegram:  telegram,
		sipCalls:  sipCalls,
		ports:     ports,
		startTime: startTime,

		activeCallsDesc: prometheus.NewDesc(
			"tgsip_active_calls",
			"Number of live call bridges",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"tgsip_calls_total",
			"Total calls seen, by originating side",
			[]string{"origin"}, nil,
		),
		bridgedTotalDesc: prometheus.NewDesc(
			"tgsip_calls_bridged_total",
			"Total calls that reached two-way audio",
			nil, nil,
		),
		dtmfTotalDesc: prometheus.NewDesc(
			"tgsip_dtmf_forwarded_total",
			"Total text messages forwarded as DTMF",
			nil, nil,
		),
		floodTotalDesc: prometheus.NewDesc(
			"tgsip_flood_rejected_total",
			"Total outbound dials refused while the rate gate was closed",
			nil, nil,
		),
		floodBlockDesc: prometheus.NewDesc(
			"tgsip_flood_block_seconds",
			"Seconds until outbound Telegram dials resume (0 when open)",
			nil, nil,
		),
		cachedDesc: prometheus.NewDesc(
			"tgsip_cached_contacts",
			"Resolved contacts held in the cache",
			[]string{"kind"}, nil,
		),
		queueDepthDesc: prometheus.NewDesc(
			"tgsip_event_queue_depth",
			"Events waiting for the dispatcher",
			[]string{"queue"}, nil,
		),
		telegramReadyDesc: prometheus.NewDesc(
			"tgsip_telegram_ready",
			"Whether the Telegram session is authorized (1) or not (0)",
			nil, nil,
		),
		sipCallsDesc: prometheus.NewDesc(
			"tgsip_sip_calls_active",
			"Call legs tracked by the SIP adapter",
			nil, nil,
		),
		portsCapacityDesc: prometheus.NewDesc(
			"tgsip_rtp_port_pairs_capacity",
			"RTP/RTCP port pairs the configured range can hold",
			nil, nil,
		),
		portsInUseDesc: prometheus.NewDesc(
			"tgsip_rtp_port_pairs_in_use",
			"RTP/RTCP port pairs currently allocated",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"tgsip_uptime_seconds",
			"Seconds since the gateway process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.callsTotalDesc
	ch <- c.bridgedTotalDesc
	ch <- c.dtmfTotalDesc
	ch <- c.floodTotalDesc
	ch <- c.floodBlockDesc
	ch <- c.cachedDesc
	ch <- c.queueDepthDesc
	ch <- c.telegramReadyDesc
	ch <- c.sipCallsDesc
	ch <- c.portsCapacityDesc
	ch <- c.portsInUseDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.bridge != nil {
		stats := c.bridge.BridgeStats()

		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(stats.ActiveCalls),
		)
		ch <- prometheus.MustNewConstMetric(
			c.callsTotalDesc, prometheus.CounterValue,
			float64(stats.FromTelegramTotal), "telegram",
		)
		ch <- prometheus.MustNewConstMetric(
			c.callsTotalDesc, prometheus.CounterValue,
			float64(stats.FromSIPTotal), "sip",
		)
		ch <- prometheus.MustNewConstMetric(
			c.bridgedTotalDesc, prometheus.CounterValue,
			float64(stats.BridgedTotal),
		)
		ch <- prometheus.MustNewConstMetric(
			c.dtmfTotalDesc, prometheus.CounterValue,
			float64(stats.DTMFTotal),
		)
		ch <- prometheus.MustNewConstMetric(
			c.floodTotalDesc, prometheus.CounterValue,
			float64(stats.FloodRejectedTotal),
		)
		ch <- prometheus.MustNewConstMetric(
			c.floodBlockDesc, prometheus.GaugeValue,
			stats.GateBlockedFor.Seconds(),
		)
		ch <- prometheus.MustNewConstMetric(
			c.cachedDesc, prometheus.GaugeValue,
			float64(stats.CachedUsernames), "username",
		)
		ch <- prometheus.MustNewConstMetric(
			c.cachedDesc, prometheus.GaugeValue,
			float64(stats.CachedPhones), "phone",
		)
		ch <- prometheus.MustNewConstMetric(
			c.queueDepthDesc, prometheus.GaugeValue,
			float64(stats.TelegramQueueDepth), "telegram",
		)
		ch <- prometheus.MustNewConstMetric(
			c.queueDepthDesc, prometheus.GaugeValue,
			float64(stats.SIPQueueDepth), "sip",
		)
		ch <- prometheus.MustNewConstMetric(
			c.queueDepthDesc, prometheus.GaugeValue,
			float64(stats.InternalQueueDepth), "internal",
		)
	}

	if c.telegram != nil {
		ready := 0.0
		if c.telegram.Ready() {
			ready = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.telegramReadyDesc, prometheus.GaugeValue, ready,
		)
	}

	if c.sipCalls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.sipCallsDesc, prometheus.GaugeValue,
			float64(c.sipCalls.ActiveCalls()),
		)
	}

	if c.ports != nil {
		ch <- prometheus.MustNewConstMetric(
			c.portsCapacityDesc, prometheus.GaugeValue,
			float64(c.ports.Capacity()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.portsInUseDesc, prometheus.GaugeValue,
			float64(c.ports.AllocatedCount()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
