package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeBridge struct{ stats BridgeStats }

func (f fakeBridge) BridgeStats() BridgeStats { return f.stats }

type fakeReady bool

func (f fakeReady) Ready() bool { return bool(f) }

type fakeSIPCalls int

func (f fakeSIPCalls) ActiveCalls() int { return int(f) }

type fakePool struct{ capacity, used int }

func (f fakePool) Capacity() int       { return f.capacity }
func (f fakePool) AllocatedCount() int { return f.used }

// gather registers the collector in a pedantic registry and returns the
// scraped samples keyed by name and label values.
func gather(t *testing.T, c *Collector) map[string]float64 {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	samples := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, label := range m.GetLabel() {
				key += "{" + label.GetName() + "=" + label.GetValue() + "}"
			}
			var value float64
			switch {
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			}
			samples[key] = value
		}
	}
	return samples
}

func TestCollectorScrapesProviders(t *testing.T) {
	c := NewCollector(
		fakeBridge{stats: BridgeStats{
			ActiveCalls:        2,
			FromTelegramTotal:  5,
			FromSIPTotal:       7,
			BridgedTotal:       9,
			DTMFTotal:          3,
			FloodRejectedTotal: 1,
			GateBlockedFor:     30 * time.Second,
			CachedUsernames:    11,
			CachedPhones:       13,
			TelegramQueueDepth: 1,
			SIPQueueDepth:      2,
			InternalQueueDepth: 0,
		}},
		fakeReady(true),
		fakeSIPCalls(2),
		fakePool{capacity: 100, used: 4},
		time.Now().Add(-time.Minute),
	)

	samples := gather(t, c)

	want := map[string]float64{
		"tgsip_active_calls":                   2,
		"tgsip_calls_total{origin=telegram}":   5,
		"tgsip_calls_total{origin=sip}":        7,
		"tgsip_calls_bridged_total":            9,
		"tgsip_dtmf_forwarded_total":           3,
		"tgsip_flood_rejected_total":           1,
		"tgsip_flood_block_seconds":            30,
		"tgsip_cached_contacts{kind=username}": 11,
		"tgsip_cached_contacts{kind=phone}":    13,
		"tgsip_event_queue_depth{queue=telegram}": 1,
		"tgsip_event_queue_depth{queue=sip}":      2,
		"tgsip_event_queue_depth{queue=internal}": 0,
		"tgsip_telegram_ready":                    1,
		"tgsip_sip_calls_active":                  2,
		"tgsip_rtp_port_pairs_capacity":           100,
		"tgsip_rtp_port_pairs_in_use":             4,
	}
	for key, wantValue := range want {
		got, ok := samples[key]
		if !ok {
			t.Errorf("metric %s missing from scrape", key)
			continue
		}
		if got != wantValue {
			t.Errorf("metric %s = %v, want %v", key, got, wantValue)
		}
	}

	if uptime := samples["tgsip_uptime_seconds"]; uptime < 59 {
		t.Errorf("tgsip_uptime_seconds = %v, want at least a minute", uptime)
	}
}

func TestCollectorToleratesNilProviders(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil, time.Now())

	samples := gather(t, c)

	if len(samples) != 1 {
		t.Errorf("samples = %v, want only the uptime metric", samples)
	}
	if _, ok := samples["tgsip_uptime_seconds"]; !ok {
		t.Error("tgsip_uptime_seconds missing")
	}
}

func TestCollectorReportsTelegramDown(t *testing.T) {
	c := NewCollector(nil, fakeReady(false), nil, nil, time.Now())

	samples := gather(t, c)

	if got := samples["tgsip_telegram_ready"]; got != 0 {
		t.Errorf("tgsip_telegram_ready = %v, want 0", got)
	}
}
