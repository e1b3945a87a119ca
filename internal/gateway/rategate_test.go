package gateway

import (
	"testing"
	"time"
)

func TestRateGateObserve(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		extraWait time.Duration
		peerFlood time.Duration
		matched   bool
		minBlock  time.Duration
		maxBlock  time.Duration
	}{
		{
			name:      "retry after with extra wait",
			message:   "Too Many Requests: retry after 7",
			extraWait: 30 * time.Second,
			matched:   true,
			minBlock:  36 * time.Second,
			maxBlock:  37 * time.Second,
		},
		{
			name:     "retry after without extra wait",
			message:  "Too Many Requests: retry after 5",
			matched:  true,
			minBlock: 4 * time.Second,
			maxBlock: 5 * time.Second,
		},
		{
			name:      "peer flood",
			message:   "PEER_FLOOD",
			peerFlood: 86400 * time.Second,
			matched:   true,
			minBlock:  86399 * time.Second,
			maxBlock:  86400 * time.Second,
		},
		{
			name:      "peer flood embedded in message",
			message:   "Telegram says: PEER_FLOOD, slow down",
			peerFlood: time.Minute,
			matched:   true,
			minBlock:  59 * time.Second,
			maxBlock:  time.Minute,
		},
		{
			name:    "unrelated error leaves the gate open",
			message: "USER_PRIVACY_RESTRICTED",
		},
		{
			name:    "retry after without a number",
			message: "Too Many Requests: retry after soon",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newRateGate(tt.extraWait, tt.peerFlood)
			if got := g.observe(tt.message); got != tt.matched {
				t.Fatalf("observe(%q) = %v, want %v", tt.message, got, tt.matched)
			}

			remaining, blocked := g.blocked()
			if blocked != tt.matched {
				t.Fatalf("blocked() = %v, want %v", blocked, tt.matched)
			}
			if !tt.matched {
				return
			}
			if remaining <= tt.minBlock || remaining > tt.maxBlock {
				t.Errorf("remaining = %s, want within (%s, %s]", remaining, tt.minBlock, tt.maxBlock)
			}
		})
	}
}

func TestRateGateExpires(t *testing.T) {
	g := newRateGate(0, 0)
	g.block(10 * time.Millisecond)
	if _, blocked := g.blocked(); !blocked {
		t.Fatal("gate open right after block")
	}
	time.Sleep(20 * time.Millisecond)
	if remaining, blocked := g.blocked(); blocked {
		t.Fatalf("gate still blocked %s after deadline passed", remaining)
	}
}

func TestRateGateOpenByDefault(t *testing.T) {
	g := newRateGate(30*time.Second, time.Hour)
	if remaining, blocked := g.blocked(); blocked {
		t.Fatalf("fresh gate blocked for %s", remaining)
	}
}
