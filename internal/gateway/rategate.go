package gateway

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// retryAfterRE extracts the server-requested delay from a Telegram
// rate-limit error message.
var retryAfterRE = regexp.MustCompile(`Too Many Requests: retry after (\d+)`)

// rateGate is a single process-wide deadline. While it lies in the
// future, no outbound Telegram dial may touch the network. Comparisons
// rely on the monotonic reading carried by time.Now values, so wall
// clock steps do not shorten or extend a block.
type rateGate struct {
	extraWait time.Duration
	peerFlood time.Duration

	mu         sync.Mutex
	blockUntil time.Time
}

func newRateGate(extraWait, peerFlood time.Duration) *rateGate {
	return &rateGate{extraWait: extraWait, peerFlood: peerFlood}
}

// blocked reports whether the gate is closed and for how much longer.
func (g *rateGate) blocked() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	remaining := time.Until(g.blockUntil)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// observe parses a Telegram server error message and moves the deadline
// when it names a rate limit. It reports whether the message matched.
func (g *rateGate) observe(message string) bool {
	if m := retryAfterRE.FindStringSubmatch(message); m != nil {
		seconds, err := strconv.Atoi(m[1])
		if err != nil {
			return false
		}
		g.block(time.Duration(seconds)*time.Second + g.extraWait)
		return true
	}
	if strings.Contains(message, "PEER_FLOOD") {
		g.block(g.peerFlood)
		return true
	}
	return false
}

func (g *rateGate) block(d time.Duration) {
	g.mu.Lock()
	g.blockUntil = time.Now().Add(d)
	g.mu.Unlock()
}
