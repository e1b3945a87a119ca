package sip

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/tgsip/tgsip/internal/media"
)

type direction string

const (
	directionInbound  direction = "inbound"
	directionOutbound direction = "outbound"
)

type callPhase int

const (
	// phaseSetup covers an inbound call before answer and an outbound
	// call before a final response.
	phaseSetup callPhase = iota
	// phaseAnswered covers an inbound call with 200 sent, awaiting ACK.
	phaseAnswered
	// phaseConfirmed covers an established dialog.
	phaseConfirmed
	phaseTerminated
)

// call is one SIP call leg with everything needed to advance or tear
// down its dialog later, from another goroutine than the one that
// created it.
type call struct {
	id        CallID
	direction direction

	mu       sync.Mutex
	phase    callPhase
	session  *media.Session
	localTag string

	// Inbound leg: the INVITE we received and its open transaction.
	inviteReq *sip.Request
	inviteTx  sip.ServerTransaction
	offer     []byte

	// Outbound leg: the INVITE we sent, its 2xx, and a cancel func
	// aborting the dialing goroutine.
	clientReq *sip.Request
	clientTx  sip.ClientTransaction
	finalRes  *sip.Response
	cancel    context.CancelFunc
}

func newCall(dir direction) *call {
	return &call{
		id:        CallID(uuid.NewString()),
		direction: dir,
		localTag:  sip.GenerateTagN(16),
	}
}

// sipCallID returns the wire Call-ID of whichever INVITE this leg holds.
func (c *call) sipCallID() string {
	req := c.inviteReq
	if req == nil {
		req = c.clientReq
	}
	if req == nil {
		return ""
	}
	if cid := req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

// registry tracks the adapter's live calls, indexed both by the
// adapter-assigned id (used by the dispatcher) and by the wire Call-ID
// (used to match in-dialog requests).
type registry struct {
	mu     sync.RWMutex
	byID   map[CallID]*call
	byWire map[string]*call
	logger *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		byID:   make(map[CallID]*call),
		byWire: make(map[string]*call),
		logger: logger.With("subsystem", "calls"),
	}
}

func (r *registry) add(c *call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.id] = c
	if wire := c.sipCallID(); wire != "" {
		r.byWire[wire] = c
	}
	r.logger.Debug("call tracked", "call_id", c.id, "direction", c.direction)
}

func (r *registry) get(id CallID) *call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *registry) getByWire(sipCallID string) *call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byWire[sipCallID]
}

// remove untracks the call. It returns nil when the call was already
// removed, letting callers race on teardown without double-firing
// events.
func (r *registry) remove(id CallID) *call {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	if wire := c.sipCallID(); wire != "" {
		delete(r.byWire, wire)
	}
	return c
}

// snapshot returns the live calls, safe to iterate without the lock.
func (r *registry) snapshot() []*call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	calls := make([]*call, 0, len(r.byID))
	for _, c := range r.byID {
		calls = append(calls, c)
	}
	return calls
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
