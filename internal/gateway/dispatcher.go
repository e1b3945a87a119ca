package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/tgsip/tgsip/internal/eventqueue"
	"github.com/tgsip/tgsip/internal/sip"
	"github.com/tgsip/tgsip/internal/telegram"
	"github.com/tgsip/tgsip/internal/voip"
)

// tickFloor is the minimum duration of one dispatcher iteration. It
// bounds CPU when idle while staying far below signalling timescales.
const tickFloor = 10 * time.Millisecond

// Dispatcher runs the control loop. It is the only reader of the three
// event queues and the only writer of call contexts, which makes event
// correlation race-free and lets actions issue blocking queries without
// any locking.
type Dispatcher struct {
	cfg         Config
	tg          TelegramClient
	ssp         SIPClient
	voipFactory voip.Factory

	cache *contactCache
	gate  *rateGate

	internal  *eventqueue.Queue[InternalError]
	tgEvents  *eventqueue.Queue[telegram.Object]
	sipEvents *eventqueue.Queue[sip.Event]

	// mu guards the calls slice for snapshot readers. The dispatcher
	// goroutine is the only mutator.
	mu    sync.Mutex
	calls []*callContext

	idPrefix string
	counter  int64

	started time.Time
	stopped atomic.Bool

	fromTelegramTotal  atomic.Uint64
	fromSIPTotal       atomic.Uint64
	bridgedTotal       atomic.Uint64
	dtmfTotal          atomic.Uint64
	floodRejectedTotal atomic.Uint64

	logger *slog.Logger
}

// New wires a dispatcher to its collaborators. The store may be nil,
// in which case resolved contacts live only in memory.
func New(cfg Config, tg TelegramClient, ssp SIPClient, factory voip.Factory,
	tgEvents *eventqueue.Queue[telegram.Object], sipEvents *eventqueue.Queue[sip.Event],
	store *ContactStore, logger *slog.Logger) *Dispatcher {

	logger = logger.With("component", "gateway")
	return &Dispatcher{
		cfg:         cfg,
		tg:          tg,
		ssp:         ssp,
		voipFactory: factory,
		cache:       newContactCache(store, logger),
		gate:        newRateGate(cfg.ExtraWait, cfg.PeerFlood),
		internal:    eventqueue.New[InternalError](),
		tgEvents:    tgEvents,
		sipEvents:   sipEvents,
		idPrefix:    strconv.Itoa(os.Getpid()) + "-",
		started:     time.Now(),
		logger:      logger,
	}
}

// Run warms the contact cache and then loops until Stop is called or
// ctx is cancelled. Each iteration consumes at most one event from each
// queue and takes at least tickFloor.
func (d *Dispatcher) Run(ctx context.Context) {
	d.cache.load(ctx, d.tg)

	d.logger.Info("dispatcher running")
	for !d.stopped.Load() && ctx.Err() == nil {
		tickStart := time.Now()

		if ev, ok := d.internal.TryPop(); ok {
			d.handleInternal(ctx, ev)
		}
		if obj, ok := d.tgEvents.TryPop(); ok {
			d.handleTelegram(ctx, obj)
		}
		if ev, ok := d.sipEvents.TryPop(); ok {
			d.handleSIP(ctx, ev)
		}

		if wait := tickFloor - time.Since(tickStart); wait > 0 {
			time.Sleep(wait)
		}
	}
	d.logger.Info("dispatcher stopped", "active_calls", d.ActiveCalls())
}

// Stop makes Run return at the top of its next iteration.
func (d *Dispatcher) Stop() {
	d.stopped.Store(true)
}

func (d *Dispatcher) handleInternal(ctx context.Context, ev InternalError) {
	c := d.findByID(ev.CtxID)
	if c == nil {
		d.logger.Debug("internal error for dead context", "ctx_id", ev.CtxID)
		return
	}
	d.advance(ctx, c, evInternal, ev)
}

func (d *Dispatcher) handleTelegram(ctx context.Context, obj telegram.Object) {
	switch update := obj.(type) {
	case *telegram.UpdateCall:
		c := d.findByTgCall(update.Call.ID)
		if c == nil {
			c = d.newContext()
		}
		d.advance(ctx, c, classifyCall(update, d.cfg.callbackSet()), update)
	case *telegram.UpdateNewMessage:
		d.routeMessage(ctx, update)
	default:
		d.logger.Debug("dropping telegram object", "type", fmt.Sprintf("%T", obj))
	}
}

// routeMessage correlates an incoming text message by sender. Exactly
// one live bridge may claim a sender; more than one makes the keypad
// input ambiguous and the message is dropped.
func (d *Dispatcher) routeMessage(ctx context.Context, update *telegram.UpdateNewMessage) {
	content, ok := update.Message.Content.(*telegram.MessageText)
	if !ok {
		return
	}
	sender := update.Message.SenderUserID
	if !isDTMF(content.Text.Text) {
		d.logger.Debug("ignoring non-dtmf text", "tg_user_id", sender)
		return
	}

	var matches []*callContext
	for _, c := range d.calls {
		if c.tgUserID == sender {
			matches = append(matches, c)
		}
	}
	if len(matches) > 1 {
		d.logger.Error("ambiguous message sender, dropping dtmf", "tg_user_id", sender)
		return
	}
	if len(matches) == 1 {
		d.advance(ctx, matches[0], evDtmf, update)
	}
}

func (d *Dispatcher) handleSIP(ctx context.Context, ev sip.Event) {
	name, ok := classifySIP(ev)
	if !ok {
		return
	}
	c := d.findBySipCall(ev.Call())
	if c == nil {
		// Only a new invite may open a context; late events of an
		// already reaped call have nowhere to go.
		if name != evSipIncoming {
			d.logger.Debug("dropping sip event for unknown call", "sip_call_id", ev.Call())
			return
		}
		c = d.newContext()
	}
	d.advance(ctx, c, name, ev)
}

// advance feeds one classified event into a context's machine and reaps
// the context once it reaches the terminal state.
func (d *Dispatcher) advance(ctx context.Context, c *callContext, event string, arg any) {
	if err := c.machine.Event(ctx, event, arg); err != nil {
		var invalid fsm.InvalidEventError
		var noop fsm.NoTransitionError
		switch {
		case errors.As(err, &noop):
			// Self-transition, the machine stays put.
		case errors.As(err, &invalid):
			c.logger.Debug("event ignored", "event", event, "state", c.state())
		default:
			c.logger.Warn("machine rejected event", "event", event, "error", err)
		}
	}
	if c.state() == stateDone {
		d.destroy(c)
	}
}

func (d *Dispatcher) newContext() *callContext {
	d.counter++
	c := &callContext{id: d.idPrefix + strconv.FormatInt(d.counter, 10)}
	c.logger = d.logger.With("ctx_id", c.id)
	c.machine = newMachine(d, c)

	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()

	c.logger.Debug("call context created")
	return c
}

func (d *Dispatcher) destroy(c *callContext) {
	d.mu.Lock()
	for i, other := range d.calls {
		if other == c {
			d.calls = append(d.calls[:i], d.calls[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	c.logger.Info("call context destroyed")
}

func (d *Dispatcher) findByID(id string) *callContext {
	for _, c := range d.calls {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (d *Dispatcher) findByTgCall(tgCallID int32) *callContext {
	for _, c := range d.calls {
		if c.tgCallID == tgCallID {
			return c
		}
	}
	return nil
}

func (d *Dispatcher) findBySipCall(id sip.CallID) *callContext {
	if !id.Valid() {
		return nil
	}
	for _, c := range d.calls {
		if c.sipCallID == id {
			return c
		}
	}
	return nil
}

// ActiveCalls returns the number of live contexts. Safe from any
// goroutine.
func (d *Dispatcher) ActiveCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// CallStatus is the externally visible state of one live bridge.
type CallStatus struct {
	ID    string
	State string
}

// Snapshot is a point-in-time view of the dispatcher for the ops
// surface.
type Snapshot struct {
	Started            time.Time
	ActiveCalls        int
	Calls              []CallStatus
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

// Snapshot assembles the current status. Safe from any goroutine; the
// per-call state reads go through the machine's own lock.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	calls := make([]CallStatus, 0, len(d.calls))
	for _, c := range d.calls {
		calls = append(calls, CallStatus{ID: c.id, State: c.state()})
	}
	d.mu.Unlock()

	usernames, phones := d.cache.sizes()
	blockedFor, _ := d.gate.blocked()

	return Snapshot{
		Started:            d.started,
		ActiveCalls:        len(calls),
		Calls:              calls,
		FromTelegramTotal:  d.fromTelegramTotal.Load(),
		FromSIPTotal:       d.fromSIPTotal.Load(),
		BridgedTotal:       d.bridgedTotal.Load(),
		DTMFTotal:          d.dtmfTotal.Load(),
		FloodRejectedTotal: d.floodRejectedTotal.Load(),
		GateBlockedFor:     blockedFor,
		CachedUsernames:    usernames,
		CachedPhones:       phones,
		TelegramQueueDepth: d.tgEvents.Len(),
		SIPQueueDepth:      d.sipEvents.Len(),
		InternalQueueDepth: d.internal.Len(),
	}
}
