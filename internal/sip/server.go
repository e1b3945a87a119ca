package sip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/tgsip/tgsip/internal/eventqueue"
	"github.com/tgsip/tgsip/internal/media"
)

// Adapter wraps the sipgo stack and presents the gateway's view of SIP:
// Dial, Ring, Answer, Hangup, DialDTMF and BridgeAudio on one side,
// events on the queue on the other.
type Adapter struct {
	cfg         Config
	identity    sip.Uri
	callback    sip.Uri
	hasCallback bool

	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	pool   *media.Pool
	events *eventqueue.Queue[Event]
	calls  *registry
	setups chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New builds the adapter. The queue receives every event the stack
// produces; the pool supplies RTP sockets for the calls' media sessions.
func New(cfg Config, pool *media.Pool, events *eventqueue.Queue[Event], logger *slog.Logger) (*Adapter, error) {
	logger = logger.With("component", "sip")

	var identity sip.Uri
	if err := sip.ParseUri(cfg.IDURI, &identity); err != nil {
		return nil, fmt.Errorf("parsing id uri %q: %w", cfg.IDURI, err)
	}

	var callback sip.Uri
	hasCallback := cfg.CallbackURI != ""
	if hasCallback {
		if err := sip.ParseUri(cfg.CallbackURI, &callback); err != nil {
			return nil, fmt.Errorf("parsing callback uri %q: %w", cfg.CallbackURI, err)
		}
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("tgsip"),
		sipgo.WithUserAgentHostname(identity.Host),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua,
		sipgo.WithServerLogger(logger),
	)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip server: %w", err)
	}

	clientHost := cfg.PublicAddress
	if clientHost == "" {
		clientHost = identity.Host
	}
	client, err := sipgo.NewClient(ua,
		sipgo.WithClientLogger(logger),
		sipgo.WithClientHostname(clientHost),
		sipgo.WithClientPort(cfg.Port),
	)
	if err != nil {
		srv.Close()
		ua.Close()
		return nil, fmt.Errorf("creating sip client: %w", err)
	}

	setupSlots := cfg.ThreadCount
	if setupSlots < 1 {
		setupSlots = 1
	}

	a := &Adapter{
		cfg:         cfg,
		identity:    identity,
		callback:    callback,
		hasCallback: hasCallback,
		ua:          ua,
		srv:         srv,
		client:      client,
		pool:        pool,
		events:      events,
		calls:       newRegistry(logger),
		setups:      make(chan struct{}, setupSlots),
		logger:      logger,
	}

	srv.OnInvite(a.handleInvite)
	srv.OnAck(a.handleAck)
	srv.OnBye(a.handleBye)
	srv.OnCancel(a.handleCancel)
	srv.OnOptions(a.handleOptions)
	srv.OnInfo(a.handleInfo)

	return a, nil
}

// Start brings up the UDP and TCP listeners. It returns once both are
// spawned; listener failures are logged, not returned.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	addr := fmt.Sprintf("0.0.0.0:%d", a.cfg.Port)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("sip udp listener starting", "addr", addr)
		if err := a.srv.ListenAndServe(ctx, "udp", addr); err != nil {
			a.logger.Error("sip udp listener stopped", "error", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("sip tcp listener starting", "addr", addr)
		if err := a.srv.ListenAndServe(ctx, "tcp", addr); err != nil {
			a.logger.Error("sip tcp listener stopped", "error", err)
		}
	}()

	return nil
}

// Close hangs up every live call, stops the listeners and releases the
// stack.
func (a *Adapter) Close() {
	a.logger.Info("stopping sip adapter", "live_calls", a.calls.count())
	for _, c := range a.calls.snapshot() {
		if err := a.Hangup(c.id, 503, "gateway shutting down"); err != nil {
			a.logger.Debug("hangup on shutdown failed", "call_id", c.id, "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.srv.Close()
	a.ua.Close()
	a.logger.Info("sip adapter stopped")
}

// ActiveCalls returns the number of calls the adapter tracks.
func (a *Adapter) ActiveCalls() int {
	return a.calls.count()
}

// BridgeAudio connects the call's RTP stream to a PCM source and sink.
func (a *Adapter) BridgeAudio(id CallID, src io.Reader, dst io.Writer) error {
	c := a.calls.get(id)
	if c == nil {
		return ErrUnknownCall
	}
	return c.session.Bridge(src, dst)
}

// DialDTMF plays keypad digits into the call as telephone events.
func (a *Adapter) DialDTMF(id CallID, digits string) error {
	c := a.calls.get(id)
	if c == nil {
		return ErrUnknownCall
	}
	a.logger.Info("sending dtmf", "call_id", id, "digits", digits)
	return c.session.SendDTMF(digits)
}

// finish untracks the call, releases its media and reports the
// disconnect. Safe to call multiple times; only the first does work.
func (a *Adapter) finish(c *call, code int, reason string) {
	removed := a.calls.remove(c.id)
	if removed == nil {
		return
	}
	c.mu.Lock()
	c.phase = phaseTerminated
	session := c.session
	c.mu.Unlock()
	if session != nil {
		session.Close()
	}
	a.logger.Info("call ended",
		"call_id", c.id,
		"direction", c.direction,
		"code", code,
		"reason", reason,
	)
	a.events.Push(CallStateUpdate{ID: c.id, State: CallStateDisconnected, Code: code})
}

// handleAck confirms an answered inbound call.
func (a *Adapter) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	c := a.lookupWire(req)
	if c == nil {
		return
	}
	c.mu.Lock()
	confirmed := c.direction == directionInbound && c.phase == phaseAnswered
	if confirmed {
		c.phase = phaseConfirmed
	}
	c.mu.Unlock()
	if !confirmed {
		return
	}
	a.logger.Debug("sip ack received", "call_id", c.id)
	a.events.Push(CallStateUpdate{ID: c.id, State: CallStateConfirmed})
	a.events.Push(MediaStateUpdate{ID: c.id, Active: true})
}

// handleBye tears down an established call at the peer's request.
func (a *Adapter) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		a.logger.Error("failed to respond to bye", "error", err)
	}
	c := a.lookupWire(req)
	if c == nil {
		return
	}
	a.finish(c, 200, "remote bye")
}

// handleCancel aborts a not-yet-answered inbound call. The INVITE
// transaction gets 487 Request Terminated.
func (a *Adapter) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		a.logger.Error("failed to respond to cancel", "error", err)
	}
	c := a.lookupWire(req)
	if c == nil {
		return
	}
	c.mu.Lock()
	cancellable := c.direction == directionInbound && c.phase == phaseSetup
	inviteReq, inviteTx := c.inviteReq, c.inviteTx
	c.mu.Unlock()
	if !cancellable {
		return
	}
	terminated := sip.NewResponseFromRequest(inviteReq, 487, "Request Terminated", nil)
	if err := inviteTx.Respond(terminated); err != nil {
		a.logger.Error("failed to send 487 on cancel", "call_id", c.id, "error", err)
	}
	a.finish(c, 487, "remote cancel")
}

// handleOptions answers keepalive pings.
func (a *Adapter) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO"))
	if err := tx.Respond(res); err != nil {
		a.logger.Error("failed to respond to options", "error", err)
	}
}

// handleInfo acknowledges INFO requests and logs out-of-band DTMF. The
// audio path carries telephone events already, so the digits are not
// acted upon here.
func (a *Adapter) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	if ct := req.ContentType(); ct != nil {
		if info, err := media.ParseSIPInfoDTMF(ct.Value(), req.Body()); err == nil {
			callID := CallID("")
			if c := a.lookupWire(req); c != nil {
				callID = c.id
			}
			a.logger.Info("sip info dtmf received",
				"signal", info.Signal,
				"duration", info.Duration,
				"call_id", callID,
			)
		}
	}
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		a.logger.Error("failed to respond to info", "error", err)
	}
}

func (a *Adapter) lookupWire(req *sip.Request) *call {
	cid := req.CallID()
	if cid == nil {
		return nil
	}
	return a.calls.getByWire(cid.Value())
}
