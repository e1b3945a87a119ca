package gateway

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/tgsip/tgsip/internal/sip"
	"github.com/tgsip/tgsip/internal/telegram"
	"github.com/tgsip/tgsip/internal/voip"
)

// postError raises an internal error event for the context. The
// dispatcher delivers it on a later iteration, which drives the machine
// to the terminal state. Actions never tear a call down directly.
func (d *Dispatcher) postError(c *callContext, code int, reason string) {
	d.internal.Push(InternalError{CtxID: c.id, Code: code, Reason: reason})
}

// queryCtx bounds one collaborator query.
func queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, actionTimeout)
}

func (d *Dispatcher) protocol() telegram.CallProtocol {
	return telegram.NewCallProtocol(d.cfg.UDPP2P, d.cfg.UDPReflector, callProtoMinLayer, voip.ConnectionMaxLayer)
}

func (d *Dispatcher) storeTgID(c *callContext, update *telegram.UpdateCall) {
	c.tgCallID = update.Call.ID
	c.logger.Debug("associated with telegram call", "tg_call_id", c.tgCallID)
}

func (d *Dispatcher) storeTgUserID(c *callContext, update *telegram.UpdateCall) {
	c.tgUserID = update.Call.UserID
}

func (d *Dispatcher) storeSipID(c *callContext, incoming sip.IncomingCall) {
	c.sipCallID = incoming.ID
	c.logger.Debug("associated with sip call", "sip_call_id", c.sipCallID)
}

func (d *Dispatcher) cleanTgID(c *callContext) {
	c.tgCallID = 0
}

func (d *Dispatcher) cleanSipID(c *callContext) {
	c.sipCallID = sip.NoCall
}

func (d *Dispatcher) setHangupPrm(c *callContext, errEvent InternalError) {
	c.hangupCode = errEvent.Code
	c.hangupReason = errEvent.Reason
	c.logger.Debug("hangup reason set", "code", errEvent.Code, "reason", errEvent.Reason)
}

// dialSip looks up the Telegram caller's profile and dials the callback
// peer with the caller identity spread over diagnostic headers.
func (d *Dispatcher) dialSip(ctx context.Context, c *callContext, update *telegram.UpdateCall) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()

	userID := update.Call.UserID
	user, err := d.tg.GetUser(qctx, userID)
	if err != nil {
		c.logger.Error("caller profile lookup failed", "tg_user_id", userID, "error", err)
		d.postError(c, statusInternalError, err.Error())
		return
	}

	headers := []sip.Header{
		{Name: "X-GW-Context", Value: c.id},
		{Name: "X-TG-ID", Value: strconv.FormatInt(userID, 10)},
	}
	for _, h := range []sip.Header{
		{Name: "X-TG-FirstName", Value: user.FirstName},
		{Name: "X-TG-LastName", Value: user.LastName},
		{Name: "X-TG-Username", Value: user.Username},
		{Name: "X-TG-Phone", Value: user.PhoneNumber},
	} {
		if h.Value != "" {
			headers = append(headers, h)
		}
	}

	sipID, err := d.ssp.Dial(headers)
	if err != nil {
		c.logger.Error("callback dial failed", "error", err)
		d.postError(c, statusInternalError, err.Error())
		return
	}
	c.sipCallID = sipID
	c.logger.Debug("associated with sip call", "sip_call_id", sipID)
}

// answerTg accepts the pending incoming Telegram call.
func (d *Dispatcher) answerTg(ctx context.Context, c *callContext) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()

	if err := d.tg.AcceptCall(qctx, c.tgCallID, d.protocol()); err != nil {
		c.logger.Error("telegram accept failed", "tg_call_id", c.tgCallID, "error", err)
		d.postError(c, statusInternalError, err.Error())
	}
}

// acceptIncomingSip decodes the dialled extension and puts the SIP call
// into ringing. An undecodable extension fails the call with a bad
// extension status before anything touches the Telegram side.
func (d *Dispatcher) acceptIncomingSip(c *callContext, incoming sip.IncomingCall) {
	target, err := parseExtension(incoming.Extension)
	if err != nil {
		c.logger.Warn("called invalid extension", "extension", incoming.Extension)
		d.postError(c, statusBadExtension, "invalid extension")
		return
	}
	c.extUsername = target.username
	c.extPhone = target.phone
	c.tgUserID = target.userID

	c.logger.Debug("ringing sip call", "sip_call_id", c.sipCallID)
	if err := d.ssp.Ring(c.sipCallID); err != nil {
		c.logger.Error("sip ringing failed", "error", err)
		d.postError(c, statusInternalError, err.Error())
	}
}

// answerSip sends the final 200 on the incoming SIP call.
func (d *Dispatcher) answerSip(c *callContext) {
	if c.controller == nil {
		// createTgVoip failed and already raised the teardown event.
		return
	}
	c.logger.Debug("answering sip call", "sip_call_id", c.sipCallID)
	if err := d.ssp.Answer(c.sipCallID); err != nil {
		c.logger.Error("sip answer failed", "error", err)
		d.postError(c, statusInternalError, err.Error())
	}
}

// createTgVoip builds and connects the voice transport from the ready
// state payload: per-call encryption key, relay endpoints and transport
// toggles.
func (d *Dispatcher) createTgVoip(c *callContext, update *telegram.UpdateCall) {
	ready, ok := update.Call.State.(*telegram.CallStateReady)
	if !ok {
		d.postError(c, statusInternalError, "call ready update without ready state")
		return
	}

	c.logger.Debug("creating voice transport", "tg_call_id", c.tgCallID,
		"endpoints", len(ready.Connections))

	endpoints := make([]voip.Endpoint, 0, len(ready.Connections))
	for _, conn := range ready.Connections {
		ep := voip.Endpoint{
			ID:   conn.ID,
			IPv4: conn.IP,
			IPv6: conn.IPv6,
			Port: uint16(conn.Port),
		}
		copy(ep.PeerTag[:], conn.PeerTag)
		endpoints = append(endpoints, ep)
	}

	setup := voip.CallSetup{
		Config:     d.cfg.Voip,
		Key:        ready.EncryptionKey,
		IsOutgoing: update.Call.IsOutgoing,
		Endpoints:  endpoints,
		MaxLayer:   voip.ConnectionMaxLayer,
		AllowP2P:   d.cfg.UDPP2P,
	}
	if err := setup.Validate(); err != nil {
		c.logger.Error("call setup rejected", "error", err)
		d.postError(c, statusInternalError, err.Error())
		return
	}

	controller, err := d.voipFactory(setup)
	if err != nil {
		c.logger.Error("voice transport not created", "error", err)
		d.postError(c, statusInternalError, err.Error())
		return
	}
	if err := controller.Start(); err != nil {
		c.logger.Error("voice transport start failed", "error", err)
		_ = controller.Stop()
		d.postError(c, statusInternalError, err.Error())
		return
	}
	if err := controller.Connect(); err != nil {
		c.logger.Error("voice transport connect failed", "error", err)
		_ = controller.Stop()
		d.postError(c, statusInternalError, err.Error())
		return
	}
	c.controller = controller
}

// bridgeAudio links the voice transport with the SIP call's RTP stream.
func (d *Dispatcher) bridgeAudio(c *callContext) {
	if c.controller == nil {
		// createTgVoip failed and already raised the teardown event.
		return
	}
	c.logger.Debug("bridging audio", "sip_call_id", c.sipCallID, "tg_call_id", c.tgCallID)
	if err := d.ssp.BridgeAudio(c.sipCallID, c.controller.Output(), c.controller.Input()); err != nil {
		c.logger.Error("audio bridge failed", "error", err)
		d.postError(c, statusInternalError, err.Error())
		return
	}
	d.bridgedTotal.Add(1)
	c.logger.Info("call bridged", "tg_call_id", c.tgCallID, "sip_call_id", c.sipCallID)
}

// dialDtmf forwards a text message verbatim as DTMF digits. Failures
// are logged only; a bad digit string must not kill the call.
func (d *Dispatcher) dialDtmf(c *callContext, update *telegram.UpdateNewMessage) {
	text := update.Message.Content.(*telegram.MessageText).Text.Text
	c.logger.Debug("sending dtmf", "digits", text)
	if err := d.ssp.DialDTMF(c.sipCallID, text); err != nil {
		c.logger.Error("dtmf not sent", "error", err)
		return
	}
	d.dtmfTotal.Add(1)
}

// dialTg resolves the dialled extension to a Telegram user and places
// the call. The rate gate is consulted before any network work.
func (d *Dispatcher) dialTg(ctx context.Context, c *callContext) {
	if remaining, blocked := d.gate.blocked(); blocked {
		seconds := int(remaining.Seconds())
		c.logger.Warn("dropping call, telegram dials blocked", "seconds_left", seconds)
		d.floodRejectedTotal.Add(1)
		d.postError(c, statusInternalError, "FLOOD_WAIT "+strconv.Itoa(seconds))
		return
	}

	c.logger.Debug("dialing telegram")
	switch {
	case c.extUsername != "":
		d.dialByUsername(ctx, c)
	case c.extPhone != "":
		d.dialByPhone(ctx, c)
	default:
		d.dialByID(ctx, c, c.tgUserID)
	}
}

func (d *Dispatcher) dialByUsername(ctx context.Context, c *callContext) {
	if id, ok := d.cache.lookupUsername(c.extUsername); ok {
		c.logger.Debug("username found in cache", "username", c.extUsername, "tg_user_id", id)
		d.dialByID(ctx, c, id)
		return
	}

	qctx, cancel := queryCtx(ctx)
	defer cancel()

	chat, err := d.tg.SearchPublicChat(qctx, c.extUsername)
	if err != nil {
		c.logger.Error("username lookup failed", "username", c.extUsername, "error", err)
		d.postError(c, statusInternalError, err.Error())
		d.observeRateLimit(err)
		return
	}

	private, ok := chat.ChatType.(*telegram.ChatTypePrivate)
	if !ok {
		c.logger.Warn("extension names a chat that is not a user", "username", c.extUsername)
		d.postError(c, statusInternalError, "not a user")
		return
	}

	c.logger.Debug("username resolved", "username", c.extUsername, "tg_user_id", private.UserID)
	d.cache.putUsername(c.extUsername, private.UserID)
	d.dialByID(ctx, c, private.UserID)
}

func (d *Dispatcher) dialByPhone(ctx context.Context, c *callContext) {
	if id, ok := d.cache.lookupPhone(c.extPhone); ok {
		c.logger.Debug("phone found in cache", "phone", c.extPhone, "tg_user_id", id)
		d.dialByID(ctx, c, id)
		return
	}

	qctx, cancel := queryCtx(ctx)
	defer cancel()

	imported, err := d.tg.ImportContact(qctx, c.extPhone)
	if err != nil {
		c.logger.Error("contact import failed", "phone", c.extPhone, "error", err)
		d.postError(c, statusInternalError, err.Error())
		d.observeRateLimit(err)
		return
	}
	if len(imported.UserIDs) == 0 || imported.UserIDs[0] == 0 {
		c.logger.Warn("phone is not a telegram user", "phone", c.extPhone)
		d.postError(c, statusNotFound, "not registered in telegram")
		return
	}

	id := imported.UserIDs[0]
	c.logger.Debug("phone resolved", "phone", c.extPhone, "tg_user_id", id)
	d.cache.putPhone(c.extPhone, id)
	d.dialByID(ctx, c, id)
}

func (d *Dispatcher) dialByID(ctx context.Context, c *callContext, userID int64) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()

	callID, err := d.tg.CreateCall(qctx, userID, d.protocol())
	if err != nil {
		c.logger.Error("telegram call not created", "tg_user_id", userID, "error", err)
		d.postError(c, statusInternalError, err.Error())
		d.observeRateLimit(err)
		return
	}
	c.tgCallID = callID.ID
	c.logger.Debug("associated with telegram call", "tg_call_id", c.tgCallID)
}

// observeRateLimit feeds Telegram server error messages to the gate.
// Transport errors carry no rate-limit information and are skipped.
func (d *Dispatcher) observeRateLimit(err error) {
	var reqErr *telegram.RequestError
	if !errors.As(err, &reqErr) {
		return
	}
	if d.gate.observe(reqErr.Message) {
		remaining, _ := d.gate.blocked()
		d.logger.Warn("telegram dials blocked", "for", remaining.Round(time.Second))
	}
}

// cleanUp releases both sides of the bridge. It runs on entry to the
// terminal state and tolerates collaborator failures: the context is
// going away no matter what, so errors are logged and swallowed.
func (d *Dispatcher) cleanUp(ctx context.Context, c *callContext) {
	c.logger.Debug("cleanup start")

	if c.controller != nil {
		if err := c.controller.Stop(); err != nil {
			c.logger.Error("voice transport stop failed", "error", err)
		}
		c.controller = nil
	}

	if c.tgCallID != 0 {
		c.logger.Debug("discarding telegram call", "tg_call_id", c.tgCallID)
		qctx, cancel := queryCtx(ctx)
		err := d.tg.DiscardCall(qctx, c.tgCallID, false, 0, int64(c.tgCallID))
		cancel()
		if err != nil {
			c.logger.Error("telegram call discard failed", "tg_call_id", c.tgCallID, "error", err)
		}
		c.tgCallID = 0
	}

	if c.sipCallID.Valid() {
		c.logger.Debug("hanging up sip call",
			"sip_call_id", c.sipCallID, "code", c.hangupCode, "reason", c.hangupReason)
		if err := d.ssp.Hangup(c.sipCallID, c.hangupCode, c.hangupReason); err != nil {
			c.logger.Error("sip hangup failed", "sip_call_id", c.sipCallID, "error", err)
		}
		c.sipCallID = sip.NoCall
	}

	c.logger.Debug("cleanup end")
}
