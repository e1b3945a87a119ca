package sip

import (
	"fmt"

	"github.com/emiago/sipgo/sip"

	"github.com/tgsip/tgsip/internal/media"
)

// handleInvite takes a new incoming call as far as 100 Trying and hands
// it to the dispatcher as an IncomingCall event. Ringing and answering
// happen later, driven by the call's state machine.
func (a *Adapter) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	wireID := ""
	if cid := req.CallID(); cid != nil {
		wireID = cid.Value()
	}
	logger := a.logger.With("sip_call_id", wireID)

	select {
	case a.setups <- struct{}{}:
	default:
		logger.Warn("invite rejected, all setup slots busy")
		a.respondError(req, tx, 486, "Busy Here")
		return
	}
	defer func() { <-a.setups }()

	logger.Info("invite received",
		"from", req.From().Address.User,
		"to", req.To().Address.User,
		"source", req.Source(),
	)

	// Stop UAC retransmissions before doing anything slow.
	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		logger.Error("failed to send 100 trying", "error", err)
		return
	}

	if len(req.Body()) == 0 {
		logger.Warn("invite without sdp offer rejected")
		a.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}

	session, err := media.NewSession(a.pool, a.cfg.RawPCM, logger)
	if err != nil {
		logger.Error("no media session for incoming call", "error", err)
		a.respondError(req, tx, 503, "Service Unavailable")
		return
	}

	c := newCall(directionInbound)
	c.inviteReq = req
	c.inviteTx = tx
	c.offer = req.Body()
	c.session = session
	a.calls.add(c)

	extension := req.Recipient.User
	logger.Info("incoming call", "call_id", c.id, "extension", extension)
	a.events.Push(IncomingCall{ID: c.id, Extension: extension})
}

// Ring sends 180 Ringing on an incoming call and reports the early
// state back through the queue.
func (a *Adapter) Ring(id CallID) error {
	c := a.calls.get(id)
	if c == nil {
		return ErrUnknownCall
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.direction != directionInbound || c.phase != phaseSetup {
		return fmt.Errorf("sip: call %s cannot ring in phase %d", id, c.phase)
	}

	res := sip.NewResponseFromRequest(c.inviteReq, 180, "Ringing", nil)
	a.tagResponse(res, c.localTag)
	if err := c.inviteTx.Respond(res); err != nil {
		return fmt.Errorf("sending 180: %w", err)
	}
	a.events.Push(CallStateUpdate{ID: id, State: CallStateEarly})
	return nil
}

// Answer completes SDP negotiation against the caller's offer and sends
// 200 OK. The call is confirmed once the ACK arrives.
func (a *Adapter) Answer(id CallID) error {
	c := a.calls.get(id)
	if c == nil {
		return ErrUnknownCall
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.direction != directionInbound || c.phase != phaseSetup {
		return fmt.Errorf("sip: call %s cannot answer in phase %d", id, c.phase)
	}

	answer, err := c.session.AcceptOffer(a.mediaAddress(), c.offer)
	if err != nil {
		return fmt.Errorf("negotiating media: %w", err)
	}

	res := sip.NewResponseFromRequest(c.inviteReq, 200, "OK", answer)
	a.tagResponse(res, c.localTag)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	res.AppendHeader(&sip.ContactHeader{Address: a.contactURI()})
	if err := c.inviteTx.Respond(res); err != nil {
		return fmt.Errorf("sending 200: %w", err)
	}
	c.phase = phaseAnswered
	a.logger.Info("call answered", "call_id", id)
	return nil
}

// mediaAddress is the IP written into SDP.
func (a *Adapter) mediaAddress() string {
	if a.cfg.PublicAddress != "" {
		return a.cfg.PublicAddress
	}
	return a.identity.Host
}

// contactURI is the reachable address advertised for in-dialog requests.
func (a *Adapter) contactURI() sip.Uri {
	return sip.Uri{
		User: a.identity.User,
		Host: a.mediaAddress(),
		Port: a.cfg.Port,
	}
}

// tagResponse marks the response's To header with our dialog tag.
func (a *Adapter) tagResponse(res *sip.Response, tag string) {
	to := res.To()
	if to == nil {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	if _, ok := to.Params.Get("tag"); !ok {
		to.Params.Add("tag", tag)
	}
}

func (a *Adapter) respondError(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		a.logger.Error("failed to send error response", "code", code, "error", err)
	}
}
