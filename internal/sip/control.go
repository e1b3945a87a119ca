package sip

import (
	"context"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Hangup ends a call in whatever way its phase requires: a failure
// response for an unanswered inbound call, CANCEL for an outbound call
// still dialing, BYE for an established dialog. code and reason become
// the SIP status line when rejecting; they are ignored where the
// protocol has no slot for them.
func (a *Adapter) Hangup(id CallID, code int, reason string) error {
	c := a.calls.get(id)
	if c == nil {
		return ErrUnknownCall
	}

	c.mu.Lock()
	phase := c.phase
	dir := c.direction
	inviteReq, inviteTx := c.inviteReq, c.inviteTx
	clientReq, finalRes := c.clientReq, c.finalRes
	cancelDial := c.cancel
	c.mu.Unlock()

	a.logger.Info("hangup requested",
		"call_id", id, "code", code, "reason", reason, "phase", int(phase))

	switch {
	case phase == phaseTerminated:
		return nil

	case dir == directionInbound && phase == phaseSetup:
		if code < 300 {
			code = 486
		}
		if reason == "" {
			reason = statusText(code)
		}
		res := sip.NewResponseFromRequest(inviteReq, code, reason, nil)
		a.tagResponse(res, c.localTag)
		if err := inviteTx.Respond(res); err != nil {
			a.logger.Error("failed to reject call", "call_id", id, "code", code, "error", err)
		}
		a.finish(c, code, "local reject")

	case dir == directionOutbound && phase == phaseSetup:
		if cancelDial != nil {
			cancelDial()
		}
		// If the 2xx won the race against the cancel, tear down the
		// dialog it established.
		c.mu.Lock()
		confirmed := c.phase == phaseConfirmed
		clientReq, finalRes = c.clientReq, c.finalRes
		c.mu.Unlock()
		if confirmed {
			a.sendBye(c, clientReq, finalRes)
			a.finish(c, code, "local hangup")
		}

	default:
		a.sendBye(c, clientReq, finalRes)
		a.finish(c, code, "local hangup")
	}
	return nil
}

// sendBye fires the in-dialog BYE without waiting for its response.
func (a *Adapter) sendBye(c *call, clientReq *sip.Request, clientRes *sip.Response) {
	bye := a.buildBYE(c, clientReq, clientRes)
	if bye == nil {
		return
	}
	tx, err := a.client.TransactionRequest(context.Background(), bye, sipgo.ClientRequestBuild)
	if err != nil {
		a.logger.Debug("failed to send bye", "call_id", c.id, "error", err)
		return
	}
	tx.Terminate()
}

// buildBYE constructs the in-dialog BYE for either leg. An outbound leg
// reuses the INVITE's From and the 2xx's To; an inbound leg swaps the
// caller's headers and speaks under its own tag.
func (a *Adapter) buildBYE(c *call, clientReq *sip.Request, clientRes *sip.Response) *sip.Request {
	if c.direction == directionOutbound {
		if clientReq == nil || clientRes == nil {
			return nil
		}
		recipient := &clientReq.Recipient
		if contact := clientRes.Contact(); contact != nil {
			recipient = &contact.Address
		}
		bye := sip.NewRequest(sip.BYE, *recipient.Clone())
		bye.SetTransport(clientReq.Transport())
		if h := clientReq.From(); h != nil {
			bye.AppendHeader(sip.HeaderClone(h))
		}
		if h := clientRes.To(); h != nil {
			bye.AppendHeader(sip.HeaderClone(h))
		}
		if h := clientReq.CallID(); h != nil {
			bye.AppendHeader(sip.HeaderClone(h))
		}
		if h := clientReq.CSeq(); h != nil {
			bye.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo + 1, MethodName: sip.BYE})
		}
		return bye
	}

	inviteReq := c.inviteReq
	if inviteReq == nil {
		return nil
	}
	var recipient *sip.Uri
	if contact := inviteReq.Contact(); contact != nil {
		recipient = &contact.Address
	} else if from := inviteReq.From(); from != nil {
		recipient = &from.Address
	} else {
		return nil
	}
	bye := sip.NewRequest(sip.BYE, *recipient.Clone())
	bye.SetTransport(inviteReq.Transport())

	if to := inviteReq.To(); to != nil {
		from := &sip.FromHeader{
			DisplayName: to.DisplayName,
			Address:     *to.Address.Clone(),
			Params:      sip.NewParams(),
		}
		from.Params.Add("tag", c.localTag)
		bye.AppendHeader(from)
	}
	if from := inviteReq.From(); from != nil {
		to := &sip.ToHeader{
			DisplayName: from.DisplayName,
			Address:     *from.Address.Clone(),
			Params:      sip.NewParams(),
		}
		if tag, ok := from.Params.Get("tag"); ok {
			to.Params.Add("tag", tag)
		}
		bye.AppendHeader(to)
	}
	if cid := inviteReq.CallID(); cid != nil {
		bye.AppendHeader(sip.HeaderClone(cid))
	}
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE})
	return bye
}

// statusText supplies reason phrases for the codes the gateway rejects
// calls with.
func statusText(code int) string {
	switch code {
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 410:
		return "Gone"
	case 420:
		return "Bad Extension"
	case 480:
		return "Temporarily Unavailable"
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 488:
		return "Not Acceptable Here"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Call Terminated"
	}
}
