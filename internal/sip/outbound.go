package sip

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/tgsip/tgsip/internal/media"
)

// dialTimeout bounds how long an outbound INVITE may ring before the
// attempt is abandoned.
const dialTimeout = 60 * time.Second

// Dial originates a call to the callback peer, attaching the given
// extra headers to the INVITE. It returns as soon as the call is
// tracked; progress arrives as events.
func (a *Adapter) Dial(headers []Header) (CallID, error) {
	if !a.hasCallback {
		return NoCall, ErrNoCallbackURI
	}

	session, err := media.NewSession(a.pool, a.cfg.RawPCM, a.logger)
	if err != nil {
		return NoCall, fmt.Errorf("allocating media session: %w", err)
	}
	offer, err := session.Offer(a.mediaAddress())
	if err != nil {
		session.Close()
		return NoCall, fmt.Errorf("building sdp offer: %w", err)
	}

	c := newCall(directionOutbound)

	req := sip.NewRequest(sip.INVITE, *a.callback.Clone())
	req.SetTransport("UDP")
	req.SetBody(offer)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.AppendHeader(sip.NewHeader("Call-ID", uuid.NewString()))

	from := &sip.FromHeader{
		DisplayName: a.identity.User,
		Address:     *a.identity.Clone(),
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", c.localTag)
	req.AppendHeader(from)
	req.AppendHeader(&sip.ContactHeader{Address: a.contactURI()})
	for _, h := range headers {
		req.AppendHeader(sip.NewHeader(h.Name, h.Value))
	}

	c.clientReq = req
	c.session = session
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	c.cancel = cancel
	a.calls.add(c)

	a.logger.Info("dialing callback peer",
		"call_id", c.id,
		"recipient", a.cfg.CallbackURI,
	)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		a.runOutbound(ctx, c, req)
	}()
	return c.id, nil
}

// runOutbound drives the INVITE client transaction to a final outcome,
// retrying once on a digest challenge.
func (a *Adapter) runOutbound(ctx context.Context, c *call, req *sip.Request) {
	tx, err := a.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		a.logger.Error("sending invite failed", "call_id", c.id, "error", err)
		a.finish(c, 503, "invite send failure")
		return
	}
	c.mu.Lock()
	c.clientTx = tx
	c.mu.Unlock()

	earlySent := false
	mediaUp := false
	authed := false

	for {
		var res *sip.Response
		select {
		case <-ctx.Done():
			a.cancelDialing(c, req)
			tx.Terminate()
			a.finish(c, 487, "dialing aborted")
			return
		case <-tx.Done():
			tx.Terminate()
			if txErr := tx.Err(); txErr != nil {
				a.logger.Error("invite transaction failed", "call_id", c.id, "error", txErr)
			}
			a.finish(c, 503, "no final response")
			return
		case res = <-tx.Responses():
		}

		a.logger.Debug("callback peer response",
			"call_id", c.id,
			"status", res.StatusCode,
			"reason", res.Reason,
		)

		switch {
		case res.StatusCode == 100:
			continue

		case res.StatusCode == 180 || res.StatusCode == 183:
			if !earlySent {
				earlySent = true
				a.events.Push(CallStateUpdate{ID: c.id, State: CallStateEarly})
			}
			if res.StatusCode == 183 && len(res.Body()) > 0 && !mediaUp {
				if err := c.session.ApplyAnswer(res.Body()); err != nil {
					a.logger.Warn("early media sdp rejected", "call_id", c.id, "error", err)
				} else {
					mediaUp = true
					a.events.Push(MediaStateUpdate{ID: c.id, Active: true})
				}
			}

		case res.StatusCode == 401 || res.StatusCode == 407:
			tx.Terminate()
			if authed || a.cfg.Password == "" {
				a.finish(c, res.StatusCode, "authentication failed")
				return
			}
			authed = true
			authReq, authTx, err := a.answerChallenge(ctx, req, res)
			if err != nil {
				a.logger.Error("digest challenge failed", "call_id", c.id, "error", err)
				a.finish(c, res.StatusCode, "authentication failed")
				return
			}
			req, tx = authReq, authTx
			c.mu.Lock()
			c.clientReq = authReq
			c.clientTx = authTx
			c.mu.Unlock()

		case res.StatusCode >= 200 && res.StatusCode < 300:
			ack := buildACKFor2xx(req, res)
			if err := a.client.WriteRequest(ack); err != nil {
				a.logger.Error("failed to send ack", "call_id", c.id, "error", err)
				tx.Terminate()
				a.finish(c, 500, "ack failure")
				return
			}
			if err := c.session.ApplyAnswer(res.Body()); err != nil {
				a.logger.Error("answer sdp rejected", "call_id", c.id, "error", err)
				a.sendBye(c, req, res)
				a.finish(c, 488, "media negotiation failed")
				return
			}
			c.mu.Lock()
			c.phase = phaseConfirmed
			c.finalRes = res
			c.mu.Unlock()
			a.logger.Info("call confirmed", "call_id", c.id)
			a.events.Push(CallStateUpdate{ID: c.id, State: CallStateConfirmed})
			if !mediaUp {
				a.events.Push(MediaStateUpdate{ID: c.id, Active: true})
			}
			return

		case res.StatusCode >= 300:
			tx.Terminate()
			a.finish(c, res.StatusCode, res.Reason)
			return
		}
	}
}

// cancelDialing aborts a ringing outbound INVITE with a CANCEL built
// from the original request.
func (a *Adapter) cancelDialing(c *call, req *sip.Request) {
	cancelReq := sip.NewRequest(sip.CANCEL, req.Recipient)
	cancelReq.SetTransport(req.Transport())
	if cid := req.CallID(); cid != nil {
		cancelReq.AppendHeader(sip.NewHeader("Call-ID", cid.Value()))
	}
	cancelTx, err := a.client.TransactionRequest(context.Background(), cancelReq, sipgo.ClientRequestBuild)
	if err != nil {
		a.logger.Debug("failed to send cancel", "call_id", c.id, "error", err)
		return
	}
	cancelTx.Terminate()
}

// answerChallenge answers a 401/407 by re-sending the INVITE with
// digest credentials.
func (a *Adapter) answerChallenge(ctx context.Context, origReq *sip.Request, challenge *sip.Response) (*sip.Request, sip.ClientTransaction, error) {
	challengeHeader, authzHeader := "WWW-Authenticate", "Authorization"
	if challenge.StatusCode == 407 {
		challengeHeader, authzHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}

	h := challenge.GetHeader(challengeHeader)
	if h == nil {
		return nil, nil, fmt.Errorf("%d response without %s header", challenge.StatusCode, challengeHeader)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing challenge: %w", err)
	}

	username := a.cfg.Username
	if a.cfg.AuthUsername != "" {
		username = a.cfg.AuthUsername
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   origReq.Method.String(),
		URI:      origReq.Recipient.String(),
		Username: username,
		Password: a.cfg.Password,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := origReq.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

	tx, err := a.client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("resending invite: %w", err)
	}
	return authReq, tx, nil
}

// buildACKFor2xx builds the ACK the UAC core owes for a 2xx final
// response. The Request-URI comes from the response Contact when the
// peer supplied one.
func buildACKFor2xx(inviteReq *sip.Request, inviteRes *sip.Response) *sip.Request {
	recipient := &inviteReq.Recipient
	if contact := inviteRes.Contact(); contact != nil {
		recipient = &contact.Address
	}

	ack := sip.NewRequest(sip.ACK, *recipient.Clone())
	ack.SipVersion = inviteReq.SipVersion

	if len(inviteReq.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", inviteReq, ack)
	}
	if h := inviteReq.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteRes.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if cseq := ack.CSeq(); cseq != nil {
		cseq.MethodName = sip.ACK
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	if h := inviteReq.Contact(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}

	ack.SetTransport(inviteReq.Transport())
	ack.SetSource(inviteReq.Source())
	return ack
}
