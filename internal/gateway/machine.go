package gateway

import (
	"context"
	"regexp"

	"github.com/looplab/fsm"

	"github.com/tgsip/tgsip/internal/sip"
	"github.com/tgsip/tgsip/internal/telegram"
)

// Machine states. A call is born in stateInit, moves into one of the two
// direction regions on its first event and ends in stateDone, whose
// entry action releases both sides.
const (
	stateInit = "init"

	// Telegram-originated: SIP peer dialled, waiting for its media,
	// then for the Telegram side to report ready, then bridged.
	stateTgWaitSipMedia = "from_tg/wait_sip_media"
	stateTgWaitReady    = "from_tg/wait_tg_ready"
	stateTgBridged      = "from_tg/bridged"

	// SIP-originated: invite ringing, Telegram dial issued on early
	// media, SIP answered once Telegram is ready, then bridged.
	stateSipWaitConfirm = "from_sip/wait_confirm"
	stateSipWaitReady   = "from_sip/wait_tg_ready"
	stateSipWaitMedia   = "from_sip/wait_sip_media"
	stateSipBridged     = "from_sip/bridged"

	stateDone = "done"
)

// Machine events, produced by the classifiers below.
const (
	evTgIncoming = "tg_incoming"
	evTgRejected = "tg_rejected"
	evTgReady    = "tg_ready"
	evTgGone     = "tg_gone"
	evTgProgress = "tg_progress"

	evSipIncoming = "sip_incoming"
	evSipEarly    = "sip_early"
	evSipMediaUp  = "sip_media_up"
	evSipGone     = "sip_gone"
	evSipProgress = "sip_progress"

	evDtmf     = "dtmf"
	evInternal = "internal_error"
)

// dtmfRE is the exact shape of a text message forwarded as DTMF.
var dtmfRE = regexp.MustCompile(`^[0-9A-D*#]{1,32}$`)

// everyState lists all non-terminal states, for the transitions that
// must be reachable from anywhere.
var everyState = []string{
	stateInit,
	stateTgWaitSipMedia, stateTgWaitReady, stateTgBridged,
	stateSipWaitConfirm, stateSipWaitReady, stateSipWaitMedia, stateSipBridged,
}

// machineEvents is the transition table. Events with no entry for the
// current state are dropped by the caller; a context still in stateInit
// dies on anything but the two call-opening events.
var machineEvents = fsm.Events{
	{Name: evTgIncoming, Src: []string{stateInit}, Dst: stateTgWaitSipMedia},
	{Name: evSipIncoming, Src: []string{stateInit}, Dst: stateSipWaitConfirm},
	{Name: evTgRejected, Src: []string{stateInit}, Dst: stateDone},
	{Name: evTgProgress, Src: []string{stateInit}, Dst: stateDone},
	{Name: evSipProgress, Src: []string{stateInit}, Dst: stateDone},
	{Name: evSipEarly, Src: []string{stateInit}, Dst: stateDone},
	{Name: evSipMediaUp, Src: []string{stateInit}, Dst: stateDone},
	{Name: evTgReady, Src: []string{stateInit}, Dst: stateDone},

	{Name: evSipMediaUp, Src: []string{stateTgWaitSipMedia}, Dst: stateTgWaitReady},
	{Name: evTgReady, Src: []string{stateTgWaitReady}, Dst: stateTgBridged},
	{Name: evDtmf, Src: []string{stateTgBridged}, Dst: stateTgBridged},

	{Name: evSipEarly, Src: []string{stateSipWaitConfirm}, Dst: stateSipWaitReady},
	{Name: evTgReady, Src: []string{stateSipWaitReady}, Dst: stateSipWaitMedia},
	{Name: evSipMediaUp, Src: []string{stateSipWaitMedia}, Dst: stateSipBridged},
	{Name: evDtmf, Src: []string{stateSipBridged}, Dst: stateSipBridged},

	{Name: evTgGone, Src: everyState, Dst: stateDone},
	{Name: evSipGone, Src: everyState, Dst: stateDone},
	{Name: evInternal, Src: everyState, Dst: stateDone},
}

// classifyCall maps a Telegram call update onto a machine event.
func classifyCall(update *telegram.UpdateCall, callbackSet bool) string {
	switch update.Call.State.(type) {
	case *telegram.CallStatePending:
		if update.Call.IsOutgoing {
			return evTgProgress
		}
		if callbackSet {
			return evTgIncoming
		}
		return evTgRejected
	case *telegram.CallStateReady:
		return evTgReady
	case *telegram.CallStateDiscarded, *telegram.CallStateError:
		return evTgGone
	default:
		return evTgProgress
	}
}

// classifySIP maps a SIP adapter event onto a machine event. The second
// return value is false for events the machine has no use for.
func classifySIP(ev sip.Event) (string, bool) {
	switch e := ev.(type) {
	case sip.IncomingCall:
		return evSipIncoming, true
	case sip.CallStateUpdate:
		switch e.State {
		case sip.CallStateEarly:
			return evSipEarly, true
		case sip.CallStateDisconnected:
			return evSipGone, true
		default:
			return evSipProgress, true
		}
	case sip.MediaStateUpdate:
		if e.Active {
			return evSipMediaUp, true
		}
		return evSipProgress, true
	default:
		return "", false
	}
}

// isDTMF reports whether a message text qualifies for DTMF forwarding.
func isDTMF(text string) bool {
	return dtmfRE.MatchString(text)
}

// newMachine builds the state machine of one call context. Actions run
// in the before callbacks of the triggering event, so a failing action
// still completes its transition; the failure comes back as an internal
// error event on the next iteration. Cleanup is the entry action of the
// terminal state and therefore runs exactly once.
func newMachine(d *Dispatcher, c *callContext) *fsm.FSM {
	return fsm.NewFSM(stateInit, machineEvents, fsm.Callbacks{
		"before_" + evTgIncoming: func(ctx context.Context, e *fsm.Event) {
			update := e.Args[0].(*telegram.UpdateCall)
			d.fromTelegramTotal.Add(1)
			d.storeTgID(c, update)
			d.storeTgUserID(c, update)
			d.dialSip(ctx, c, update)
		},
		"before_" + evTgRejected: func(ctx context.Context, e *fsm.Event) {
			update := e.Args[0].(*telegram.UpdateCall)
			c.logger.Info("rejecting telegram call, no callback uri configured",
				"tg_user_id", update.Call.UserID)
			d.storeTgID(c, update)
		},
		"before_" + evSipIncoming: func(ctx context.Context, e *fsm.Event) {
			incoming := e.Args[0].(sip.IncomingCall)
			d.fromSIPTotal.Add(1)
			d.storeSipID(c, incoming)
			d.acceptIncomingSip(c, incoming)
		},
		"before_" + evSipEarly: func(ctx context.Context, e *fsm.Event) {
			if e.Src == stateSipWaitConfirm {
				d.dialTg(ctx, c)
			}
		},
		"before_" + evTgReady: func(ctx context.Context, e *fsm.Event) {
			switch e.Src {
			case stateTgWaitReady:
				update := e.Args[0].(*telegram.UpdateCall)
				d.createTgVoip(c, update)
				d.bridgeAudio(c)
			case stateSipWaitReady:
				update := e.Args[0].(*telegram.UpdateCall)
				d.storeTgUserID(c, update)
				d.createTgVoip(c, update)
				d.answerSip(c)
			}
		},
		"before_" + evSipMediaUp: func(ctx context.Context, e *fsm.Event) {
			switch e.Src {
			case stateTgWaitSipMedia:
				d.answerTg(ctx, c)
			case stateSipWaitMedia:
				d.bridgeAudio(c)
			}
		},
		"before_" + evDtmf: func(ctx context.Context, e *fsm.Event) {
			update := e.Args[0].(*telegram.UpdateNewMessage)
			d.dialDtmf(c, update)
		},
		"before_" + evTgGone: func(ctx context.Context, e *fsm.Event) {
			d.cleanTgID(c)
		},
		"before_" + evSipGone: func(ctx context.Context, e *fsm.Event) {
			d.cleanSipID(c)
		},
		"before_" + evInternal: func(ctx context.Context, e *fsm.Event) {
			errEvent := e.Args[0].(InternalError)
			d.setHangupPrm(c, errEvent)
		},
		"enter_" + stateDone: func(ctx context.Context, e *fsm.Event) {
			d.cleanUp(ctx, c)
		},
	})
}
