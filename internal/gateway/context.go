package gateway

import (
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/tgsip/tgsip/internal/sip"
	"github.com/tgsip/tgsip/internal/voip"
)

// callContext is the correlation record of one bridged call. It maps the
// three identifier spaces onto each other: the gateway-local id used for
// logging and internal error routing, the Telegram call and user ids,
// and the SIP call handle. The dispatcher is the only writer.
type callContext struct {
	id string

	tgCallID  int32
	tgUserID  int64
	sipCallID sip.CallID

	// Resolver hints parsed from the SIP extension. At most one of
	// extUsername, extPhone and tgUserID is set when a SIP-originated
	// dial begins; after resolution only tgUserID matters.
	extUsername string
	extPhone    string

	// controller exists from the moment the Telegram side reports the
	// call ready until cleanup stops it.
	controller voip.Controller

	// hangupCode and hangupReason tell the SIP side why the bridge
	// died. Zero means an ordinary teardown.
	hangupCode   int
	hangupReason string

	machine *fsm.FSM
	logger  *slog.Logger
}

func (c *callContext) state() string { return c.machine.Current() }
