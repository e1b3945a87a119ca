package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/looplab/fsm"

	"github.com/tgsip/tgsip/internal/sip"
	"github.com/tgsip/tgsip/internal/telegram"
)

func TestClassifyCall(t *testing.T) {
	pending := func(outgoing bool) *telegram.UpdateCall {
		return &telegram.UpdateCall{Call: telegram.Call{
			ID: 1, UserID: 2, IsOutgoing: outgoing,
			State: &telegram.CallStatePending{},
		}}
	}
	withState := func(state telegram.Object) *telegram.UpdateCall {
		return &telegram.UpdateCall{Call: telegram.Call{ID: 1, UserID: 2, State: state}}
	}

	tests := []struct {
		name        string
		update      *telegram.UpdateCall
		callbackSet bool
		want        string
	}{
		{"incoming pending with callback", pending(false), true, evTgIncoming},
		{"incoming pending without callback", pending(false), false, evTgRejected},
		{"outgoing pending echo", pending(true), true, evTgProgress},
		{"ready", withState(&telegram.CallStateReady{}), true, evTgReady},
		{"discarded", withState(&telegram.CallStateDiscarded{}), true, evTgGone},
		{"error", withState(&telegram.CallStateError{}), true, evTgGone},
		{"exchanging keys", withState(&telegram.CallStateExchangingKeys{}), true, evTgProgress},
		{"hanging up", withState(&telegram.CallStateHangingUp{}), true, evTgProgress},
		{"missing state", withState(nil), true, evTgProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyCall(tt.update, tt.callbackSet); got != tt.want {
				t.Errorf("classifyCall() = %q, want %q", got, tt.want)
			}
		})
	}
}

type unknownSIPEvent struct{}

func (unknownSIPEvent) Call() sip.CallID { return "x" }

func TestClassifySIP(t *testing.T) {
	tests := []struct {
		name   string
		event  sip.Event
		want   string
		wantOK bool
	}{
		{"incoming", sip.IncomingCall{ID: "a"}, evSipIncoming, true},
		{"early", sip.CallStateUpdate{ID: "a", State: sip.CallStateEarly}, evSipEarly, true},
		{"confirmed", sip.CallStateUpdate{ID: "a", State: sip.CallStateConfirmed}, evSipProgress, true},
		{"disconnected", sip.CallStateUpdate{ID: "a", State: sip.CallStateDisconnected}, evSipGone, true},
		{"media up", sip.MediaStateUpdate{ID: "a", Active: true}, evSipMediaUp, true},
		{"media down", sip.MediaStateUpdate{ID: "a", Active: false}, evSipProgress, true},
		{"unknown event type", unknownSIPEvent{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := classifySIP(tt.event)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("classifySIP() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsDTMF(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"0", true},
		{"123#", true},
		{"*", true},
		{"ABCD", true},
		{"#*09", true},
		{strings.Repeat("5", 32), true},
		{strings.Repeat("5", 33), false},
		{"", false},
		{"12 3", false},
		{"abc", false},
		{"12e", false},
		{"E", false},
	}
	for _, tt := range tests {
		if got := isDTMF(tt.text); got != tt.want {
			t.Errorf("isDTMF(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

// newTestMachine builds a machine whose actions hit the usual fakes, on
// a context with no associated calls so cleanup stays silent.
func newTestMachine(t *testing.T) (*harness, *callContext) {
	t.Helper()
	h := newHarness(t, bridgeConfig())
	c := &callContext{id: "test-1", logger: testLogger()}
	c.machine = newMachine(h.d, c)
	return h, c
}

func TestMachineStartsInInit(t *testing.T) {
	_, c := newTestMachine(t)
	if got := c.state(); got != stateInit {
		t.Errorf("initial state = %q, want %q", got, stateInit)
	}
}

func TestTerminalStateReachableFromEverywhere(t *testing.T) {
	events := []struct {
		name string
		args []any
	}{
		{evTgGone, nil},
		{evSipGone, nil},
		{evInternal, []any{InternalError{CtxID: "test-1", Code: 500, Reason: "boom"}}},
	}
	for _, src := range everyState {
		for _, ev := range events {
			t.Run(src+"/"+ev.name, func(t *testing.T) {
				_, c := newTestMachine(t)
				c.machine.SetState(src)
				if err := c.machine.Event(context.Background(), ev.name, ev.args...); err != nil {
					t.Fatalf("Event(%s) from %s: %v", ev.name, src, err)
				}
				if got := c.state(); got != stateDone {
					t.Errorf("state = %q, want %q", got, stateDone)
				}
			})
		}
	}
}

func TestInitDiesOnStrayProgressEvents(t *testing.T) {
	for _, name := range []string{evTgReady, evTgProgress, evSipProgress, evSipEarly, evSipMediaUp} {
		t.Run(name, func(t *testing.T) {
			_, c := newTestMachine(t)
			if err := c.machine.Event(context.Background(), name); err != nil {
				t.Fatalf("Event(%s): %v", name, err)
			}
			if got := c.state(); got != stateDone {
				t.Errorf("state = %q, want %q", got, stateDone)
			}
		})
	}
}

func TestEventsUndefinedForStateAreRejected(t *testing.T) {
	_, c := newTestMachine(t)
	c.machine.SetState(stateTgBridged)

	err := c.machine.Event(context.Background(), evTgIncoming)
	var invalid fsm.InvalidEventError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want fsm.InvalidEventError", err)
	}
	if got := c.state(); got != stateTgBridged {
		t.Errorf("state = %q, want unchanged %q", got, stateTgBridged)
	}
}

func TestDTMFIsSelfTransition(t *testing.T) {
	h, c := newTestMachine(t)
	c.sipCallID = "in-1"
	c.machine.SetState(stateSipBridged)

	err := c.machine.Event(context.Background(), evDtmf, tgText(42, "42#"))
	var noop fsm.NoTransitionError
	if !errors.As(err, &noop) {
		t.Fatalf("err = %v, want fsm.NoTransitionError", err)
	}
	if got := c.state(); got != stateSipBridged {
		t.Errorf("state = %q, want unchanged %q", got, stateSipBridged)
	}
	if len(h.ssp.dtmf) != 1 || h.ssp.dtmf[0].digits != "42#" {
		t.Errorf("dtmf = %+v, want the digits forwarded despite the self transition", h.ssp.dtmf)
	}
}
