// Package sip is the gateway's SIP side. It terminates calls arriving
// over SIP, originates calls toward the configured callback peer and
// reports everything that happens on the wire as events on a queue the
// call dispatcher drains. One Adapter serves all calls; per-call RTP is
// delegated to media.Session.
package sip

import "errors"

// CallID identifies one SIP call leg owned by the adapter. The zero
// value marks "no call".
type CallID string

// NoCall is the zero CallID.
const NoCall CallID = ""

// Valid reports whether the id refers to a call.
func (id CallID) Valid() bool {
	return id != NoCall
}

// CallState is the lifecycle state of a call as reported to the
// dispatcher.
type CallState string

const (
	// CallStateEarly means a provisional response was sent or received.
	CallStateEarly CallState = "early"
	// CallStateConfirmed means the INVITE transaction completed with 2xx.
	CallStateConfirmed CallState = "confirmed"
	// CallStateDisconnected means the call ended, locally or remotely.
	CallStateDisconnected CallState = "disconnected"
)

// Event is something the SIP stack reports to the dispatcher.
type Event interface {
	Call() CallID
}

// IncomingCall announces a new INVITE. Extension is the user part of
// the Request-URI, naming who the caller wants to reach.
type IncomingCall struct {
	ID        CallID
	Extension string
}

// Call returns the call the event belongs to.
func (e IncomingCall) Call() CallID { return e.ID }

// CallStateUpdate reports a lifecycle change. Code carries the SIP
// status that ended the call when State is CallStateDisconnected.
type CallStateUpdate struct {
	ID    CallID
	State CallState
	Code  int
}

// Call returns the call the event belongs to.
func (e CallStateUpdate) Call() CallID { return e.ID }

// MediaStateUpdate reports whether the call's audio path is up.
type MediaStateUpdate struct {
	ID     CallID
	Active bool
}

// Call returns the call the event belongs to.
func (e MediaStateUpdate) Call() CallID { return e.ID }

// Header is an extra header attached to an outbound INVITE.
type Header struct {
	Name  string
	Value string
}

var (
	// ErrUnknownCall is returned for operations on a call the adapter
	// does not track, typically because it already ended.
	ErrUnknownCall = errors.New("sip: unknown call")
	// ErrNoCallbackURI is returned by Dial when no callback peer is
	// configured.
	ErrNoCallbackURI = errors.New("sip: no callback uri configured")
)

// Config carries the SIP-side settings.
type Config struct {
	// Port is the UDP/TCP listening port.
	Port int
	// IDURI is the gateway's own identity, used in From headers.
	IDURI string
	// CallbackURI is where calls originated on the far side of the
	// gateway are sent. Empty disables that direction.
	CallbackURI string
	// PublicAddress is the IP advertised in SDP and Contact headers.
	PublicAddress string
	// Username, AuthUsername and Password answer digest challenges on
	// outbound INVITEs. AuthUsername falls back to Username.
	Username     string
	AuthUsername string
	Password     string
	// RawPCM offers uncompressed L16 audio instead of G.711.
	RawPCM bool
	// ThreadCount bounds concurrent incoming call setups.
	ThreadCount int
}
