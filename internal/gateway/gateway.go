// Package gateway is the call bridge control plane. A single dispatcher
// goroutine owns every per-call state machine, drains the three event
// queues (Telegram updates, SIP events, internally raised errors) and
// drives the collaborators on both sides of the bridge.
package gateway

import (
	"context"
	"io"
	"time"

	"github.com/tgsip/tgsip/internal/sip"
	"github.com/tgsip/tgsip/internal/telegram"
	"github.com/tgsip/tgsip/internal/voip"
)

// Call protocol bounds sent with createCall and acceptCall. The minimum
// layer is the oldest call protocol revision the transport understands.
const callProtoMinLayer = 65

// actionTimeout bounds every blocking collaborator query issued from a
// state machine action. An expired query fails the action, which tears
// the call down through an internal error event.
const actionTimeout = 15 * time.Second

// SIP status codes used as hangup reasons for failed bridges.
const (
	statusNotFound      = 404
	statusBadExtension  = 420
	statusInternalError = 500
)

// InternalError is raised by an action whose collaborator call failed.
// It is routed back to the same context on the next dispatcher
// iteration and drives the machine to the terminal state.
type InternalError struct {
	CtxID  string
	Code   int
	Reason string
}

// TelegramClient is the slice of the Telegram client the dispatcher
// drives. All methods block until the worker delivers a response.
type TelegramClient interface {
	SearchContacts(ctx context.Context, query string, limit int32) (*telegram.Users, error)
	GetUser(ctx context.Context, userID int64) (*telegram.User, error)
	SearchPublicChat(ctx context.Context, username string) (*telegram.Chat, error)
	ImportContact(ctx context.Context, phone string) (*telegram.ImportedContacts, error)
	CreateCall(ctx context.Context, userID int64, protocol telegram.CallProtocol) (*telegram.CallID, error)
	AcceptCall(ctx context.Context, callID int32, protocol telegram.CallProtocol) error
	DiscardCall(ctx context.Context, callID int32, isDisconnected bool, duration int32, connectionID int64) error
}

// SIPClient is the slice of the SIP adapter the dispatcher drives.
type SIPClient interface {
	Dial(headers []sip.Header) (sip.CallID, error)
	Ring(id sip.CallID) error
	Answer(id sip.CallID) error
	Hangup(id sip.CallID, code int, reason string) error
	DialDTMF(id sip.CallID, digits string) error
	BridgeAudio(id sip.CallID, src io.Reader, dst io.Writer) error
}

// Config carries the dispatcher settings.
type Config struct {
	// CallbackURI is the SIP peer that Telegram-originated calls are
	// dialled to. When empty, Telegram-originated calls are rejected.
	CallbackURI string

	// UDPP2P and UDPReflector select the transports offered in the
	// call protocol capabilities.
	UDPP2P       bool
	UDPReflector bool

	// ExtraWait is added on top of every server-requested flood delay.
	ExtraWait time.Duration

	// PeerFlood is the block applied when the server reports
	// PEER_FLOOD, which carries no retry delay of its own.
	PeerFlood time.Duration

	// Voip configures the per-call voice transport.
	Voip voip.Config
}

func (c Config) callbackSet() bool { return c.CallbackURI != "" }
