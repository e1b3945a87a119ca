package telegram

import (
	"encoding/json"
	"fmt"
)

// Object is a decoded TDLib API object. Every object carries its TDLib
// type name in the "@type" envelope field.
type Object interface {
	typeName() string
}

// meta holds the envelope fields shared by all TDLib JSON objects.
type meta struct {
	Type  string `json:"@type"`
	Extra string `json:"@extra,omitempty"`
}

func (m meta) typeName() string { return m.Type }

func (m *meta) setExtra(x string) { m.Extra = x }

// Ok is the empty success response.
type Ok struct {
	meta
}

// Error is the failure response to a request.
type Error struct {
	meta
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// Unknown stands in for any object type the gateway has no use for.
type Unknown struct {
	meta
}

// UpdateAuthorizationState reports a change of the login state.
// The state payload carries nothing the gateway needs, so only the
// state type name is kept.
type UpdateAuthorizationState struct {
	meta
	StateType string `json:"-"`
}

func (u *UpdateAuthorizationState) UnmarshalJSON(data []byte) error {
	var raw struct {
		meta
		State struct {
			Type string `json:"@type"`
		} `json:"authorization_state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.meta = raw.meta
	u.StateType = raw.State.Type
	return nil
}

// Authorization state type names the client reacts to.
const (
	authWaitTdlibParameters = "authorizationStateWaitTdlibParameters"
	authWaitEncryptionKey   = "authorizationStateWaitEncryptionKey"
	authWaitPhoneNumber     = "authorizationStateWaitPhoneNumber"
	authWaitCode            = "authorizationStateWaitCode"
	authWaitPassword        = "authorizationStateWaitPassword"
	authWaitRegistration    = "authorizationStateWaitRegistration"
	authReady               = "authorizationStateReady"
	authClosing             = "authorizationStateClosing"
	authClosed              = "authorizationStateClosed"
)

// UpdateCall reports a new state of a voice call.
type UpdateCall struct {
	meta
	Call Call `json:"call"`
}

// Call is one Telegram voice call.
type Call struct {
	ID         int32  `json:"id"`
	UserID     int64  `json:"user_id"`
	IsOutgoing bool   `json:"is_outgoing"`
	State      Object `json:"-"`
}

func (c *Call) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         int32           `json:"id"`
		UserID     int64           `json:"user_id"`
		IsOutgoing bool            `json:"is_outgoing"`
		State      json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.UserID = raw.UserID
	c.IsOutgoing = raw.IsOutgoing
	if len(raw.State) > 0 {
		state, err := unmarshalObject(raw.State)
		if err != nil {
			return fmt.Errorf("call state: %w", err)
		}
		c.State = state
	}
	return nil
}

// CallProtocol describes the transports and layer range supported for a
// call. It is sent with createCall/acceptCall and echoed in callStateReady.
type CallProtocol struct {
	meta
	UDPP2P       bool  `json:"udp_p2p"`
	UDPReflector bool  `json:"udp_reflector"`
	MinLayer     int32 `json:"min_layer"`
	MaxLayer     int32 `json:"max_layer"`
}

// NewCallProtocol builds a callProtocol object ready to be sent.
func NewCallProtocol(udpP2P, udpReflector bool, minLayer, maxLayer int32) CallProtocol {
	return CallProtocol{
		meta:         meta{Type: "callProtocol"},
		UDPP2P:       udpP2P,
		UDPReflector: udpReflector,
		MinLayer:     minLayer,
		MaxLayer:     maxLayer,
	}
}

// CallConnection is one relay the call may be routed through.
type CallConnection struct {
	ID      int64  `json:"id,string"`
	IP      string `json:"ip"`
	IPv6    string `json:"ipv6"`
	Port    int32  `json:"port"`
	PeerTag []byte `json:"peer_tag"`
}

// CallStatePending means the call is ringing on one of the two sides.
type CallStatePending struct {
	meta
	IsCreated  bool `json:"is_created"`
	IsReceived bool `json:"is_received"`
}

// CallStateExchangingKeys means the end-to-end key negotiation is running.
type CallStateExchangingKeys struct {
	meta
}

// CallStateReady carries everything needed to start media: the negotiated
// protocol, the relay list, the 256 byte encryption key and the p2p policy.
type CallStateReady struct {
	meta
	Protocol      CallProtocol     `json:"protocol"`
	Connections   []CallConnection `json:"connections"`
	Config        string           `json:"config"`
	EncryptionKey []byte           `json:"encryption_key"`
	AllowP2P      bool             `json:"allow_p2p"`
}

// CallStateHangingUp means discardCall was issued and the peers are
// being notified.
type CallStateHangingUp struct {
	meta
}

// CallStateDiscarded is the terminal state of a finished call.
type CallStateDiscarded struct {
	meta
}

// CallStateError is the terminal state of a failed call.
type CallStateError struct {
	meta
	Error Error `json:"error"`
}

// UpdateNewMessage reports a message received in any chat.
type UpdateNewMessage struct {
	meta
	Message Message `json:"message"`
}

// Message is a chat message; only text content is decoded.
type Message struct {
	ID           int64  `json:"id"`
	ChatID       int64  `json:"chat_id"`
	SenderUserID int64  `json:"sender_user_id"`
	IsOutgoing   bool   `json:"is_outgoing"`
	Content      Object `json:"-"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID           int64           `json:"id"`
		ChatID       int64           `json:"chat_id"`
		SenderUserID int64           `json:"sender_user_id"`
		IsOutgoing   bool            `json:"is_outgoing"`
		Content      json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.ChatID = raw.ChatID
	m.SenderUserID = raw.SenderUserID
	m.IsOutgoing = raw.IsOutgoing
	if len(raw.Content) > 0 {
		content, err := unmarshalObject(raw.Content)
		if err != nil {
			return fmt.Errorf("message content: %w", err)
		}
		m.Content = content
	}
	return nil
}

// MessageText is plain text message content.
type MessageText struct {
	meta
	Text FormattedText `json:"text"`
}

// FormattedText is a text with entities; the entities are not decoded.
type FormattedText struct {
	Text string `json:"text"`
}

// User is a Telegram user profile.
type User struct {
	meta
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Username    string `json:"username"`
	PhoneNumber string `json:"phone_number"`
	HaveAccess  bool   `json:"have_access"`
}

// Users is a list of user identifiers.
type Users struct {
	meta
	TotalCount int32   `json:"total_count"`
	UserIDs    []int64 `json:"user_ids"`
}

// Chat is a Telegram chat; only the type discriminates here.
type Chat struct {
	meta
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	ChatType Object `json:"-"`
}

func (c *Chat) UnmarshalJSON(data []byte) error {
	var raw struct {
		meta
		ID    int64           `json:"id"`
		Title string          `json:"title"`
		Type  json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.meta = raw.meta
	c.ID = raw.ID
	c.Title = raw.Title
	if len(raw.Type) > 0 {
		chatType, err := unmarshalObject(raw.Type)
		if err != nil {
			return fmt.Errorf("chat type: %w", err)
		}
		c.ChatType = chatType
	}
	return nil
}

// ChatTypePrivate marks a one-on-one chat with a user.
type ChatTypePrivate struct {
	meta
	UserID int64 `json:"user_id"`
}

// CallID is the response of createCall.
type CallID struct {
	meta
	ID int32 `json:"id"`
}

// ImportedContacts is the response of importContacts. A user id of 0 at
// position i means the contact at position i is not a Telegram user.
type ImportedContacts struct {
	meta
	UserIDs       []int64 `json:"user_ids"`
	ImporterCount []int32 `json:"importer_count"`
}

// unmarshalObject decodes a TDLib JSON object into its typed form.
// Types outside the gateway's subset come back as *Unknown.
func unmarshalObject(data []byte) (Object, error) {
	var probe meta
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var obj Object
	switch probe.Type {
	case "ok":
		obj = new(Ok)
	case "error":
		obj = new(Error)
	case "updateAuthorizationState":
		obj = new(UpdateAuthorizationState)
	case "updateCall":
		obj = new(UpdateCall)
	case "updateNewMessage":
		obj = new(UpdateNewMessage)
	case "callStatePending":
		obj = new(CallStatePending)
	case "callStateExchangingKeys":
		obj = new(CallStateExchangingKeys)
	case "callStateReady":
		obj = new(CallStateReady)
	case "callStateHangingUp":
		obj = new(CallStateHangingUp)
	case "callStateDiscarded":
		obj = new(CallStateDiscarded)
	case "callStateError":
		obj = new(CallStateError)
	case "user":
		obj = new(User)
	case "users":
		obj = new(Users)
	case "chat":
		obj = new(Chat)
	case "chatTypePrivate":
		obj = new(ChatTypePrivate)
	case "callId":
		obj = new(CallID)
	case "importedContacts":
		obj = new(ImportedContacts)
	default:
		u := new(Unknown)
		if err := json.Unmarshal(data, u); err != nil {
			return nil, fmt.Errorf("decode %s: %w", probe.Type, err)
		}
		return u, nil
	}
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("decode %s: %w", probe.Type, err)
	}
	return obj, nil
}
