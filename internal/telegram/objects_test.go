package telegram

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"testing"
)

func TestUnmarshalUpdateCallReady(t *testing.T) {
	key := bytes.Repeat([]byte{0xAB}, 256)
	tag := bytes.Repeat([]byte{0x11}, 16)
	raw := fmt.Sprintf(`{
		"@type": "updateCall",
		"call": {
			"id": 7,
			"user_id": 42,
			"is_outgoing": true,
			"state": {
				"@type": "callStateReady",
				"protocol": {"@type": "callProtocol", "udp_p2p": false, "udp_reflector": true, "min_layer": 65, "max_layer": 92},
				"connections": [{"@type": "callConnection", "id": "101", "ip": "149.154.175.50", "ipv6": "2001:b28:f23d:f001::a", "port": 520, "peer_tag": "%s"}],
				"config": "{}",
				"encryption_key": "%s",
				"allow_p2p": false
			}
		}
	}`, base64.StdEncoding.EncodeToString(tag), base64.StdEncoding.EncodeToString(key))

	obj, err := unmarshalObject([]byte(raw))
	if err != nil {
		t.Fatalf("unmarshalObject: %v", err)
	}
	update, ok := obj.(*UpdateCall)
	if !ok {
		t.Fatalf("got %T, want *UpdateCall", obj)
	}
	if update.Call.ID != 7 || update.Call.UserID != 42 || !update.Call.IsOutgoing {
		t.Errorf("call = %+v, want id=7 user=42 outgoing", update.Call)
	}
	ready, ok := update.Call.State.(*CallStateReady)
	if !ok {
		t.Fatalf("state = %T, want *CallStateReady", update.Call.State)
	}
	if !bytes.Equal(ready.EncryptionKey, key) {
		t.Errorf("encryption key mismatch, got %d bytes", len(ready.EncryptionKey))
	}
	if ready.Protocol.MinLayer != 65 || ready.Protocol.MaxLayer != 92 {
		t.Errorf("protocol layers = %d..%d, want 65..92", ready.Protocol.MinLayer, ready.Protocol.MaxLayer)
	}
	if len(ready.Connections) != 1 {
		t.Fatalf("connections = %d, want 1", len(ready.Connections))
	}
	conn := ready.Connections[0]
	if conn.ID != 101 || conn.IP != "149.154.175.50" || conn.Port != 520 {
		t.Errorf("connection = %+v", conn)
	}
	if !bytes.Equal(conn.PeerTag, tag) {
		t.Errorf("peer tag mismatch, got %d bytes", len(conn.PeerTag))
	}
}

func TestUnmarshalObjects(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, obj Object)
	}{
		{
			name: "error",
			raw:  `{"@type":"error","code":429,"message":"Too Many Requests: retry after 17"}`,
			check: func(t *testing.T, obj Object) {
				e, ok := obj.(*Error)
				if !ok {
					t.Fatalf("got %T, want *Error", obj)
				}
				if e.Code != 429 || e.Message != "Too Many Requests: retry after 17" {
					t.Errorf("error = %+v", e)
				}
			},
		},
		{
			name: "users",
			raw:  `{"@type":"users","total_count":2,"user_ids":[7,9]}`,
			check: func(t *testing.T, obj Object) {
				u, ok := obj.(*Users)
				if !ok {
					t.Fatalf("got %T, want *Users", obj)
				}
				if u.TotalCount != 2 || len(u.UserIDs) != 2 || u.UserIDs[1] != 9 {
					t.Errorf("users = %+v", u)
				}
			},
		},
		{
			name: "private chat",
			raw:  `{"@type":"chat","id":42,"title":"Alice","type":{"@type":"chatTypePrivate","user_id":42}}`,
			check: func(t *testing.T, obj Object) {
				c, ok := obj.(*Chat)
				if !ok {
					t.Fatalf("got %T, want *Chat", obj)
				}
				private, ok := c.ChatType.(*ChatTypePrivate)
				if !ok {
					t.Fatalf("chat type = %T, want *ChatTypePrivate", c.ChatType)
				}
				if private.UserID != 42 {
					t.Errorf("user id = %d, want 42", private.UserID)
				}
			},
		},
		{
			name: "group chat type is opaque",
			raw:  `{"@type":"chat","id":-100,"title":"Lobby","type":{"@type":"chatTypeSupergroup","supergroup_id":5}}`,
			check: func(t *testing.T, obj Object) {
				c := obj.(*Chat)
				if _, ok := c.ChatType.(*ChatTypePrivate); ok {
					t.Error("supergroup decoded as private chat")
				}
			},
		},
		{
			name: "text message",
			raw:  `{"@type":"updateNewMessage","message":{"id":1,"chat_id":5,"sender_user_id":9,"is_outgoing":false,"content":{"@type":"messageText","text":{"@type":"formattedText","text":"123#"}}}}`,
			check: func(t *testing.T, obj Object) {
				u, ok := obj.(*UpdateNewMessage)
				if !ok {
					t.Fatalf("got %T, want *UpdateNewMessage", obj)
				}
				text, ok := u.Message.Content.(*MessageText)
				if !ok {
					t.Fatalf("content = %T, want *MessageText", u.Message.Content)
				}
				if text.Text.Text != "123#" || u.Message.SenderUserID != 9 {
					t.Errorf("message = %+v text = %q", u.Message, text.Text.Text)
				}
			},
		},
		{
			name: "imported contacts",
			raw:  `{"@type":"importedContacts","user_ids":[0],"importer_count":[0]}`,
			check: func(t *testing.T, obj Object) {
				ic, ok := obj.(*ImportedContacts)
				if !ok {
					t.Fatalf("got %T, want *ImportedContacts", obj)
				}
				if len(ic.UserIDs) != 1 || ic.UserIDs[0] != 0 {
					t.Errorf("user ids = %v", ic.UserIDs)
				}
			},
		},
		{
			name: "unknown type",
			raw:  `{"@type":"updateOption","name":"version"}`,
			check: func(t *testing.T, obj Object) {
				u, ok := obj.(*Unknown)
				if !ok {
					t.Fatalf("got %T, want *Unknown", obj)
				}
				if u.typeName() != "updateOption" {
					t.Errorf("type = %q", u.typeName())
				}
			},
		},
		{
			name: "authorization state",
			raw:  `{"@type":"updateAuthorizationState","authorization_state":{"@type":"authorizationStateReady"}}`,
			check: func(t *testing.T, obj Object) {
				u, ok := obj.(*UpdateAuthorizationState)
				if !ok {
					t.Fatalf("got %T, want *UpdateAuthorizationState", obj)
				}
				if u.StateType != authReady {
					t.Errorf("state = %q, want %q", u.StateType, authReady)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := unmarshalObject([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unmarshalObject: %v", err)
			}
			tt.check(t, obj)
		})
	}
}
