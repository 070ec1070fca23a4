// Package v1 is the websocket contract for /ws/chat.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// Subprotocol must be offered by clients.
	Subprotocol = "invoicechat.chat.v1"

	TypeHello     = "hello"
	TypeHelloAck  = "hello.ack"
	TypeChatSend  = "chat.send"
	TypeChatReply = "chat.reply"
	TypeError     = "error"
)

var AllowedTypes = map[string]struct{}{
	TypeHello:     {},
	TypeHelloAck:  {},
	TypeChatSend:  {},
	TypeChatReply: {},
	TypeError:     {},
}

type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

type HelloPayload struct {
	Client string `json:"client,omitempty"`
}

type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSendPayload carries one user turn and the client-held credential bundle.
// ExpiresAt is epoch milliseconds.
type ChatSendPayload struct {
	Message      string           `json:"message"`
	History      []HistoryMessage `json:"history,omitempty"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	TenantID     string           `json:"tenantId"`
	RealmID      string           `json:"realmId,omitempty"`
	ExpiresAt    *int64           `json:"expiresAt,omitempty"`
}

// ChatReplyPayload mirrors the /chat response body. ReplyTo is the id of the
// chat.send envelope being answered.
type ChatReplyPayload struct {
	ReplyTo     string          `json:"reply_to"`
	Text        string          `json:"text"`
	ToolResults json.RawMessage `json:"toolResults"`
	Invoices    json.RawMessage `json:"invoices"`
	HasInvoices bool            `json:"hasInvoices"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

type ErrorPayload struct {
	ReplyTo   string `json:"reply_to,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	NeedsAuth bool   `json:"needsAuth,omitempty"`
}
