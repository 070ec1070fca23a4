// Package chat runs one conversational turn: a language model picks invoice
// tools, the results are fed back, and the turn ends with a short text
// answer plus the invoices the tools produced.
package chat

import (
	"context"
	"encoding/json"

	"invoicechat/cmd/internal/tools"
)

// Role names a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function call requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// Reply is the model's answer for one step. A reply without tool calls ends the turn.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// Model drives the tool loop.
type Model interface {
	Next(ctx context.Context, messages []Message, defs []tools.Definition) (Reply, error)
}

// Toolkit is the tool surface a turn runs against. *tools.Catalog satisfies it.
type Toolkit interface {
	Definitions() []tools.Definition
	Invoke(ctx context.Context, name string, args json.RawMessage) tools.Result
}
