package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"invoicechat/cmd/internal/accounting"
	"invoicechat/cmd/internal/metrics"
	"invoicechat/cmd/internal/tools"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the model calls in one turn.
const DefaultMaxSteps = 5

var (
	// ErrEmptyMessage is returned for a blank user utterance.
	ErrEmptyMessage = errors.New("chat: message is required")
	// ErrNilToolkit is returned when Run has nothing to call.
	ErrNilToolkit = errors.New("chat: nil toolkit")
)

// Request is one user turn. History holds earlier user/assistant messages.
type Request struct {
	Message string
	History []Message
}

// ToolRecord logs one tool call for diagnostics.
type ToolRecord struct {
	Step     int          `json:"step"`
	ToolName string       `json:"toolName"`
	Result   tools.Result `json:"result"`
}

// Response is the outcome of a turn.
type Response struct {
	Text        string               `json:"text"`
	ToolResults []ToolRecord         `json:"toolResults"`
	Invoices    []accounting.Invoice `json:"invoices"`
	HasInvoices bool                 `json:"hasInvoices"`
	Steps       int                  `json:"-"`
}

// Orchestrator runs turns against a Model. It holds no per-user state and is
// safe for concurrent use.
type Orchestrator struct {
	model    Model
	prompt   string
	maxSteps int
	log      *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxSteps overrides DefaultMaxSteps. Values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithSystemPrompt replaces SystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(p) != "" {
			o.prompt = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// NewOrchestrator builds an Orchestrator over m.
func NewOrchestrator(m Model, opts ...Option) (*Orchestrator, error) {
	if m == nil {
		return nil, errors.New("chat: nil model")
	}
	o := &Orchestrator{
		model:    m,
		prompt:   SystemPrompt,
		maxSteps: DefaultMaxSteps,
		log:      slog.Default(),
		tracer:   otel.Tracer("invoicechat/chat"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Run executes one turn. Tool calls within a step run in order and each step
// sees the results of the previous one. A tool reporting an authentication
// failure ends the turn with an error matching gateway.ErrAuthenticationFailed;
// the partial Response is still returned.
func (o *Orchestrator) Run(ctx context.Context, tk Toolkit, req Request) (resp Response, err error) {
	if tk == nil {
		return Response{}, ErrNilToolkit
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Response{}, ErrEmptyMessage
	}

	ctx, span := o.tracer.Start(ctx, "chat.turn")
	defer func() {
		span.SetAttributes(attribute.Int("chat.steps", resp.Steps), attribute.Int("chat.invoices", len(resp.Invoices)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn failed")
		}
		span.End()
		metrics.ChatSteps.Observe(float64(resp.Steps))
	}()

	messages := make([]Message, 0, len(req.History)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: o.prompt})
	for _, h := range req.History {
		if h.Role == RoleUser || h.Role == RoleAssistant {
			messages = append(messages, Message{Role: h.Role, Content: h.Content})
		}
	}
	messages = append(messages, Message{Role: RoleUser, Content: msg})

	defs := tk.Definitions()
	found := newCollection()
	resp.ToolResults = []ToolRecord{}

	finish := func() {
		resp.Invoices = found.invoices()
		resp.HasInvoices = len(resp.Invoices) > 0
	}

	for step := 1; step <= o.maxSteps; step++ {
		resp.Steps = step
		reply, err := o.model.Next(ctx, messages, defs)
		if err != nil {
			finish()
			o.log.Error("chat.fail", "step", step, "err", err)
			return resp, fmt.Errorf("chat: model step %d: %w", step, err)
		}
		resp.Text = strings.TrimSpace(reply.Text)

		if len(reply.ToolCalls) == 0 {
			break
		}
		messages = append(messages, Message{Role: RoleAssistant, Content: reply.Text, ToolCalls: reply.ToolCalls})

		for _, call := range reply.ToolCalls {
			res := tk.Invoke(ctx, call.Name, call.Arguments)
			resp.ToolResults = append(resp.ToolResults, ToolRecord{Step: step, ToolName: call.Name, Result: res})
			found.addResult(res)

			if res.Err != nil && res.Err.Kind == tools.KindAuthenticationFailed {
				finish()
				o.log.Warn("chat.auth_failed", "step", step, "tool", call.Name)
				return resp, fmt.Errorf("chat: %s: %w", call.Name, res.Err)
			}

			content, merr := json.Marshal(res)
			if merr != nil {
				content = []byte(`{"error":true,"kind":"upstream","message":"unencodable tool result"}`)
			}
			messages = append(messages, Message{Role: RoleTool, ToolCallID: call.ID, Content: string(content)})
		}
		o.log.Info("chat.step", "step", step, "tool_calls", len(reply.ToolCalls), "invoices", len(found.order))
	}

	finish()
	return resp, nil
}
