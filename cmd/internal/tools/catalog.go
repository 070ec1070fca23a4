// Package tools exposes the invoice operations a language model may call.
//
// Every invocation resolves to a Result. Arguments are checked structurally
// and against the tool's JSON schema before any network call; failures of
// any kind come back as a ToolError, never as a panic or bare error.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"invoicechat/cmd/internal/accounting"
	"invoicechat/cmd/internal/metrics"

	"github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tool names. The set is closed.
const (
	ListInvoices   = "listInvoices"
	GetInvoice     = "getInvoice"
	CreateInvoice  = "createInvoice"
	UpdateInvoice  = "updateInvoice"
	DeleteInvoice  = "deleteInvoice"
	SendInvoicePdf = "sendInvoicePdf"
)

// Names lists every tool in catalog order.
var Names = []string{ListInvoices, GetInvoice, CreateInvoice, UpdateInvoice, DeleteInvoice, SendInvoicePdf}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Invoices is the subset of *accounting.Client the tools use.
type Invoices interface {
	QueryInvoices(ctx context.Context, f accounting.InvoiceFilter) (accounting.QueryResult, error)
	GetInvoice(ctx context.Context, id string) (accounting.Invoice, error)
	CreateInvoice(ctx context.Context, inv accounting.Invoice) (accounting.Invoice, error)
	UpdateInvoice(ctx context.Context, inv accounting.Invoice) (accounting.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) (accounting.DeleteResult, error)
	SendInvoice(ctx context.Context, id, email string) (accounting.Invoice, error)
}

type tool struct {
	name        string
	op          string
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
	// prepare normalizes decoded args and applies domain checks.
	prepare func(args map[string]any) (map[string]any, *ToolError)
	run     func(ctx context.Context, api Invoices, args json.RawMessage) (any, error)
}

// Catalog binds the tools to one Invoices client, and so to one credential.
type Catalog struct {
	api    Invoices
	log    *slog.Logger
	tools  []*tool
	byName map[string]*tool
	tracer trace.Tracer
}

// NewCatalog builds the catalog over api.
func NewCatalog(api Invoices, log *slog.Logger) (*Catalog, error) {
	if api == nil {
		return nil, errors.New("tools: nil invoices client")
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Catalog{api: api, log: log, byName: map[string]*tool{}, tracer: otel.Tracer("invoicechat/tools")}
	for _, t := range definitions() {
		r, err := t.schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("tools: resolve %s schema: %w", t.name, err)
		}
		t.resolved = r
		c.tools = append(c.tools, t)
		c.byName[t.name] = t
	}
	return c, nil
}

// Definitions returns the model-facing tool list.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, Definition{Name: t.name, Description: t.description, Parameters: schemaMap(t.schema)})
	}
	return out
}

// Invoke runs the named tool with JSON-encoded args.
func (c *Catalog) Invoke(ctx context.Context, name string, args json.RawMessage) (res Result) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "tool."+name)
	defer func() {
		label := "ok"
		if res.Err != nil {
			label = string(res.Err.Kind)
			span.SetAttributes(attribute.String("tool.error_kind", label))
		}
		metrics.ToolCalls.WithLabelValues(name, label).Inc()
		c.log.Info("tool.call", "tool", name, "result", label, "duration_ms", time.Since(start).Milliseconds())
		span.End()
	}()
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("tool.panic", "tool", name, "panic", p)
			res = Result{Err: &ToolError{Kind: KindUpstream, Message: "internal error in " + name}}
		}
	}()

	t, ok := c.byName[name]
	if !ok {
		return Result{Err: Validation("unknown tool %q", name)}
	}

	decoded := map[string]any{}
	if len(bytes.TrimSpace(args)) > 0 && !bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return Result{Err: Validation("arguments must be a JSON object: %v", err)}
		}
	}

	if t.prepare != nil {
		var te *ToolError
		if decoded, te = t.prepare(decoded); te != nil {
			return Result{Err: te}
		}
	}
	if err := t.resolved.Validate(decoded); err != nil {
		return Result{Err: &ToolError{Kind: KindValidation, Message: "invalid parameters for " + name, Cause: err.Error(), err: err}}
	}

	normalized, err := json.Marshal(decoded)
	if err != nil {
		return Result{Err: Validation("arguments: %v", err)}
	}
	v, err := t.run(ctx, c.api, normalized)
	if err != nil {
		return Result{Err: classify(t.op, err)}
	}
	return Result{Value: v}
}
