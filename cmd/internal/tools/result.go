package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"invoicechat/cmd/internal/accounting"
	"invoicechat/cmd/internal/gateway"
)

// Kind classifies a tool failure.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindStaleVersion         Kind = "stale_version"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindTransport            Kind = "transport"
	KindUpstream             Kind = "upstream"
)

// User-facing messages for the recoverable kinds.
const (
	MsgNotFound     = "Invoice does not exist"
	MsgStaleVersion = "SyncToken is stale. Please refetch the invoice and retry with the latest SyncToken."
	MsgAuthFailed   = "Authentication failed. Please reconnect to the accounting service."
)

// ToolError is the error arm of Result.
type ToolError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`

	err error
}

func (e *ToolError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error { return e.err }

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Result is what every tool invocation resolves to: either Value or Err.
type Result struct {
	Value any
	Err   *ToolError
}

// OK reports the success arm.
func (r Result) OK() bool { return r.Err == nil }

// MarshalJSON renders the success payload as-is, or
// {"error":true,"kind","message","cause"} for failures.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(struct {
			Error bool `json:"error"`
			*ToolError
		}{true, r.Err})
	}
	return json.Marshal(r.Value)
}

// InvoiceCarrier is implemented by results that hold invoices.
type InvoiceCarrier interface {
	CollectInvoices() []accounting.Invoice
}

// ListResult is the listInvoices payload.
type ListResult struct {
	Invoices      []accounting.Invoice     `json:"invoices"`
	TotalCount    int                      `json:"totalCount"`
	StartPosition int                      `json:"startPosition"`
	MaxResults    int                      `json:"maxResults"`
	Query         string                   `json:"query"`
	Filters       accounting.InvoiceFilter `json:"filters"`
}

// CollectInvoices implements InvoiceCarrier.
func (l ListResult) CollectInvoices() []accounting.Invoice { return l.Invoices }

// InvoiceResult wraps a single invoice returned by get, create or update.
type InvoiceResult struct {
	accounting.Invoice
}

// MarshalJSON renders the bare invoice.
func (r InvoiceResult) MarshalJSON() ([]byte, error) { return json.Marshal(r.Invoice) }

// CollectInvoices implements InvoiceCarrier.
func (r InvoiceResult) CollectInvoices() []accounting.Invoice {
	return []accounting.Invoice{r.Invoice}
}

// DeleteResult confirms a deletion.
type DeleteResult struct {
	Message string                  `json:"message"`
	Result  accounting.DeleteResult `json:"result"`
}

// SendResult confirms a delivery and carries the updated invoice.
type SendResult struct {
	Message string             `json:"message"`
	Invoice accounting.Invoice `json:"result"`
}

// CollectInvoices implements InvoiceCarrier.
func (s SendResult) CollectInvoices() []accounting.Invoice {
	if s.Invoice.Identity() == "" {
		return nil
	}
	return []accounting.Invoice{s.Invoice}
}

// classify maps any error from a tool body into a ToolError.
func classify(op string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	switch {
	case errors.Is(err, gateway.ErrAuthenticationFailed):
		return &ToolError{Kind: KindAuthenticationFailed, Message: MsgAuthFailed, err: err}
	case errors.Is(err, gateway.ErrTransport):
		return &ToolError{Kind: KindTransport, Message: "Failed to " + op + ": the accounting service did not respond", Cause: err.Error(), err: err}
	case errors.Is(err, accounting.ErrNotFound):
		return &ToolError{Kind: KindNotFound, Message: MsgNotFound, err: err}
	case errors.Is(err, accounting.ErrStaleVersion):
		return &ToolError{Kind: KindStaleVersion, Message: MsgStaleVersion, Cause: err.Error(), err: err}
	case errors.Is(err, accounting.ErrInvalidID):
		return &ToolError{Kind: KindValidation, Message: "invoiceId is not a valid id", err: err}
	}
	var ue *accounting.UpstreamError
	if errors.As(err, &ue) {
		return &ToolError{Kind: KindUpstream, Message: "Failed to " + op + ": " + ue.Error(), err: err}
	}
	return &ToolError{Kind: KindUpstream, Message: "Failed to " + op, Cause: err.Error(), err: err}
}
