// Package chatapi serves the chat endpoint and the read-only invoice views.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"invoicechat/cmd/internal/accounting"
	"invoicechat/cmd/internal/chat"
	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/gateway"
)

const (
	maxChatBody        = 256 << 10
	defaultInvoicePage = 100
	defaultTurnTimeout = 2 * time.Minute
)

// Runner runs one chat turn. *chat.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, b credential.Bundle, req chat.Request) (chat.Turn, error)
}

// Handler serves /chat and /invoices.
type Handler struct {
	log         *slog.Logger
	chat        Runner
	conn        chat.Connector
	server      credential.Store
	turnTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithTurnTimeout bounds one /chat turn. Non-positive values keep the default.
func WithTurnTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.turnTimeout = d
		}
	}
}

// NewHandler builds a Handler. server is the process-wide store filled by the
// OAuth callback; it backs the /invoices views.
func NewHandler(log *slog.Logger, runner Runner, conn chat.Connector, server credential.Store, opts ...Option) (*Handler, error) {
	if runner == nil || conn == nil || server == nil {
		return nil, errors.New("chatapi: nil runner, connector or store")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{log: log, chat: runner, conn: conn, server: server, turnTimeout: defaultTurnTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/chat", h.handleChat)
	mux.HandleFunc("/invoices", h.handleInvoices)
	mux.HandleFunc("/invoices/{id}", h.handleInvoice)
}

// ChatRequest is the /chat body. realmId is accepted as an alias of tenantId.
type ChatRequest struct {
	Message      string                `json:"message"`
	AccessToken  string                `json:"accessToken"`
	RefreshToken string                `json:"refreshToken"`
	TenantID     string                `json:"tenantId"`
	RealmID      string                `json:"realmId,omitempty"`
	ExpiresAt    *credential.Timestamp `json:"expiresAt,omitempty"`
	History      []chat.Message        `json:"history,omitempty"`
}

// Bundle extracts the caller's credential bundle.
func (r ChatRequest) Bundle() credential.Bundle {
	b := credential.Bundle{
		AccessToken:  strings.TrimSpace(r.AccessToken),
		RefreshToken: strings.TrimSpace(r.RefreshToken),
		TenantID:     strings.TrimSpace(r.TenantID),
	}
	if b.TenantID == "" {
		b.TenantID = strings.TrimSpace(r.RealmID)
	}
	if r.ExpiresAt != nil {
		b.ExpiresAt = time.Time(*r.ExpiresAt)
	}
	return b
}

// ChatResponse is the /chat success body.
type ChatResponse struct {
	chat.Response
	Credentials *credential.Bundle `json:"credentials,omitempty"`
}

// ChatFailure maps a failed turn to its HTTP status and body.
func ChatFailure(err error) (int, any) {
	switch {
	case errors.Is(err, chat.ErrMissingCredentials):
		return http.StatusBadRequest, chatError{
			Error:   "Missing accounting authentication tokens",
			Message: "Please authenticate with the accounting service before using invoice features.",
		}
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, chatError{Error: "Missing message", Message: "message is required"}
	case errors.Is(err, gateway.ErrAuthenticationFailed):
		return http.StatusUnauthorized, chatError{
			Error:     "Authentication failed",
			Message:   "Your accounting connection expired. Please reconnect.",
			NeedsAuth: true,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, chatError{Error: "Timed out", Message: "the turn took too long"}
	default:
		return http.StatusInternalServerError, chatError{Error: "Failed to generate response", Message: err.Error()}
	}
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req ChatRequest
	if err := decodeJSON(w, r, maxChatBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatError{Error: "Invalid request", Message: "invalid json body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.turnTimeout)
	defer cancel()
	turn, err := h.chat.Run(ctx, req.Bundle(), chat.Request{Message: req.Message, History: req.History})
	if err != nil {
		status, body := ChatFailure(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("chat.fail", "err", err, "steps", turn.Steps)
		} else {
			h.log.Info("chat.reject", "status", status, "err", err)
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: turn.Response, Credentials: turn.Credentials})
}

type invoicesResponse struct {
	Success    bool                 `json:"success"`
	Count      int                  `json:"count"`
	TotalCount int                  `json:"totalCount"`
	Invoices   []accounting.Summary `json:"invoices"`
	Query      string               `json:"query"`
}

func (h *Handler) handleInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	client, ok := h.serverClient(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), defaultInvoicePage)
	offset := queryInt(q.Get("offset"), 0)
	f := accounting.InvoiceFilter{
		CustomerID:    q.Get("customerId"),
		Status:        q.Get("status"),
		DocNumber:     q.Get("docNumber"),
		MaxResults:    accounting.ClampMaxResults(limit),
		StartPosition: offset + 1,
	}

	res, err := client.QueryInvoices(r.Context(), f)
	if err != nil {
		h.writeUpstream(w, "invoices.fail", err)
		return
	}

	out := invoicesResponse{Success: true, Invoices: make([]accounting.Summary, 0, len(res.Invoices)), Query: res.Query}
	for _, inv := range res.Invoices {
		out.Invoices = append(out.Invoices, accounting.Summarize(inv))
	}
	out.Count = len(out.Invoices)
	out.TotalCount = res.TotalCount
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	client, ok := h.serverClient(w, r)
	if !ok {
		return
	}

	inv, err := client.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeUpstream(w, "invoice.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "invoice": accounting.Summarize(inv)})
}

func (h *Handler) serverClient(w http.ResponseWriter, r *http.Request) (*accounting.Client, bool) {
	b, err := h.server.Get(r.Context())
	if err != nil {
		h.log.Error("credential.read.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return nil, false
	}
	if b.AccessToken == "" || b.TenantID == "" {
		writeError(w, http.StatusUnauthorized, "not_connected", "connect to the accounting service first")
		return nil, false
	}
	client, err := h.conn.Connect(h.server)
	if err != nil {
		h.log.Error("accounting.connect.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return nil, false
	}
	return client, true
}

func (h *Handler) writeUpstream(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, gateway.ErrAuthenticationFailed):
		writeJSON(w, http.StatusUnauthorized, chatError{Error: "Authentication failed", Message: "Please reconnect.", NeedsAuth: true})
	case errors.Is(err, accounting.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Invoice does not exist")
	case errors.Is(err, accounting.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid invoice id")
	case errors.Is(err, gateway.ErrTransport):
		h.log.Warn(event, "err", err)
		writeError(w, http.StatusBadGateway, "upstream_unavailable", "accounting service did not respond")
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "upstream", err.Error())
	}
}

func queryInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return def
	}
	return n
}
