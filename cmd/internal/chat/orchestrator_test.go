package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"invoicechat/cmd/internal/accounting"
	"invoicechat/cmd/internal/accounting/accountingtest"
	"invoicechat/cmd/internal/chat"
	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/gateway"
	"invoicechat/cmd/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	calls int
	next  func(call int, msgs []chat.Message) (chat.Reply, error)
}

func (m *scriptedModel) Next(_ context.Context, msgs []chat.Message, defs []tools.Definition) (chat.Reply, error) {
	m.calls++
	return m.next(m.calls, msgs)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setup(t *testing.T) (*tools.Catalog, *accountingtest.Server, *credential.MemoryStore) {
	t.Helper()
	srv := accountingtest.NewServer(t)
	gw, store := accountingtest.NewGateway(t, srv)
	cat, err := tools.NewCatalog(accounting.NewClient(gw), discard())
	require.NoError(t, err)
	return cat, srv, store
}

func orchestrator(t *testing.T, m chat.Model, opts ...chat.Option) *chat.Orchestrator {
	t.Helper()
	o, err := chat.NewOrchestrator(m, append([]chat.Option{chat.WithLogger(discard())}, opts...)...)
	require.NoError(t, err)
	return o
}

func call(t *testing.T, n int, name string, args any) chat.ToolCall {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return chat.ToolCall{ID: fmt.Sprintf("call_%d", n), Name: name, Arguments: raw}
}

func lastTool(t *testing.T, msgs []chat.Message) map[string]any {
	t.Helper()
	last := msgs[len(msgs)-1]
	require.Equal(t, chat.RoleTool, last.Role)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.Content), &out))
	return out
}

func TestOrchestrator_PaginatesAllInvoices(t *testing.T) {
	cat, srv, _ := setup(t)
	srv.Seed(45)

	model := &scriptedModel{}
	model.next = func(n int, msgs []chat.Message) (chat.Reply, error) {
		if n == 1 {
			assert.Equal(t, chat.RoleSystem, msgs[0].Role)
			return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.ListInvoices, map[string]any{"maxResults": 20, "startPosition": 1})}}, nil
		}
		page := lastTool(t, msgs)
		got := page["invoices"].([]any)
		if len(got) < 20 {
			return chat.Reply{Text: "Here are your invoices."}, nil
		}
		start := int(page["startPosition"].(float64)) + 20
		return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.ListInvoices, map[string]any{"maxResults": 20, "startPosition": start})}}, nil
	}

	resp, err := orchestrator(t, model).Run(context.Background(), cat, chat.Request{Message: "Show all invoices"})
	require.NoError(t, err)

	assert.Equal(t, "Here are your invoices.", resp.Text)
	assert.Equal(t, 4, resp.Steps)
	require.Len(t, resp.ToolResults, 3)
	for i, want := range []int{20, 20, 5} {
		assert.Len(t, resp.ToolResults[i].Result.Value.(tools.ListResult).Invoices, want)
	}
	require.Len(t, resp.Invoices, 45)
	assert.True(t, resp.HasInvoices)

	seen := map[string]bool{}
	for _, inv := range resp.Invoices {
		assert.False(t, seen[inv.ID], "duplicate %s", inv.ID)
		seen[inv.ID] = true
	}
}

func TestOrchestrator_StaleVersionRecovery(t *testing.T) {
	cat, srv, _ := setup(t)
	srv.Put(accounting.Invoice{ID: "42", SyncToken: "2", CustomerRef: &accounting.Ref{Value: "5"}})

	model := &scriptedModel{}
	model.next = func(n int, msgs []chat.Message) (chat.Reply, error) {
		switch n {
		case 1:
			return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.UpdateInvoice, map[string]any{
				"invoiceId": "42",
				"invoice":   map[string]any{"SyncToken": "1", "PrivateNote": "Paid"},
			})}}, nil
		case 2:
			res := lastTool(t, msgs)
			require.Equal(t, true, res["error"])
			require.Equal(t, "stale_version", res["kind"])
			return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.GetInvoice, map[string]any{"invoiceId": "42"})}}, nil
		case 3:
			fresh := lastTool(t, msgs)
			return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.UpdateInvoice, map[string]any{
				"invoiceId": "42",
				"invoice":   map[string]any{"SyncToken": fresh["SyncToken"], "PrivateNote": "Paid", "CustomerRef": fresh["CustomerRef"]},
			})}}, nil
		default:
			return chat.Reply{Text: "I've updated invoice 42."}, nil
		}
	}

	resp, err := orchestrator(t, model).Run(context.Background(), cat, chat.Request{Message: "Mark invoice 42 as paid"})
	require.NoError(t, err)

	require.Len(t, resp.ToolResults, 3)
	assert.Equal(t, tools.KindStaleVersion, resp.ToolResults[0].Result.Err.Kind)
	assert.True(t, resp.ToolResults[2].Result.OK())

	stored, ok := srv.Invoice("42")
	require.True(t, ok)
	assert.Equal(t, "3", stored.SyncToken)
	assert.Equal(t, "Paid", stored.PrivateNote)

	require.Len(t, resp.Invoices, 1)
	assert.Equal(t, "3", resp.Invoices[0].SyncToken)
}

func TestOrchestrator_DedupeKeepsLaterOccurrence(t *testing.T) {
	cat, srv, _ := setup(t)
	ten, fifty := 10.0, 50.0
	srv.Put(accounting.Invoice{ID: "129", SyncToken: "0", Balance: &ten})

	model := &scriptedModel{}
	model.next = func(n int, msgs []chat.Message) (chat.Reply, error) {
		switch n {
		case 1:
			return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.GetInvoice, map[string]any{"invoiceId": "129"})}}, nil
		case 2:
			srv.Put(accounting.Invoice{ID: "129", SyncToken: "1", Balance: &fifty})
			return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.ListInvoices, map[string]any{})}}, nil
		default:
			return chat.Reply{Text: "Here's invoice 129."}, nil
		}
	}

	resp, err := orchestrator(t, model).Run(context.Background(), cat, chat.Request{Message: "Show invoice 129"})
	require.NoError(t, err)
	require.Len(t, resp.Invoices, 1)
	require.NotNil(t, resp.Invoices[0].Balance)
	assert.Equal(t, 50.0, *resp.Invoices[0].Balance)
}

func TestOrchestrator_StepCeiling(t *testing.T) {
	cat, srv, _ := setup(t)
	srv.Seed(1)

	model := &scriptedModel{}
	model.next = func(n int, _ []chat.Message) (chat.Reply, error) {
		return chat.Reply{Text: "still working", ToolCalls: []chat.ToolCall{call(t, n, tools.ListInvoices, map[string]any{})}}, nil
	}

	resp, err := orchestrator(t, model, chat.WithMaxSteps(5)).Run(context.Background(), cat, chat.Request{Message: "loop"})
	require.NoError(t, err)
	assert.Equal(t, 5, model.calls)
	assert.Equal(t, 5, resp.Steps)
	assert.Len(t, resp.ToolResults, 5)
	assert.Len(t, resp.Invoices, 1)
}

func TestOrchestrator_ToolErrorsStayInTheLoop(t *testing.T) {
	cat, srv, _ := setup(t)

	model := &scriptedModel{}
	model.next = func(n int, msgs []chat.Message) (chat.Reply, error) {
		if n == 1 {
			return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.CreateInvoice, map[string]any{})}}, nil
		}
		res := lastTool(t, msgs)
		assert.Equal(t, "CustomerRef.value is required", res["message"])
		return chat.Reply{Text: "Which customer is this for?"}, nil
	}

	resp, err := orchestrator(t, model).Run(context.Background(), cat, chat.Request{Message: "Create an invoice"})
	require.NoError(t, err)
	assert.False(t, resp.HasInvoices)
	assert.Empty(t, resp.Invoices)
	assert.Zero(t, srv.Requests())
}

func TestOrchestrator_AuthenticationFailureAbortsTurn(t *testing.T) {
	cat, srv, store := setup(t)
	srv.Token = "rotated-elsewhere"
	stale := "stale"
	_, err := store.Set(context.Background(), credential.Patch{AccessToken: &stale})
	require.NoError(t, err)

	model := &scriptedModel{}
	model.next = func(n int, _ []chat.Message) (chat.Reply, error) {
		return chat.Reply{ToolCalls: []chat.ToolCall{call(t, n, tools.ListInvoices, map[string]any{})}}, nil
	}

	resp, err := orchestrator(t, model).Run(context.Background(), cat, chat.Request{Message: "Show invoices"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
	assert.Equal(t, 1, model.calls)
	assert.Len(t, resp.ToolResults, 1)

	b, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, b.Empty())
}

func TestOrchestrator_ModelError(t *testing.T) {
	cat, _, _ := setup(t)
	boom := errors.New("rate limited")
	model := &scriptedModel{next: func(int, []chat.Message) (chat.Reply, error) { return chat.Reply{}, boom }}

	_, err := orchestrator(t, model).Run(context.Background(), cat, chat.Request{Message: "hi"})
	require.ErrorIs(t, err, boom)
}

func TestOrchestrator_RejectsEmptyMessage(t *testing.T) {
	cat, _, _ := setup(t)
	model := &scriptedModel{next: func(int, []chat.Message) (chat.Reply, error) { return chat.Reply{Text: "x"}, nil }}

	_, err := orchestrator(t, model).Run(context.Background(), cat, chat.Request{Message: "   "})
	require.ErrorIs(t, err, chat.ErrEmptyMessage)
	assert.Zero(t, model.calls)
}

func TestOrchestrator_HistoryIsForwarded(t *testing.T) {
	cat, _, _ := setup(t)
	model := &scriptedModel{}
	model.next = func(_ int, msgs []chat.Message) (chat.Reply, error) {
		require.Len(t, msgs, 4)
		assert.Equal(t, "earlier question", msgs[1].Content)
		assert.Equal(t, chat.RoleAssistant, msgs[2].Role)
		assert.Equal(t, "follow up", msgs[3].Content)
		return chat.Reply{Text: "ok"}, nil
	}
	_, err := orchestrator(t, model).Run(context.Background(), cat, chat.Request{
		Message: "follow up",
		History: []chat.Message{
			{Role: chat.RoleUser, Content: "earlier question"},
			{Role: chat.RoleAssistant, Content: "earlier answer"},
			{Role: chat.RoleTool, Content: "dropped"},
		},
	})
	require.NoError(t, err)
}
