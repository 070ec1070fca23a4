package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"invoicechat/cmd/internal/chat"
	"invoicechat/cmd/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIModel_RoundTrip(t *testing.T) {
	var got struct {
		Model    string           `json:"model"`
		Messages []map[string]any `json:"messages"`
		Tools    []struct {
			Type     string `json:"type"`
			Function struct {
				Name       string         `json:"name"`
				Parameters map[string]any `json:"parameters"`
			} `json:"function"`
		} `json:"tools"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 0, "model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": null,
				"tool_calls": [
					{"id": "call_a", "type": "function", "function": {"name": "listInvoices", "arguments": "{\"maxResults\":20}"}},
					{"id": "call_b", "type": "function", "function": {"name": "getInvoice", "arguments": ""}}
				]
			}}]
		}`))
	}))
	t.Cleanup(srv.Close)

	m, err := chat.NewOpenAIModel(chat.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)

	defs := []tools.Definition{{Name: "listInvoices", Description: "List", Parameters: map[string]any{"type": "object", "properties": map[string]any{}}}}
	reply, err := m.Next(context.Background(), []chat.Message{
		{Role: chat.RoleSystem, Content: "sys"},
		{Role: chat.RoleUser, Content: "show invoices"},
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{{ID: "call_0", Name: "listInvoices", Arguments: json.RawMessage(`{}`)}}},
		{Role: chat.RoleTool, ToolCallID: "call_0", Content: `{"invoices":[]}`},
	}, defs)
	require.NoError(t, err)

	assert.Equal(t, chat.DefaultOpenAIModel, got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "assistant", got.Messages[2]["role"])
	assert.Equal(t, "call_0", got.Messages[3]["tool_call_id"])
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "listInvoices", got.Tools[0].Function.Name)

	require.Len(t, reply.ToolCalls, 2)
	assert.Equal(t, "call_a", reply.ToolCalls[0].ID)
	assert.JSONEq(t, `{"maxResults":20}`, string(reply.ToolCalls[0].Arguments))
	assert.JSONEq(t, `{}`, string(reply.ToolCalls[1].Arguments))
}

func TestNewOpenAIModel_RequiresKey(t *testing.T) {
	_, err := chat.NewOpenAIModel(chat.OpenAIConfig{})
	require.Error(t, err)
}

func TestOpenAIModel_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	m, err := chat.NewOpenAIModel(chat.OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/",
		HTTPClient: srv.Client(),
		Timeout:    50 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Next(context.Background(), []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("completion request was not bounded by the timeout")
	}
}
