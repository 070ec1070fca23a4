// Package main is a CI-friendly smoke test for the /ws/chat endpoint.
//
// It checks the handshake and subprotocol, the hello/ack exchange, and the
// rejection of a chat.send without credentials. When -tokens points at a
// credential bundle (the JSON written by the file store or returned by the
// OAuth callback) it also runs one real chat turn.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "invoicechat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string
	seq       int

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL      = flag.String("url", "ws://127.0.0.1:8080/ws/chat", "WebSocket URL")
		origin     = flag.String("origin", "http://localhost", "Origin header to send")
		tokensPath = flag.String("tokens", "", "Path to a credential bundle JSON; enables a live chat turn")
		text       = flag.String("text", "Show me my last 5 invoices", "Message to send on the live turn")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		turnWait   = flag.Duration("turn-timeout", 2*time.Minute, "Timeout for the live chat turn")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	c := mustConnect(root, *wsURL, *origin, *timeout)
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "bye") }()
	if *verbose {
		fmt.Printf("connected: session=%s origin=%q\n", c.sessionID, *origin)
	}

	// No credentials: the server must refuse before calling the model.
	id := c.send(root, v1.ChatSendPayload{Message: "hello"}, *timeout)
	ep := c.mustReadError(root, id, *timeout)
	if ep.Code != "missing_credentials" {
		fatalf("expected missing_credentials, got code=%q msg=%q", ep.Code, ep.Message)
	}

	if *tokensPath == "" {
		fmt.Printf("OK: session=%s (no -tokens, live turn skipped)\n", c.sessionID)
		return
	}

	p, err := readBundle(*tokensPath)
	if err != nil {
		fatalf("read tokens: %v", err)
	}
	p.Message = *text
	id = c.send(root, p, *timeout)
	reply := c.mustReadReply(root, id, *turnWait)
	if strings.TrimSpace(reply.Text) == "" {
		fatalf("chat.reply has empty text")
	}
	if *verbose {
		fmt.Printf("reply: %s\n", reply.Text)
	}
	fmt.Printf("OK: session=%s hasInvoices=%v refreshed=%v\n", c.sessionID, reply.HasInvoices, len(reply.Credentials) > 0)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// readBundle accepts the stored bundle shape, including the realmId alias.
func readBundle(path string) (v1.ChatSendPayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return v1.ChatSendPayload{}, err
	}
	var p v1.ChatSendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return v1.ChatSendPayload{}, err
	}
	if p.AccessToken == "" || p.RefreshToken == "" || (p.TenantID == "" && p.RealmID == "") {
		return v1.ChatSendPayload{}, errors.New("bundle needs accessToken, refreshToken and tenantId")
	}
	return p, nil
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	c.write(parent, v1.TypeHello, mustJSON(v1.HelloPayload{Client: "ws-smoke"}), stepTimeout)
	ack := c.mustReadUntil(parent, v1.TypeHelloAck, "", stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload: %v", err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello.ack missing session_id")
	}
	c.sessionID = p.SessionID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}
			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) send(parent context.Context, p v1.ChatSendPayload, stepTimeout time.Duration) string {
	return c.write(parent, v1.TypeChatSend, mustJSON(p), stepTimeout)
}

func (c *smokeClient) write(parent context.Context, typ string, payload json.RawMessage, stepTimeout time.Duration) string {
	c.seq++
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%d", c.seq),
		TS:      time.Now().UTC(),
		Payload: payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
	return env.ID
}

func (c *smokeClient) mustReadError(parent context.Context, replyTo string, wait time.Duration) v1.ErrorPayload {
	env := c.mustReadUntil(parent, v1.TypeError, replyTo, wait)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal error payload: %v", err)
	}
	return p
}

func (c *smokeClient) mustReadReply(parent context.Context, replyTo string, wait time.Duration) v1.ChatReplyPayload {
	env := c.mustReadUntil(parent, v1.TypeChatReply, replyTo, wait)
	var p v1.ChatReplyPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal chat.reply payload: %v", err)
	}
	return p
}

// mustReadUntil waits for wantType. Errors answering replyTo fail the run
// unless an error is what the caller waits for.
func (c *smokeClient) mustReadUntil(parent context.Context, wantType, replyTo string, wait time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				if replyTo == "" || ep.ReplyTo == replyTo {
					fatalf("server error: code=%q msg=%q needsAuth=%v", ep.Code, ep.Message, ep.NeedsAuth)
				}
			}
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
