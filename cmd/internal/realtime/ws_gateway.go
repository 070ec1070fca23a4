package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"invoicechat/cmd/internal/chat"
	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/gateway"
	v1 "invoicechat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 5 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// DefaultAllowedOrigins only admits local development frontends.
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// Runner runs one chat turn. *chat.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, b credential.Bundle, req chat.Request) (chat.Turn, error)
}

// Config tunes the websocket gateway. Zero fields take defaults.
type Config struct {
	// OriginRequired rejects upgrades without an Origin header.
	OriginRequired bool
	AllowedOrigins []string
	// DevInsecure disables the library's own origin check. Never set in production.
	DevInsecure bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	TurnTimeout time.Duration
}

// DefaultConfig returns the secure defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   true,
		AllowedOrigins:   DefaultAllowedOrigins,
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
		TurnTimeout:      turnTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = def.AllowedOrigins
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = def.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = def.TurnTimeout
	}
	return c
}

// WSGateway is the websocket entrypoint for chat turns.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// and runs at most one turn per connection at a time.
type WSGateway struct {
	log    *slog.Logger
	hub    *Hub
	runner Runner
	cfg    Config

	// Derived for websocket.Accept, which only authorizes cross-origin hosts
	// listed in OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway. A nil hub gets a private one.
func NewWSGateway(log *slog.Logger, runner Runner, hub *Hub, cfg Config) (*WSGateway, error) {
	if runner == nil {
		return nil, errors.New("realtime: nil runner")
	}
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	cfg = cfg.withDefaults()
	return &WSGateway{
		log:            log,
		hub:            hub,
		runner:         runner,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}, nil
}

// Hub returns the session registry.
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// session is the per-connection state shared by the loop goroutines.
type session struct {
	client *Client
	conn   *websocket.Conn
	busy   chan struct{}
	turns  sync.WaitGroup
}

// HandleWS upgrades an HTTP request to a websocket session and runs the read loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	s := &session{
		client: NewClient(sessionID, r.Header.Get("Origin"), g.cfg.SendQueueSize),
		conn:   conn,
		busy:   make(chan struct{}, 1),
	}
	g.hub.add(s.client)
	defer g.hub.remove(sessionID)
	g.log.Info("ws.connect", "session_id", sessionID, "remote", r.RemoteAddr, "origin", s.client.Origin)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			s.client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.client.Done():
				// Hub.CloseAll during server shutdown.
				shutdown(websocket.StatusGoingAway, "server shutting down")
				return
			case env := <-s.client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "idle")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, s.client, "", "bad_json", "invalid JSON", false)
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			msg := fmt.Sprintf("too many events, retry in %s", rl.RetryAfter(now).Round(time.Second))
			g.trySendError(ctx, s.client, env.ID, "rate_limited", msg, false)
			continue readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, s.client, env.ID, "bad_envelope", err.Error(), false)
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, s.client); err != nil {
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeChatSend:
			if err := g.onChatSend(ctx, s, env); err != nil {
				g.trySendError(ctx, s.client, env.ID, "send_failed", err.Error(), false)
				continue readLoop
			}

		default:
			g.trySendError(ctx, s.client, env.ID, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type), false)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	s.turns.Wait()
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.disconnect", "session_id", sessionID, "duration_ms", time.Since(s.client.ConnectedAt).Milliseconds())
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client) error {
	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: client.SessionID})
	if !client.Offer(ctx, g.newEnvelope(v1.TypeHelloAck, ackPayload)) {
		return errors.New("backpressure: hello.ack")
	}
	return nil
}

// onChatSend validates the payload and starts the turn in the background so the
// read loop keeps servicing control frames (pongs) while the model runs.
func (g *WSGateway) onChatSend(ctx context.Context, s *session, env v1.Envelope) error {
	var p v1.ChatSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	text := strings.TrimSpace(p.Message)
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}
	if len(p.History) > maxHistoryMessages {
		p.History = p.History[len(p.History)-maxHistoryMessages:]
	}

	select {
	case s.busy <- struct{}{}:
	default:
		g.trySendError(ctx, s.client, env.ID, "busy", "a turn is already running", false)
		return nil
	}

	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		defer func() { <-s.busy }()

		turnCtx, cancel := context.WithTimeout(ctx, g.cfg.TurnTimeout)
		defer cancel()

		turn, err := g.runner.Run(turnCtx, bundleFromPayload(p), chat.Request{Message: text, History: historyFromPayload(p.History)})
		if err != nil {
			code, msg, needsAuth := turnFailure(err)
			g.log.Info("ws.turn.fail", "session_id", s.client.SessionID, "code", code, "err", err)
			g.trySendError(ctx, s.client, env.ID, code, msg, needsAuth)
			return
		}
		reply, err := replyPayload(env.ID, turn)
		if err != nil {
			g.trySendError(ctx, s.client, env.ID, "internal", "could not encode reply", false)
			return
		}
		if !s.client.Offer(ctx, g.newEnvelope(v1.TypeChatReply, reply)) {
			g.log.Info("ws.reply.drop", "session_id", s.client.SessionID, "reply_to", env.ID)
		}
	}()
	return nil
}

func bundleFromPayload(p v1.ChatSendPayload) credential.Bundle {
	b := credential.Bundle{
		AccessToken:  strings.TrimSpace(p.AccessToken),
		RefreshToken: strings.TrimSpace(p.RefreshToken),
		TenantID:     strings.TrimSpace(p.TenantID),
	}
	if b.TenantID == "" {
		b.TenantID = strings.TrimSpace(p.RealmID)
	}
	if p.ExpiresAt != nil && *p.ExpiresAt > 0 {
		b.ExpiresAt = time.UnixMilli(*p.ExpiresAt).UTC()
	}
	return b
}

func historyFromPayload(in []v1.HistoryMessage) []chat.Message {
	out := make([]chat.Message, 0, len(in))
	for _, m := range in {
		out = append(out, chat.Message{Role: chat.Role(m.Role), Content: m.Content})
	}
	return out
}

func replyPayload(replyTo string, turn chat.Turn) (json.RawMessage, error) {
	tools, err := json.Marshal(turn.ToolResults)
	if err != nil {
		return nil, err
	}
	invoices, err := json.Marshal(turn.Invoices)
	if err != nil {
		return nil, err
	}
	p := v1.ChatReplyPayload{
		ReplyTo:     replyTo,
		Text:        turn.Text,
		ToolResults: tools,
		Invoices:    invoices,
		HasInvoices: turn.HasInvoices,
	}
	if turn.Credentials != nil {
		if p.Credentials, err = json.Marshal(turn.Credentials); err != nil {
			return nil, err
		}
	}
	return json.Marshal(p)
}

func turnFailure(err error) (code, msg string, needsAuth bool) {
	switch {
	case errors.Is(err, chat.ErrMissingCredentials):
		return "missing_credentials", "Missing accounting authentication tokens", false
	case errors.Is(err, chat.ErrEmptyMessage):
		return "empty_message", "message is required", false
	case errors.Is(err, gateway.ErrAuthenticationFailed):
		return "auth_failed", "Your accounting connection expired. Please reconnect.", true
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", "the turn took too long", false
	default:
		return "chat_failed", "Failed to generate response", false
	}
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, replyTo, code, msg string, needsAuth bool) {
	p, _ := json.Marshal(v1.ErrorPayload{ReplyTo: replyTo, Code: code, Message: msg, NeedsAuth: needsAuth})
	_ = client.Offer(ctx, g.newEnvelope(v1.TypeError, p))
}

// ---- envelope IO ----

func (g *WSGateway) newEnvelope(typ string, payload json.RawMessage) v1.Envelope {
	now := time.Now().UTC()
	id, err := NewEnvelopeID(now)
	if err != nil {
		g.log.Warn("ws.envelope_id.fail", "err", err)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &typ) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "*" {
			return []string{"*"}
		}
		if h == "" {
			continue
		}
		// Patterns match against host:port, so admit any port as the origin check does.
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
