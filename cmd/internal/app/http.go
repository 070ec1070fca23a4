package app

import (
	"context"
	"net/http"
	"time"

	authapi "invoicechat/cmd/internal/auth/api"
	chatapi "invoicechat/cmd/internal/chat/api"
	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/metrics"
	"invoicechat/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

type routes struct {
	auth *authapi.Handler
	chat *chatapi.Handler
	ws   *realtime.WSGateway
}

type readiness struct {
	pool     *pgxpool.Pool
	store    credential.Store
	provider bool
	model    bool
}

func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, rt routes, ready readiness) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if reason := ready.check(r.Context(), cfg); reason != "" {
			log.Info("readyz.not_ready", "reason", reason)
			http.Error(w, reason, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", metrics.Handler())

	if rt.auth != nil {
		rt.auth.Register(mux)
	} else {
		unavailable(mux, "provider_not_configured", "/auth/")
	}

	if rt.chat != nil {
		rt.chat.Register(mux)
	} else {
		unavailable(mux, "chat_not_configured", "/chat", "/invoices", "/invoices/")
	}

	if rt.ws != nil {
		mux.Handle("/ws/chat", rt.ws)
	} else {
		unavailable(mux, "chat_not_configured", "/ws/chat")
	}
}

// check returns "" when the process can serve traffic, otherwise a reason.
func (r readiness) check(ctx context.Context, cfg Config) string {
	if cfg.ReadinessRequireDB && r.pool == nil {
		return "db not configured"
	}
	if r.pool != nil {
		if err := PingDB(ctx, r.pool, 2*time.Second); err != nil {
			return "db not ready"
		}
	}
	if !r.provider {
		return "provider not configured"
	}
	if !r.model {
		return "model not configured"
	}
	if r.store != nil {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := r.store.Get(sctx); err != nil {
			return "credential store not ready"
		}
	}
	return ""
}

func unavailable(mux *http.ServeMux, code string, patterns ...string) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"service not configured"}}` + "\n"))
	})
	for _, p := range patterns {
		mux.Handle(p, h)
	}
}
