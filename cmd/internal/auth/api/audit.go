package authapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"invoicechat/cmd/security/token"
)

// Audit events go to the structured log under the "audit" group so they can be
// routed separately from request logs.

func (h *Handler) auditConnected(ctx context.Context, r *http.Request, tenantID string) {
	h.audit(ctx, r, "auth.connect.success", slog.String("tenant_id", tenantID))
}

func (h *Handler) auditConnectFailed(ctx context.Context, r *http.Request, reason string) {
	h.audit(ctx, r, "auth.connect.failed", slog.String("reason", reason))
}

func (h *Handler) auditRefresh(ctx context.Context, r *http.Request, refreshToken string, err error) {
	if err != nil {
		h.audit(ctx, r, "auth.refresh.failed", slog.String("fp", token.Fingerprint(refreshToken)), slog.Any("err", err))
		return
	}
	h.audit(ctx, r, "auth.refresh.success", slog.String("fp", token.Fingerprint(refreshToken)))
}

func (h *Handler) auditRateLimited(ctx context.Context, r *http.Request, route string) {
	h.audit(ctx, r, "auth.rate_limited", slog.String("route", route))
}

func (h *Handler) auditLogout(ctx context.Context, r *http.Request) {
	h.audit(ctx, r, "auth.logout")
}

func (h *Handler) audit(ctx context.Context, r *http.Request, action string, attrs ...slog.Attr) {
	if h == nil || h.log == nil {
		return
	}
	var ip net.IP
	ua := ""
	if r != nil {
		ip = clientIP(r, h.cfg.TrustProxy)
		ua = r.UserAgent()
	}
	base := []any{
		slog.String("action", action),
		slog.String("ip", ipString(ip)),
		slog.String("ua", ua),
	}
	for _, a := range attrs {
		base = append(base, a)
	}
	h.log.LogAttrs(ctx, slog.LevelInfo, "audit", slog.Group("audit", base...))
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
