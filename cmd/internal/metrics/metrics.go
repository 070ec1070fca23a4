// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invoicechat"

var (
	// CredentialRefreshes counts token exchanges by outcome (ok, fail, shared, reused).
	CredentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_refresh_total",
		Help:      "Credential refresh attempts by outcome.",
	}, []string{"outcome"})

	// GatewayCalls counts outbound resource-server calls by final outcome.
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_calls_total",
		Help:      "Authenticated gateway calls by outcome.",
	}, []string{"outcome"})

	// GatewayLatency observes outbound call latency including retries.
	GatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_call_seconds",
		Help:      "Authenticated gateway call latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// ToolCalls counts tool invocations by tool and result kind.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations by name and result.",
	}, []string{"tool", "result"})

	// ChatSteps observes how many model steps a turn used.
	ChatSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chat_steps",
		Help:      "Model steps per chat turn.",
		Buckets:   []float64{1, 2, 3, 4, 5, 8},
	})

	// WSSessions is the number of open /ws/chat sessions.
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_sessions",
		Help:      "Open websocket chat sessions.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
