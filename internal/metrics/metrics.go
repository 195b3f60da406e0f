package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RouteDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skytrack", Name: "route_decisions_total", Help: "Session middleware decisions by route class",
	}, []string{"class", "action"})
	SessionRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skytrack", Name: "session_refreshes_total", Help: "Session refresh attempts",
	}, []string{"outcome"})
	AuthCallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skytrack", Name: "auth_callbacks_total", Help: "Code-exchange callback results",
	}, []string{"outcome"})
	ProfileProvisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skytrack", Name: "profile_provisions_total", Help: "Dashboard profile provisioning outcomes",
	}, []string{"outcome"})
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skytrack", Name: "webhook_events_total", Help: "Stripe webhook events",
	}, []string{"type", "outcome"})
	OCRRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "skytrack", Name: "ocr_request_seconds", Help: "OCR backend latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"outcome"})
	DocumentsRequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skytrack", Name: "documents_requeued_total", Help: "Stale documents sent back to the OCR queue",
	}, []string{"from_status"})
	PushAuth = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skytrack", Name: "pubsub_push_auth_total", Help: "Pub/Sub push authentication outcomes",
	}, []string{"outcome"})
	HTTPRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "skytrack", Name: "http_request_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skytrack", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(RouteDecisions, SessionRefreshes, AuthCallbacks, ProfileProvisions,
		WebhookEvents, OCRRequests, DocumentsRequeued, PushAuth, HTTPRequests, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }
