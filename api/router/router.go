package router

import (
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/httpapi"
)

// Deps are the handlers mounted by NewRouter.
type Deps struct {
	Handlers *httpapi.Handlers
	Webhook  http.Handler
	Logger   *slog.Logger
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// NewRouter returns the central HTTP router for the API using the grpc-gateway mux.
func NewRouter(d Deps) http.Handler {
	mux := runtime.NewServeMux()
	h := d.Handlers
	metricsHandler := promhttp.Handler()

	routes := []route{
		{"POST", "/api/stripe/webhook", func(w http.ResponseWriter, r *http.Request, _ map[string]string) { d.Webhook.ServeHTTP(w, r) }},
		{"POST", "/api/me/sync", runtime.HandlerFunc(h.Authenticated(false, h.SyncSelf))},
		{"POST", "/api/me/checkout/confirm", runtime.HandlerFunc(h.Authenticated(false, h.ConfirmCheckout))},
		{"GET", "/api/me/entitlements", runtime.HandlerFunc(h.Authenticated(false, h.Entitlements))},
		{"POST", "/api/admin/users/{user_id}/sync", runtime.HandlerFunc(h.Authenticated(true, h.AdminSyncUser))},
		{"GET", "/api/admin/users/{user_id}/subscriptions", runtime.HandlerFunc(h.Authenticated(true, h.AdminListSubscriptions))},
		{"POST", "/api/admin/sync-all", runtime.HandlerFunc(h.Authenticated(true, h.AdminSyncAll))},
		{"GET", "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("ok"))
		}},
		{"GET", "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) { metricsHandler.ServeHTTP(w, r) }},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			d.Logger.Error("failed to register route", "method", rt.method, "pattern", rt.pattern, "err", err)
		}
	}
	return mux
}
