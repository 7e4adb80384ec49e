package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matst80/ws2s/internal/obs"
	"github.com/matst80/ws2s/internal/ratelimit"
	"github.com/matst80/ws2s/internal/relay"
	"github.com/matst80/ws2s/internal/web"
)

// newMetricsMux serves Prometheus metrics plus lightweight dashboard & state endpoints.
func newMetricsMux(store relay.Store, limiter *ratelimit.Limiter, instance string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		st, err := collectStats(r.Context(), store)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(st)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		st, err := collectStats(r.Context(), store)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		data := st.ToTemplateMap()
		data["Instance"] = instance
		data["PeerSessions"], data["PeerCommands"] = limiter.Peers()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := web.Render(w, "dashboard", data); err != nil {
			obs.Error("dashboard.render", obs.Fields{"err": err.Error()})
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if store.Closing() || !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

func collectStats(ctx context.Context, store relay.Store) (relay.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	st, err := store.Stats(ctx)
	if err != nil {
		obs.Error("stats.collect", obs.Fields{"err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("stats").Inc()
	}
	return st, err
}
