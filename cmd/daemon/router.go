// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
)

// newRouter builds the ops surface: liveness, readiness, metrics and
// presigned object downloads.
func newRouter(st *store.DB, rdb redis.Cmdable, objects *storage.FSStore, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"store": "ok", "redis": "ok"}
		status := http.StatusOK
		if err := st.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, checks)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Presigned download: /objects/{bucket}/{logical path}?expires=...&signature=...
	r.Get("/objects/*", func(w http.ResponseWriter, req *http.Request) {
		logicalPath := strings.TrimPrefix(chi.URLParam(req, "*"), objects.Bucket+"/")
		expires, err := strconv.ParseInt(req.URL.Query().Get("expires"), 10, 64)
		if err != nil {
			http.Error(w, "missing or invalid expires", http.StatusBadRequest)
			return
		}
		signature := req.URL.Query().Get("signature")
		if !objects.VerifyPresign(logicalPath, expires, signature) {
			http.Error(w, "invalid or expired signature", http.StatusForbidden)
			return
		}
		data, err := objects.GetBytes(req.Context(), logicalPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", logicalPath).Msg("object download failed")
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
