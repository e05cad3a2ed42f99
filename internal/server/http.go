package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aethersync/aethersync/internal/core/observability/log"
)

// newAdminMux serves the non-socket HTTP surface: health probing and startup
// diagnostics.
func newAdminMux(startedAt time.Time) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/startup-info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"startupTime": startedAt.Format(time.RFC3339)})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// corsMiddleware applies the configured allowed origin to every response and
// answers preflight requests.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per HTTP request.
func requestLogger(logger log.Log, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		logger.Debug("HTTP request",
			log.String("method", r.Method),
			log.String("url", r.URL.Path),
			log.String("remote_addr", r.RemoteAddr))
	})
}
