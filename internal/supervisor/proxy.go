package supervisor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// proxyTimeout bounds a single proxied request (spec.md §5 "a single
// synchronous HTTP call to the internal port with a 30 s timeout").
const proxyTimeout = 30 * time.Second

func (s *Server) newProxy() *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: s.internalAddr}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{ResponseHeaderTimeout: proxyTimeout}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": fmt.Sprintf("Kernel unavailable: %s", err),
		})
	}
	return proxy
}

// proxyHandler fronts every path not otherwise claimed by the supervisor's
// own endpoints. While the kernel is checkpointed, every proxied path
// returns 503 with is_checkpointed (spec.md §4.3 proxy rule).
func (s *Server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	if s.checkpointed.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":           "kernel checkpointed",
			"is_checkpointed": true,
		})
		return
	}
	s.proxy.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
