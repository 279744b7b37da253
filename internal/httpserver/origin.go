package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/origin"
)

func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	policy := origin.Policy{Allowed: s.cfg.AllowedOrigins}
	return func(w http.ResponseWriter, r *http.Request) {
		normalizedOrigin, ok := policy.Check(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if normalizedOrigin == "" {
			next(w, r)
			return
		}

		// CORS headers are only meaningful to browsers, which always send Origin.
		w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
