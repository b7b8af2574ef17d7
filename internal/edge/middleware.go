package edge

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/agenticode/agenticoded/internal/apierr"
)

// authMiddleware accepts the internal key as a Bearer token or as the
// internalKey/token query parameter (the latter so WebSocket clients,
// which cannot set arbitrary headers from a browser, can authenticate the
// same way). Grounded on the teacher's authMiddleware Bearer+cookie check,
// generalised to also accept a query parameter for the WS endpoints.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.InternalAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if authorized(r, s.cfg.InternalAPIKey) {
			next.ServeHTTP(w, r)
			return
		}
		apierr.WriteUnauthorized(w, "missing or invalid internal API key")
	})
}

func authorized(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	if token := strings.TrimPrefix(auth, "Bearer "); token != auth && token == key {
		return true
	}
	if q := r.URL.Query().Get("internalKey"); q != "" && q == key {
		return true
	}
	if q := r.URL.Query().Get("token"); q != "" && q == key {
		return true
	}
	return false
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from panic")
				apierr.Write(w, apierr.New(apierr.InternalError, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
