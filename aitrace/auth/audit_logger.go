package auth

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func clientIp(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); len(ip) > 0 {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); len(ip) > 0 {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if len(r.RemoteAddr) > 0 {
		return r.RemoteAddr
	}
	return "unknown"
}

func pathParams(r *http.Request) []interface{} {
	params := make([]interface{}, 0)

	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}

	for i := range rctx.URLParams.Keys {
		if rctx.URLParams.Keys[i] != "*" {
			params = append(params, slog.String(rctx.URLParams.Keys[i], rctx.URLParams.Values[i]))
		}
	}

	return params
}

func queryParams(r *http.Request) []interface{} {
	params := make([]interface{}, 0)
	for k, v := range r.URL.Query() {
		params = append(params, slog.String(k, strings.Join(v, ";")))
	}
	return params
}

// AuditLogger writes one json line per authenticated request.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(stream io.Writer) AuditLogger {
	return AuditLogger{logger: slog.New(slog.NewJSONHandler(stream, nil))}
}

func (log *AuditLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := UserFromContext(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		args := []interface{}{
			"user_id", user.Id,
			"team_id", user.TeamId,
			"client_ip", clientIp(r),
			"method", r.Method,
			"url", r.URL.Path,
		}
		if key, ok := APIKeyFromContext(r); ok {
			args = append(args, "api_key_id", key.Id)
		}

		// path params are only known once chi has routed the request
		next.ServeHTTP(w, r)

		args = append(args, slog.Group("path_params", pathParams(r)...), slog.Group("query_params", queryParams(r)...))
		log.logger.Info("", args...)
	})
}
