package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
)

// authMiddleware guards the API routes with a static Bearer token. An empty
// apiKey disables the guard entirely; the server logs one startup warning in
// that case rather than one per request.
//
// Clients authenticate with:
//
//	Authorization: Bearer <apiKey>
//
// Failures get 401 plus a WWW-Authenticate challenge. Presented token values
// never reach the log.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		switch {
		case token == "":
			log.Warn("auth: request without bearer token", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentflow"`)
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			log.Warn("auth: token rejected", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentflow" error="invalid_token"`)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken pulls the credential out of an Authorization header. The
// scheme comparison is case-insensitive; anything other than a two-part
// Bearer header yields "".
func bearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
		return ""
	}
	return fields[1]
}
