// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

type callerKey struct{}

// tokenAuth checks bearer tokens against the SHA-256 digest of a shared
// secret. Only the digest is kept in memory.
type tokenAuth struct {
	digest [sha256.Size]byte
	set    bool
}

func newTokenAuth(secret string) *tokenAuth {
	if secret == "" {
		return &tokenAuth{}
	}
	return &tokenAuth{digest: sha256.Sum256([]byte(secret)), set: true}
}

func (a *tokenAuth) enabled() bool { return a.set }

// verify reports whether token matches the secret, and the caller
// identity derived from it.
func (a *tokenAuth) verify(token string) (string, bool) {
	candidate := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(a.digest[:], candidate[:]) != 1 {
		return "", false
	}
	return "token:" + hex.EncodeToString(candidate[:8]), true
}

// isPublic lists paths served without a token and without inbound limits.
func isPublic(path string) bool {
	switch path {
	case "/api/health", "/metrics", "/openapi.json", "/openapi.yaml", "/docs":
		return true
	}
	return strings.HasPrefix(path, "/schemas/") || strings.HasPrefix(path, "/openapi-")
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		token, ok = strings.CutPrefix(h, "bearer ")
	}
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.enabled() || isPublic(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, omnierr.New(omnierr.CodeServerAuthUnauthorized, "missing bearer token"))
			return
		}
		caller, ok := s.auth.verify(token)
		if !ok {
			slog.Debug("rejected request with invalid token", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, omnierr.New(omnierr.CodeServerAuthUnauthorized, "invalid token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// callerOf returns the rate-limit key for r: the token identity when
// authenticated, otherwise the client IP.
func callerOf(r *http.Request) string {
	if c, ok := r.Context().Value(callerKey{}).(string); ok {
		return c
	}
	return "ip:" + clientIP(r)
}
