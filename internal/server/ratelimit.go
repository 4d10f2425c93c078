// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package server

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

// rateLimit admits at most RequestsPerMinute requests per caller in any
// rolling minute. Public paths are not counted.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter.Limit() <= 0 || isPublic(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := callerOf(r)
		ok, wait := s.limiter.Allow(key)
		if !ok {
			s.metrics.ObserveRateLimited("inbound")
			slog.Warn("inbound rate limit exceeded", "caller", key, "path", r.URL.Path, "retry_after", wait)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, omnierr.New(omnierr.CodeServerRateLimited,
				fmt.Sprintf("rate limit of %d requests per minute exceeded", s.limiter.Limit())))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port so one client opening many connections shares
// a single window. RealIP has already applied forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
