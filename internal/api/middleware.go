// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth requires a static bearer token on every request. The digest
// comparison is constant-time and length-independent.
func bearerAuth(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			gotSum := sha256.Sum256([]byte(got))
			if subtle.ConstantTimeCompare(want[:], gotSum[:]) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeaders sets conservative defaults for an operator API.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
