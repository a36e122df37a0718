// Package middleware provides the HTTP middleware stack: bridge
// shared-secret auth, end-user JWT auth, rate limiting, request
// logging and panic recovery.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
)

// SecretHeader carries the bridge shared secret.
const SecretHeader = "X-Bridge-Secret"

// SecretAuth guards the RPC bridge endpoint with a shared secret.
// Multiple secrets may be active at once so rotation never breaks
// in-flight sandboxes holding the previous value.
func SecretAuth(secrets []string, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	active := make([][]byte, 0, len(secrets))
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			active = append(active, []byte(s))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(SecretHeader)
			if presented == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if presented == "" {
				onError(w, r, platformerrors.Unauthorized("bridge secret required"))
				return
			}
			for _, secret := range active {
				if subtle.ConstantTimeCompare([]byte(presented), secret) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			onError(w, r, platformerrors.Unauthorized("invalid bridge secret"))
		})
	}
}

// AdminAuth guards the lifecycle admin endpoints with bearer tokens.
func AdminAuth(tokens []string, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	active := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			active = append(active, []byte(t))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				onError(w, r, platformerrors.Unauthorized("admin token required"))
				return
			}
			presented := []byte(strings.TrimPrefix(auth, "Bearer "))
			for _, token := range active {
				if subtle.ConstantTimeCompare(presented, token) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			onError(w, r, platformerrors.Unauthorized("invalid admin token"))
		})
	}
}
