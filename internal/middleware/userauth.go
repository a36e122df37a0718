package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/sandbox"
)

type contextKey string

const authContextKey contextKey = "app_platform.auth"

// AuthFromContext returns the verified end-user identity, or nil for
// an anonymous request.
func AuthFromContext(ctx context.Context) *sandbox.Auth {
	auth, _ := ctx.Value(authContextKey).(*sandbox.Auth)
	return auth
}

// WithAuth stamps an identity onto a context. Exported for tests.
func WithAuth(ctx context.Context, auth *sandbox.Auth) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// UserAuth verifies an optional end-user session JWT. A missing token
// leaves the request anonymous; an invalid token is rejected so a
// forged session never downgrades silently to anonymous.
func UserAuth(secret string, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			if secret == "" {
				onError(w, r, platformerrors.Unauthorized("user sessions are not configured"))
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
			if err != nil || !token.Valid {
				onError(w, r, platformerrors.Unauthorized("invalid session token"))
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				onError(w, r, platformerrors.Unauthorized("session token has no subject"))
				return
			}

			auth := &sandbox.Auth{UserID: subject, IsAuthenticated: true}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), auth)))
		})
	}
}

// RequireUser rejects anonymous requests. Applied to app routes whose
// manifest declares auth: true.
func RequireUser(ctx context.Context) (*sandbox.Auth, error) {
	auth := AuthFromContext(ctx)
	if auth == nil || !auth.IsAuthenticated {
		return nil, platformerrors.Unauthorized("route requires an authenticated user")
	}
	return auth, nil
}
