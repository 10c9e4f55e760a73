package api

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// PrivyMiddleware verifies the Privy access token on user-facing writes.
// Privy signs access tokens with ES256; the verification key is the app's
// public key from the Privy dashboard. When no key is configured the routes
// stay open, matching the original unauthenticated endpoint.
func PrivyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verificationKey := os.Getenv("PRIVY_VERIFICATION_KEY")
		if verificationKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		rawToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if rawToken == "" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}

		key, err := jwt.ParseECPublicKeyFromPEM([]byte(verificationKey))
		if err != nil {
			zap.S().Errorw("invalid privy verification key", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "server misconfigured"}`))
			return
		}

		token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		}, jwt.WithIssuer("privy.io"), jwt.WithAudience(os.Getenv("PRIVY_APP_ID")))
		if err != nil || !token.Valid {
			zap.S().Debugw("privy token rejected", "error", err)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
