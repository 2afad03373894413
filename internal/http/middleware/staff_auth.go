package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

// StaffClaims carries the acting staff member's role alongside the standard
// JWT claims. Subject is the actor's id.
type StaffClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// StaffJWT enforces an HMAC-signed JWT on staff endpoints and stores the
// claims on the request context.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "staff auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := StaffClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if claims.Role == "" {
				http.Error(w, "token carries no role", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), staffClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffClaimsFromContext returns staff JWT claims if present.
func StaffClaimsFromContext(ctx context.Context) (StaffClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(StaffClaims)
	return claims, ok
}
