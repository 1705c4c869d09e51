package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"docsync/pkg/logger"
)

type contextKey string

const UserIDKey contextKey = "userID"

var ErrNoToken = errors.New("no token provided")

// TokenFromRequest extracts the bearer credential. Browsers cannot set headers on a
// WebSocket handshake, so the query string is checked first.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// ParseToken validates an HS256 token and returns the user id it identifies. The id
// is read from the "user_id" claim and falls back to "sub".
func ParseToken(tokenString string, secret []byte) (string, error) {
	if tokenString == "" {
		return "", ErrNoToken
	}
	if len(secret) == 0 {
		return "", errors.New("server is not configured to validate JWTs")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("could not parse token claims")
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", errors.New("user id claim is missing or invalid")
}

func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := ParseToken(TokenFromRequest(r), secret)
			if errors.Is(err, ErrNoToken) {
				http.Error(w, "Unauthorized: No token provided", http.StatusUnauthorized)
				return
			}
			if err != nil {
				logger.Sugar.Warnf("Invalid token: %v", err)
				http.Error(w, "Unauthorized: Invalid or expired token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated user id stored by AuthMiddleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}
