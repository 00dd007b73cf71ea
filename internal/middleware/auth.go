// Package middleware содержит HTTP middleware сервиса заказов.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mmeshcher/marketplace-orders/internal/model"
)

type contextKey string

const partyKey contextKey = "party"

const (
	authCookieName = "auth_token"
	bearerPrefix   = "Bearer "
)

var errInvalidToken = errors.New("invalid token")

// Claims описывает утверждения токена доступа. sub содержит идентификатор пользователя.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет JWT, выданный сервисом пользователей, и кладёт участника в контекст.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретом HS256.
// Без секрета генерируется случайный ключ, и принимаются только токены, выпущенные этим процессом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware извлекает токен из заголовка Authorization или cookie и добавляет участника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			unauthorized(w, "authentication required")
			return
		}

		party, err := a.ParseToken(token)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithParty(r.Context(), party)))
	})
}

// RequireRole пропускает только участников с одной из указанных ролей.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			party, ok := GetPartyFromContext(r.Context())
			if !ok {
				unauthorized(w, "authentication required")
				return
			}
			for _, role := range roles {
				if party.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
		})
	}
}

// IssueToken выпускает токен для пользователя. Используется в тестах и служебных утилитах.
func (a *AuthMiddleware) IssueToken(userID string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

// ParseToken проверяет подпись и срок действия токена и возвращает участника.
func (a *AuthMiddleware) ParseToken(tokenString string) (model.Party, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return a.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Party{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return model.Party{}, errInvalidToken
	}

	role := model.Role(claims.Role)
	switch role {
	case model.RoleClient, model.RoleProvider, model.RoleAdmin:
	default:
		return model.Party{}, fmt.Errorf("%w: unknown role %q", errInvalidToken, claims.Role)
	}
	return model.Party{UserID: claims.Subject, Role: role}, nil
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, "unauthenticated", message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// WithParty кладёт участника в контекст.
func WithParty(ctx context.Context, p model.Party) context.Context {
	return context.WithValue(ctx, partyKey, p)
}

// GetPartyFromContext извлекает участника из контекста запроса.
func GetPartyFromContext(ctx context.Context) (model.Party, bool) {
	p, ok := ctx.Value(partyKey).(model.Party)
	return p, ok
}
