// Package middleware содержит HTTP middleware движка вознаграждений.
package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// AuthMiddleware проверяет служебный токен для защищённых эндпоинтов:
// запуск крон-задач и управление купонами доступны только планировщику
// и административным инструментам.
type AuthMiddleware struct {
	token []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным токеном.
// Пустой токен закрывает защищённые эндпоинты полностью.
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: []byte(token)}
}

// Middleware сверяет токен из заголовка Authorization с настроенным.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.token) == 0 {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		presented := tokenFromRequest(r)
		if presented == "" || !hmac.Equal([]byte(presented), a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func tokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.Header.Get("X-Service-Token")
}
