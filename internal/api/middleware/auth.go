package middleware

import (
	"crypto/subtle"
	"net/http"

	"riskwatch/pkg/crypto"
)

// BasicAuth защищает операторский API HTTP Basic аутентификацией.
//
// Пароль сверяется с bcrypt хешем (ADMIN_PASSWORD_HASH), имя пользователя -
// constant-time сравнением. Пустые username или hash отключают проверку.
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.BasicAuth(cfg.Security.AdminUsername, cfg.Security.AdminPasswordHash))
func BasicAuth(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if username == "" || passwordHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passMatch := crypto.CheckPasswordMatch(pass, passwordHash)
			if !userMatch || !passMatch {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="riskwatch"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
