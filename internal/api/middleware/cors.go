package middleware

import (
	"net/http"
	"strings"
)

// CORS настраивает Cross-Origin заголовки для дашборда.
//
// allowed - список origin через запятую; "*" разрешает любой origin без credentials.
// Запросы без Origin (curl, скрипты) проходят с Access-Control-Allow-Origin: *.
// Для неразрешённых origin заголовки не ставятся, браузер заблокирует ответ.
func CORS(allowed string) func(http.Handler) http.Handler {
	origins := make(map[string]bool)
	allowAll := strings.TrimSpace(allowed) == "*"
	for _, origin := range strings.Split(allowed, ",") {
		if origin = strings.TrimSpace(origin); origin != "" && origin != "*" {
			origins[origin] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case origin == "" || allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origins[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
