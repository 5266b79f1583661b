package i18n

import "net/http"

// Middleware injects the localizer for the given language into every request
// context. A per-request Accept-Language override takes precedence.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested := lang
			if al := r.Header.Get("Accept-Language"); al != "" {
				requested = al
			}
			ctx := WithLocalizer(r.Context(), NewLocalizer(requested))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
