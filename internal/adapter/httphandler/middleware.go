package httphandler

import (
	"mime"
	"net/http"
	"slices"
)

// AllowMediaTypes rejects requests with a body whose media type is not
// one of types. Bodiless requests pass through.
func AllowMediaTypes(types ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hf := func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || !slices.Contains(types, mt) {
				http.Error(w, "invalid media type", http.StatusUnsupportedMediaType)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hf)
	}
}

func AllowJSON(next http.Handler) http.Handler {
	return AllowMediaTypes(mediaJSON)(next)
}
