package api

import "net/http"

// MaxBodySize returns middleware that limits request body size.
//
// Requests with a Content-Length above the limit are rejected with 413 before
// the handler runs. All bodies are additionally wrapped with
// http.MaxBytesReader, which catches chunked transfers and missing or lying
// Content-Length headers during decode.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				if HasState(r.Context()) {
					SetError(r, ErrPayloadTooLarge.With("Request body too large"))
				} else {
					http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				}
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
