package api

import (
	"net/http"

	"github.com/google/uuid"
)

// requestIDMiddleware sets X-Request-ID on every response (reusing the
// client's own value if it sent one), so writeProblem can stamp a
// ProblemDetail.TraceID a client can quote back in a support request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}
