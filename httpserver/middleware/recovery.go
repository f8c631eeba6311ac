package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/pure-golang/bulkmail/logger"
)

// Recovery turns a handler panic into a 500 response and an error log with the stack.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}

			var stack []string
			for _, line := range strings.Split(string(debug.Stack()), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					stack = append(stack, line)
				}
			}

			logger.FromContext(r.Context()).Error("panic recovered from handler",
				"panic", p,
				"stack", stack,
			)
			w.WriteHeader(http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}
