// internal/adapters/in/http/middleware/recover.go
package middleware

import (
	"context"
	"log"
	"net/http"
	"runtime/debug"
)

var ctxKeyPanicSlot = ctxKey{name: "panicSlot"}

// panicSlot lets the auth layer, which runs inside Recover, report the
// session id back out for the panic log.
type panicSlot struct{ sessionID string }

// Recover turns a panicking cart handler into a 500 and logs the method,
// path and session it happened on. CORS headers come from the outer layer.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slot := &panicSlot{}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// net/http uses this sentinel to abort a response on purpose
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Printf("[cart_http] panic method=%s path=%q sessionId=%q: %v\n%s",
				r.Method, r.URL.Path, slot.sessionID, rec, debug.Stack())
			writeAuthErr(w, http.StatusInternalServerError, "cart request failed")
		}()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPanicSlot, slot)))
	})
}
