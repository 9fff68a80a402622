package httpmw

import (
	"net/http"

	"github.com/keithlinneman/baseline-gate/internal/log"
	"github.com/keithlinneman/baseline-gate/internal/xerrors"
)

// Recover catches handler panics, logs them with a stack, serves a plain 500,
// and optionally notifies onPanic (metrics counter). http.ErrAbortHandler is
// re-raised so the server's connection abort semantics are preserved.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.WithStack(v)
				default:
					err = xerrors.Newf("panic: %v", v)
				}

				if L != nil {
					L.Error(r.Context(), err, "httpserver panic recovered",
						"http.request.method", r.Method,
						"url.path", r.URL.Path,
					)
				}
				if onPanic != nil {
					onPanic()
				}

				// headers may already be gone, best effort
				w.WriteHeader(http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
