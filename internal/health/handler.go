package health

import (
	"net/http"
)

// HealthzHandler serves a liveness endpoint backed by the given probe.
// A nil probe is treated as healthy.
func HealthzHandler(p Probe) http.HandlerFunc {
	return probeHandler(p)
}

// ReadyzHandler serves a readiness endpoint backed by the given probe.
// A nil probe is treated as ready.
func ReadyzHandler(p Probe) http.HandlerFunc {
	return probeHandler(p)
}

func probeHandler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")

		if p == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok\n"))
			return
		}

		if err := p.Check(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(err.Error() + "\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	}
}
