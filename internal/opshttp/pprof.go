package opshttp

import (
	"net/http"
	"net/http/pprof"
)

// RegisterPprof attaches the standard pprof handlers to the given mux.
// Registered explicitly rather than importing net/http/pprof for side effects,
// which would mutate http.DefaultServeMux and leak the handlers onto any
// server that uses it.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
