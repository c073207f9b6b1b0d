/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

func registerProfileHandlers(mux *httprouter.Router) {
	mux.Handler("GET", "/pprof/allocs", pprof.Handler("allocs"))
	mux.Handler("GET", "/pprof/block", pprof.Handler("block"))
	mux.Handler("GET", "/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handler("GET", "/pprof/heap", pprof.Handler("heap"))
	mux.Handler("GET", "/pprof/mutex", pprof.Handler("mutex"))
	mux.Handler("GET", "/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.HandlerFunc("GET", "/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", "/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", "/pprof/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", "/pprof/trace", pprof.Trace)
}

// startProfiler serves pprof on localhost while the client runs.
func startProfiler(cfg *Config) {
	if !cfg.profile {
		return
	}

	mux := httprouter.New()
	registerProfileHandlers(mux)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.profilePort))
	go func() {
		logf(cfg, "PROFILE: Listening on http://%s/pprof/", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logf(cfg, "PROFILE: %v", err)
		}
	}()
}
